package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIURL               string `json:"api_url"`
	WSURL                string `json:"ws_url"`
	DataDir              string `json:"data_dir"`
	LogLevel             string `json:"log_level"`
	HTTPTimeoutSeconds   int    `json:"http_timeout_seconds"`
	MaxInflightUploads   int    `json:"max_inflight_uploads"`
	KeepUploadingOnError bool   `json:"keep_uploading_on_error"`
	MaxQueryTokens       int    `json:"max_query_tokens"`
	TokenizerModel       string `json:"tokenizer_model"`
	DigestSchedule       string `json:"digest_schedule"`
	Reconnect            struct {
		MaxAttempts    int     `json:"max_attempts"`
		InitialDelayMS int     `json:"initial_delay_ms"`
		MaxDelayMS     int     `json:"max_delay_ms"`
		Multiplier     float64 `json:"multiplier"`
	} `json:"reconnect"`
	Auth struct {
		Token string `json:"token" config:"secret"`
	} `json:"auth"`
	Wallet struct {
		Address       string `json:"address"`
		SignerCommand string `json:"signer_command"`
	} `json:"wallet"`
	Telegram struct {
		Token  string `json:"token" config:"secret"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
	Metrics struct {
		Listen string `json:"listen"`
	} `json:"metrics"`
}

// DefaultPath is ~/.docchat/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".docchat", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		APIURL:             "http://localhost:8000",
		WSURL:              "ws://localhost:8000",
		DataDir:            filepath.Join(os.Getenv("HOME"), ".docchat"),
		LogLevel:           "info",
		HTTPTimeoutSeconds: 120,
		MaxInflightUploads: 2,
		MaxQueryTokens:     0,
		TokenizerModel:     "gpt-3.5-turbo",
	}
	cfg.Reconnect.MaxAttempts = 5
	cfg.Reconnect.InitialDelayMS = 1000
	cfg.Reconnect.MaxDelayMS = 30000
	cfg.Reconnect.Multiplier = 2.0
	return cfg
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the environment without overriding variables already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		if cfg, err = readFile(path); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if v := os.Getenv("DOCCHAT_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("DOCCHAT_WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv("DOCCHAT_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("DOCCHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the endpoints and log level.
func (c *Config) Validate() error {
	if err := checkURL("api_url", c.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("ws_url", c.WSURL, "ws", "wss"); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Reconnect.Multiplier != 0 && c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be >= 1, got %v", c.Reconnect.Multiplier)
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: want %s URL", key, raw, strings.Join(schemes, " or "))
}

// HTTPTimeout is the per-request timeout for backend calls.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// CredentialPath is where the stored wallet credential lives.
func (c *Config) CredentialPath() string {
	return filepath.Join(c.DataDir, "credential.json")
}

// HistoryPath is the upload history log.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.jsonl")
}

// Save writes cfg to path atomically (temp file + rename).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// readFile decodes the file at path over the defaults, without env
// overrides or validation.
func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ListValues returns every setting keyed by its dotted path, optionally
// with secrets masked.
func ListValues(cfg *Config, mask bool) map[string]any {
	out := make(map[string]any, len(settings))
	for _, s := range settings {
		v, _ := cfg.Get(s.key)
		if str, ok := v.(string); ok && mask && s.secret {
			v = maskSecret(str)
		}
		out[s.key] = v
	}
	return out
}

// GetValue reads one key from the file at path, ignoring env overrides.
func GetValue(path, key string) (any, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return cfg.Get(key)
}

// SetValue parses value for key and rewrites the file at path.
func SetValue(path, key, value string) error {
	cfg, err := readFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	return Save(path, cfg)
}
