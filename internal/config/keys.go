package config

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// setting is one leaf of Config addressed by its dotted json path,
// e.g. "reconnect.max_delay_ms" or "wallet.address".
type setting struct {
	key    string
	index  []int
	secret bool
}

var settings = collectSettings(reflect.TypeFor[Config](), "", nil)

func collectSettings(t reflect.Type, prefix string, index []int) []setting {
	var out []setting
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		idx := append(slices.Clone(index), i)
		if f.Type.Kind() == reflect.Struct {
			out = append(out, collectSettings(f.Type, key, idx)...)
			continue
		}
		out = append(out, setting{key: key, index: idx, secret: f.Tag.Get("config") == "secret"})
	}
	return out
}

func lookup(key string) (setting, error) {
	i := slices.IndexFunc(settings, func(s setting) bool { return s.key == key })
	if i < 0 {
		return setting{}, fmt.Errorf("unknown config key: %s", key)
	}
	return settings[i], nil
}

// Keys lists every settable key in declaration order.
func Keys() []string {
	out := make([]string, len(settings))
	for i, s := range settings {
		out[i] = s.key
	}
	return out
}

// IsSecretKey reports whether key holds a token that is masked when listed.
func IsSecretKey(key string) bool {
	s, err := lookup(key)
	return err == nil && s.secret
}

// Get returns the typed value at key.
func (c *Config) Get(key string) (any, error) {
	s, err := lookup(key)
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(c).Elem().FieldByIndex(s.index).Interface(), nil
}

// Set parses raw according to the type of key and stores it, so
// "wallet.address 1e5" stays a string and "reconnect.multiplier x" fails.
func (c *Config) Set(key, raw string) error {
	s, err := lookup(key)
	if err != nil {
		return err
	}
	v := reflect.ValueOf(c).Elem().FieldByIndex(s.index)
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("%s wants an integer, got %q", key, raw)
		}
		v.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("%s wants a number, got %q", key, raw)
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s wants true or false, got %q", key, raw)
		}
		v.SetBool(b)
	default:
		return fmt.Errorf("%s: unsupported type %s", key, v.Type())
	}
	return nil
}

// maskSecret keeps the last four characters: "***1234".
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}
