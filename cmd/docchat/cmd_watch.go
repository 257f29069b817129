package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/docchat/internal/app"
	"github.com/user/docchat/internal/config"
	"github.com/user/docchat/internal/render"
)

func init() {
	rootCmd.AddCommand(watchCmd, stopCmd, historyCmd)

	watchCmd.Flags().String("listen", "", "address of the local status API (default metrics.listen)")
	watchCmd.Flags().Int("resume", 50, "recent unfinished uploads to track again")
	historyCmd.Flags().Int("limit", 20, "number of documents to show")
}

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "docchat.pid")
}

func writePIDFile(cfg *config.Config) (string, error) {
	path := pidPath(cfg)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

// readPID reads the watcher's PID file and checks the process is alive.
func readPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(pidPath(cfg))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("no running watcher (PID file not found)")
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, fmt.Errorf("no running watcher (process %d not found)", pid)
	}
	return pid, nil
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow document status updates and report finished documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		resume, _ := cmd.Flags().GetInt("resume")

		cfg := loadConfig()
		if listen == "" {
			listen = cfg.Metrics.Listen
		}
		a, err := newApp(cfg, app.Options{Out: os.Stdout, IncludeRemote: true, Listen: listen})
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.Session.Token(); err != nil {
			return fmt.Errorf("watch: %w", err)
		}

		pid, err := writePIDFile(a.Config)
		if err != nil {
			return err
		}
		defer os.Remove(pid)

		if n, err := a.ResumePending(resume); err != nil {
			slog.Warn("could not read upload history", "error", err)
		} else if n > 0 {
			slog.Info("tracking unfinished uploads", "count", n)
		}

		ctx, cancel := signalContext()
		defer cancel()
		if err := a.Start(ctx); err != nil {
			return err
		}
		slog.Info("watching", "ws_url", a.Channel.URL(), "status_api", a.Addr(), "pid_file", pid)

		<-ctx.Done()
		slog.Info("shutting down")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running watcher",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := readPID(loadConfig())
		if err != nil {
			return err
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("find process: %w", err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("send SIGTERM: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Sent SIGTERM to watcher (PID %d).\n", pid)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent uploads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		a, err := newApp(loadConfig(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.History.Latest(limit)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if len(recs) == 0 {
			fmt.Println("No uploads yet.")
			return nil
		}
		return render.Documents(os.Stdout, recs)
	},
}
