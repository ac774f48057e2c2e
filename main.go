package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dhcgn/imap2slack/cmd"
	"github.com/dhcgn/imap2slack/config"
	"github.com/dhcgn/imap2slack/imap"
	"github.com/dhcgn/imap2slack/notify"
	"github.com/dhcgn/imap2slack/router"
	"github.com/dhcgn/imap2slack/runner"
	"github.com/dhcgn/imap2slack/state"
	"github.com/dhcgn/imap2slack/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "imap2slack",
		Short:        "Relay unseen IMAP mail to Slack channels",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting imap2slack", "configDir", cfg.Dir, "service", cfg.Service, "dryRun", cfg.DryRun, "mailboxes", len(cfg.Publish))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewFilterCheckCmd(), cmd.NewValidateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	filters, err := runner.Preflight(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	checkpoint, err := state.NewFileCheckpoint(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	var metrics *stats.Metrics
	if cfg.MetricsAddr != "" {
		metrics, err = stats.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		shutdown := serveMetrics(cfg.MetricsAddr, logger)
		defer shutdown()
	}

	var notifier router.Notifier
	if cfg.DryRun {
		notifier = notify.NewLog(logger)
	} else {
		notifier = notify.NewSlack(notify.SlackOptions{
			Webhook:  cfg.Slack.Webhook,
			Username: cfg.Slack.Username,
			Emoji:    cfg.Slack.Emoji,
		}, logger)
	}

	sessionOpts := imap.Options{
		Host:               cfg.Mail.IMAP,
		Port:               cfg.Mail.Port,
		Username:           cfg.Mail.Username,
		Password:           cfg.Mail.Password,
		UseTLS:             cfg.Mail.TLS(),
		InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
	}
	if cfg.DebugIMAP {
		sessionOpts.DebugWriter = os.Stderr
	}

	r, err := runner.New(cfg, runner.Options{
		Dial: func(ctx context.Context) (runner.Session, error) {
			sess, err := imap.Dial(ctx, sessionOpts, logger)
			if err != nil {
				return nil, err
			}
			return sess, nil
		},
		Filters:    filters,
		Notifier:   notifier,
		Checkpoint: checkpoint,
		Metrics:    metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	return r.Run(ctx)
}

func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("imap2slack-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
