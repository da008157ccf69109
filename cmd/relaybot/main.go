package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/backend"
	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/metrics"
	"relaybot/internal/relay"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "relaybot",
		Short: "relaybot: Telegram front end for a conversational HTTP API",
		Long:  "relaybot forwards Telegram text and photo messages to a conversational backend and replies with the streamed answer.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.relaybot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// setupLogger replaces the bootstrap logger with one honouring
// general.logLevel and general.logFile. The returned func closes the log file.
func setupLogger(cfg *config.Config) (func(), error) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return closeFn, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closeFn, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { _ = f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.General.LogLevel)}))
	return closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newBackendClient(cfg *config.Config) *backend.Client {
	return backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Edit %s or set %s, %s and %s, then run 'relaybot run'.\n",
				cfgPath, config.EnvTelegramToken, config.EnvBaseURL, config.EnvAPIKey)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Aliases: []string{"gateway"},
		Short:   "Start the Telegram relay",
		Long:    "Polls Telegram, relays every text and photo message to the backend and replies in MarkdownV2. Press Ctrl+C to stop.",
		RunE:    runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.RequireTelegram(cfg); err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.General.BusBufferSize, logger)
	defer messageBus.Close()

	telegramCh := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Channels.Telegram.Token,
		AllowFrom:   cfg.Channels.Telegram.AllowFrom,
		PollTimeout: cfg.Channels.Telegram.PollTimeoutSeconds,
		APIEndpoint: cfg.Channels.Telegram.APIEndpoint,
		Logger:      logger,
	})
	if _, err := telegramCh.Connect(); err != nil {
		return err
	}

	relayLoop := relay.New(relay.Config{
		Backend:       newBackendClient(cfg),
		Files:         telegramCh,
		Bus:           messageBus,
		Logger:        logger,
		MaxConcurrent: cfg.General.MaxConcurrentMessages,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := telegramCh.Start(gctx, messageBus); err != nil {
			return fmt.Errorf("telegram channel: %w", err)
		}
		return nil
	})
	g.Go(func() error { return relayLoop.Run(gctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			if err := metrics.Collector.Serve(gctx, cfg.Metrics.Listen, cfg.Metrics.Endpoint, logger); err != nil {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
	}

	logger.Info("relay started. Press Ctrl+C to stop.",
		"backend", cfg.Backend.BaseURL,
		"max_concurrent", cfg.General.MaxConcurrentMessages,
	)

	err = g.Wait()
	logger.Info("relay stopped")
	return err
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the backend from the terminal",
		Long:  "Runs the same relay pipeline against an interactive terminal instead of Telegram.",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.General.BusBufferSize, logger)
	relayLoop := relay.New(relay.Config{
		Backend:       newBackendClient(cfg),
		Bus:           messageBus,
		Logger:        logger,
		MaxConcurrent: cfg.General.MaxConcurrentMessages,
	})

	done := make(chan error, 1)
	go func() { done <- relayLoop.Run(ctx) }()

	cliCh := channel.NewCLI(channel.CLIConfig{UserID: cfg.Channels.CLI.UserID, Logger: logger})
	chatErr := cliCh.Start(ctx, messageBus)

	// drain queued lines before exiting
	messageBus.Close()
	return errors.Join(chatErr, <-done)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			_, statErr := os.Stat(config.ExpandPath(cfgPath))
			cfg, err := config.LoadUnvalidated(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Info("config", "path", cfgPath, "file", statErr == nil)
			if err := config.Validate(cfg); err != nil {
				logger.Warn("config invalid", "err", err)
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := newBackendClient(cfg).Ping(ctx); err != nil {
				logger.Info("backend", "url", cfg.Backend.BaseURL, "reachable", false, "err", err)
			} else {
				logger.Info("backend", "url", cfg.Backend.BaseURL, "reachable", true)
			}
			logger.Info("telegram",
				"enabled", cfg.Channels.Telegram.Enabled,
				"token", cfg.Channels.Telegram.Token != "",
				"allow_list", len(cfg.Channels.Telegram.AllowFrom),
			)
			logger.Info("metrics", "enabled", cfg.Metrics.Enabled, "listen", cfg.Metrics.Listen)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. backend.baseURL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadUnvalidated(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.maxConcurrentMessages 10)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := config.Update(cfgPath, args[0], args[1]); err != nil {
				return fmt.Errorf("update config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadUnvalidated(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relaybot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relaybot %s\n", version)
		},
	}
}
