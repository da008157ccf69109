package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot setup",
		Long: `Verifies that relaybot's configuration, backend, Telegram token and
log file are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("relaybot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file (optional when the environment has everything)
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using environment only", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := config.LoadUnvalidated(cfgPath)
			if err != nil {
				printFail("Config", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if err := config.Validate(cfg); err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			// 3. Backend reachable
			if cfg.Backend.BaseURL != "" {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := newBackendClient(cfg).Ping(ctx)
				cancel()
				if err != nil {
					printFail("Backend", err.Error())
					failed++
				} else {
					printPass("Backend", cfg.Backend.BaseURL)
					passed++
				}
			}

			// 4. Telegram token
			if err := config.RequireTelegram(cfg); err != nil {
				printWarn("Telegram", err.Error())
				warned++
			} else if name, err := checkTelegram(cfg); err != nil {
				printFail("Telegram", err.Error())
				failed++
			} else {
				printPass("Telegram", "@"+name)
				passed++
			}

			// 5. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics listen", cfg.Metrics.Listen+" available")
					passed++
				}
			}

			// 6. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running relaybot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nrelaybot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! relaybot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkTelegram(cfg *config.Config) (string, error) {
	endpoint := cfg.Channels.Telegram.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Channels.Telegram.Token, endpoint)
	if err != nil {
		return "", fmt.Errorf("getMe failed: %w", err)
	}
	return bot.Self.UserName, nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
