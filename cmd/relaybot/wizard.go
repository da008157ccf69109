package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: backend → Telegram → save config",
		Long:  "Asks for the backend URL and key, the Telegram bot token and allow list, and writes the config to the path used by --config or the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(os.Stdin, os.Stdout, resolveConfigPath())
		},
	}
}

// runWizard edits the file as written, so ${VAR} answers are saved as
// placeholders and only checked against the current environment.
func runWizard(in io.Reader, out io.Writer, cfgPath string) error {
	cfg, err := config.LoadRaw(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Backend
	fmt.Fprintln(out, "\n--- Step 1: Backend ---")
	baseURL, err := prompt("Backend base URL", cfg.Backend.BaseURL)
	if err != nil {
		return err
	}
	cfg.Backend.BaseURL = strings.TrimRight(baseURL, "/")

	keyDefault := cfg.Backend.APIKey
	if keyDefault == "" {
		keyDefault = "${" + config.EnvAPIKey + "}"
	}
	key, err := prompt("API key (value or ${VAR})", keyDefault)
	if err != nil {
		return err
	}
	cfg.Backend.APIKey = key

	// Step 2: Telegram
	fmt.Fprintln(out, "\n--- Step 2: Telegram ---")
	tokDefault := cfg.Channels.Telegram.Token
	if tokDefault == "" {
		tokDefault = "${" + config.EnvTelegramToken + "}"
	}
	tok, err := prompt("Bot token from @BotFather (value or ${VAR})", tokDefault)
	if err != nil {
		return err
	}
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = tok

	allow, err := prompt("Allowed user IDs, comma separated (empty = everyone)", strings.Join(cfg.Channels.Telegram.AllowFrom, ","))
	if err != nil {
		return err
	}
	cfg.Channels.Telegram.AllowFrom = nil
	for _, id := range strings.Split(allow, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.Channels.Telegram.AllowFrom = append(cfg.Channels.Telegram.AllowFrom, id)
		}
	}

	// Step 3: Concurrency
	fmt.Fprintln(out, "\n--- Step 3: Concurrency ---")
	maxStr, err := prompt("Messages relayed at once (1-100)", strconv.Itoa(cfg.General.MaxConcurrentMessages))
	if err != nil {
		return err
	}
	if n, err := strconv.Atoi(maxStr); err == nil {
		cfg.General.MaxConcurrentMessages = n
	}

	resolved, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	if err := config.Validate(resolved); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: 'relaybot doctor' to check it, then 'relaybot run'.")
	return nil
}
