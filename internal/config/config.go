package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relaybot.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Backend  BackendConfig  `json:"backend" yaml:"backend"`
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel" yaml:"logLevel"`
	LogFile               string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages" yaml:"maxConcurrentMessages"`
	BusBufferSize         int    `json:"busBufferSize" yaml:"busBufferSize"`
}

// BackendConfig points at the conversational HTTP API.
type BackendConfig struct {
	BaseURL        string `json:"baseURL" yaml:"baseURL"`
	APIKey         string `json:"apiKey" yaml:"apiKey"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	CLI      CLIConfig      `json:"cli" yaml:"cli"`
}

type TelegramConfig struct {
	Enabled            bool           `json:"enabled" yaml:"enabled"`
	Token              string         `json:"token" yaml:"token"`
	AllowFrom          FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	PollTimeoutSeconds int            `json:"pollTimeoutSeconds" yaml:"pollTimeoutSeconds"`
	APIEndpoint        string         `json:"apiEndpoint,omitempty" yaml:"apiEndpoint,omitempty"` // self-hosted Bot API server
}

// CLIConfig configures the terminal channel used by `relaybot chat`.
type CLIConfig struct {
	UserID string `json:"userId" yaml:"userId"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Listen   string `json:"listen" yaml:"listen"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: allow list must be a sequence", node.Line)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: allow list entries must be scalars", item.Line)
		}
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

// Environment variables that override file values when set.
const (
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvBaseURL       = "BASE_API_URL"
	EnvAPIKey        = "API_KEY"
	EnvLogLevel      = "RELAYBOT_LOG_LEVEL"
)

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Missing files are skipped and variables
// already set in the environment win.
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

// Load reads the config file at path over Defaults, applies environment
// overrides and validates the result. A missing file is not an error as long
// as the environment supplies the required values.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated is Load without Validate. The config subcommands use it so
// an incomplete file can still be inspected and fixed.
func LoadUnvalidated(path string) (*Config, error) {
	return read(path, true)
}

// LoadRaw reads the config file over Defaults exactly as written: ${VAR}
// placeholders stay unexpanded and the environment is ignored. Edits that
// are saved back to disk start from here so secrets held in the
// environment are never written to the file.
func LoadRaw(path string) (*Config, error) {
	return read(path, false)
}

// Resolve returns the effective config for raw: placeholders expanded and
// environment overrides applied, as LoadUnvalidated would produce.
func Resolve(raw *Config) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	cfg := Defaults()
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("cannot resolve config: %w", err)
	}
	finish(cfg)
	return cfg, nil
}

// Update sets one dot-notation key in the file at path and saves it,
// leaving every other value as written.
func Update(path, key, value string) error {
	cfg, err := LoadRaw(path)
	if err != nil {
		return err
	}
	if err := SetByPath(cfg, key, value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	return Save(path, cfg)
}

func read(path string, resolve bool) (*Config, error) {
	path = ExpandPath(path)
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// environment only
	case err != nil:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	default:
		if resolve {
			data = []byte(ExpandEnvVars(string(data)))
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if resolve {
		finish(cfg)
	}
	return cfg, nil
}

func finish(cfg *Config) {
	applyEnv(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvTelegramToken); v != "" {
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.General.LogLevel = v
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		if val := os.Getenv(groups[1]); val != "" {
			return val
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
// The file holds secrets, so it is written owner-only.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has every value needed to relay messages.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, fmt.Sprintf("backend.baseURL is required (or set %s)", EnvBaseURL))
	} else if unexpanded(cfg.Backend.BaseURL) {
		errs = append(errs, "backend.baseURL contains an unset ${VAR} placeholder: "+cfg.Backend.BaseURL)
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "backend.baseURL must be an absolute http(s) URL")
	}
	if cfg.Backend.APIKey == "" {
		errs = append(errs, fmt.Sprintf("backend.apiKey is required (or set %s)", EnvAPIKey))
	} else if unexpanded(cfg.Backend.APIKey) {
		errs = append(errs, "backend.apiKey contains an unset ${VAR} placeholder: "+cfg.Backend.APIKey)
	}
	if cfg.Backend.TimeoutSeconds < 0 {
		errs = append(errs, "backend.timeoutSeconds must be >= 0")
	}

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Channels.Telegram.PollTimeoutSeconds < 0 {
		errs = append(errs, "channels.telegram.pollTimeoutSeconds must be >= 0")
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireTelegram reports whether the Telegram channel can start.
func RequireTelegram(cfg *Config) error {
	if !cfg.Channels.Telegram.Enabled {
		return errors.New("telegram channel is disabled (channels.telegram.enabled)")
	}
	if cfg.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram channel enabled but token not configured (set %s)", EnvTelegramToken)
	}
	if unexpanded(cfg.Channels.Telegram.Token) {
		return fmt.Errorf("telegram token contains an unset ${VAR} placeholder: %s", cfg.Channels.Telegram.Token)
	}
	return nil
}

// unexpanded reports whether s still holds a ${VAR} placeholder whose
// variable was unset when the file was loaded.
func unexpanded(s string) bool {
	return envVarPattern.MatchString(s)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
