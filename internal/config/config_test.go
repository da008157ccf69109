package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://api.example.com"
	cfg.Backend.APIKey = "secret-key-123456"
	cfg.Channels.Telegram.Token = "123456:ABCDEFGHIJ"
	return cfg
}

// clearEnv unsets the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvTelegramToken, EnvBaseURL, EnvAPIKey, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DefaultsMissingBackend(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("defaults without backend must not validate")
	}
	for _, want := range []string{"backend.baseURL", "backend.apiKey"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_BaseURL(t *testing.T) {
	for _, bad := range []string{"api.example.com", "ftp://x", "http://", "::"} {
		cfg := validConfig()
		cfg.Backend.BaseURL = bad
		if err := Validate(cfg); err == nil {
			t.Errorf("baseURL %q should be rejected", bad)
		}
	}
	cfg := validConfig()
	cfg.Backend.BaseURL = "http://localhost:8000/api"
	if err := Validate(cfg); err != nil {
		t.Errorf("local http URL should be valid: %v", err)
	}
}

func TestValidate_MaxConcurrentMessages_Boundary(t *testing.T) {
	for _, n := range []int{1, 100} {
		cfg := validConfig()
		cfg.General.MaxConcurrentMessages = n
		if err := Validate(cfg); err != nil {
			t.Errorf("maxConcurrentMessages=%d should be valid: %v", n, err)
		}
	}
	for _, n := range []int{0, 101} {
		cfg := validConfig()
		cfg.General.MaxConcurrentMessages = n
		if err := Validate(cfg); err == nil {
			t.Errorf("maxConcurrentMessages=%d should be rejected", n)
		}
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
	cfg.General.LogLevel = "DEBUG"
	if err := Validate(cfg); err != nil {
		t.Fatalf("log level should be case-insensitive: %v", err)
	}
}

func TestValidate_Metrics(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Endpoint = "metrics"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for endpoint without leading slash")
	}
}

func TestRequireTelegram(t *testing.T) {
	cfg := validConfig()
	if err := RequireTelegram(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Channels.Telegram.Token = ""
	if err := RequireTelegram(cfg); err == nil {
		t.Fatal("expected error for missing token")
	}
	cfg.Channels.Telegram.Token = "${TELEGRAM_BOT_TOKEN}"
	if err := RequireTelegram(cfg); err == nil || !strings.Contains(err.Error(), "placeholder") {
		t.Fatalf("expected placeholder error, got %v", err)
	}
	cfg.Channels.Telegram.Enabled = false
	if err := RequireTelegram(cfg); err == nil {
		t.Fatal("expected error for disabled channel")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTripJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := validConfig()
	cfg.Channels.Telegram.AllowFrom = FlexStringList{"42"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config written with %o, want 600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Backend.BaseURL != cfg.Backend.BaseURL || loaded.Backend.APIKey != cfg.Backend.APIKey {
		t.Errorf("backend mismatch: %+v", loaded.Backend)
	}
	if len(loaded.Channels.Telegram.AllowFrom) != 1 || loaded.Channels.Telegram.AllowFrom[0] != "42" {
		t.Errorf("allowFrom = %v", loaded.Channels.Telegram.AllowFrom)
	}
}

func TestLoadSave_RoundTripYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, validConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		t.Fatal("expected YAML output, got JSON")
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Channels.Telegram.Token != "123456:ABCDEFGHIJ" {
		t.Errorf("token = %q", loaded.Channels.Telegram.Token)
	}
}

func TestLoad_YAMLMixedAllowList(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
backend:
  baseURL: https://api.example.com/
  apiKey: k
channels:
  telegram:
    allowFrom: [123, alice]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := cfg.Channels.Telegram.AllowFrom
	if len(got) != 2 || got[0] != "123" || got[1] != "alice" {
		t.Errorf("allowFrom = %v", got)
	}
	if cfg.Backend.BaseURL != "https://api.example.com" {
		t.Errorf("trailing slash not trimmed: %q", cfg.Backend.BaseURL)
	}
	if cfg.General.MaxConcurrentMessages != 5 {
		t.Errorf("defaults not applied, maxConcurrentMessages = %d", cfg.General.MaxConcurrentMessages)
	}
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBaseURL, "http://backend:8000")
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvTelegramToken, "999:TOKEN")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend:8000" || cfg.Backend.APIKey != "env-key" {
		t.Errorf("env not applied: %+v", cfg.Backend)
	}
	if cfg.Channels.Telegram.Token != "999:TOKEN" {
		t.Errorf("token = %q", cfg.Channels.Telegram.Token)
	}
}

func TestLoad_MissingEverythingFailsFast(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected validation error without backend settings")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, validConfig()); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAPIKey, "from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.APIKey != "from-env" {
		t.Errorf("apiKey = %q, want from-env", cfg.Backend.APIKey)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadUnvalidated(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_TEST_KEY", "substituted")
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"backend": {"baseURL": "${RELAY_TEST_URL:-http://localhost:9000}", "apiKey": "${RELAY_TEST_KEY}"}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.APIKey != "substituted" {
		t.Errorf("apiKey = %q", cfg.Backend.APIKey)
	}
	if cfg.Backend.BaseURL != "http://localhost:9000" {
		t.Errorf("baseURL = %q", cfg.Backend.BaseURL)
	}
}

func TestLoad_UnsetPlaceholderFailsValidation(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"backend": {"baseURL": "http://localhost:9000", "apiKey": "${API_KEY}"}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("literal ${API_KEY} must not pass as a key")
	}
	if !strings.Contains(err.Error(), "backend.apiKey") {
		t.Errorf("error should name backend.apiKey: %v", err)
	}

	cfg := validConfig()
	cfg.Backend.BaseURL = "${BASE_API_URL}"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "placeholder") {
		t.Errorf("expected placeholder error for baseURL, got %v", err)
	}
}

func TestUpdate_KeepsPlaceholdersOutOfFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "env-secret-key")
	t.Setenv(EnvTelegramToken, "999:env-token")
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"backend": {"baseURL": "http://localhost:9000", "apiKey": "${API_KEY}"},
"channels": {"telegram": {"enabled": true, "token": "${TELEGRAM_BOT_TOKEN}"}}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Update(path, "general.logLevel", "debug"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"env-secret-key", "999:env-token"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("environment secret %q written to file:\n%s", secret, data)
		}
	}
	raw, err := LoadRaw(path)
	if err != nil {
		t.Fatal(err)
	}
	if raw.Backend.APIKey != "${API_KEY}" || raw.Channels.Telegram.Token != "${TELEGRAM_BOT_TOKEN}" {
		t.Errorf("placeholders lost: key=%q token=%q", raw.Backend.APIKey, raw.Channels.Telegram.Token)
	}
	if raw.General.LogLevel != "debug" {
		t.Errorf("logLevel = %q", raw.General.LogLevel)
	}

	// the running config still sees the environment
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.APIKey != "env-secret-key" {
		t.Errorf("resolved apiKey = %q", cfg.Backend.APIKey)
	}
}

func TestResolve_MatchesLoad(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_TEST_KEY", "from-env")
	raw := validConfig()
	raw.Backend.APIKey = "${RELAY_TEST_KEY}"
	raw.Backend.BaseURL = "https://api.example.com/"

	cfg, err := Resolve(raw)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.APIKey != "from-env" || cfg.Backend.BaseURL != "https://api.example.com" {
		t.Errorf("resolved backend = %+v", cfg.Backend)
	}
	if raw.Backend.APIKey != "${RELAY_TEST_KEY}" {
		t.Error("Resolve modified its input")
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("BASE_API_URL=http://dotenv:1\nAPI_KEY=dotenv-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// t.Setenv above registered cleanup, so values loaded here are restored.
	os.Unsetenv(EnvBaseURL)
	os.Unsetenv(EnvAPIKey)

	if err := LoadDotEnv(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(EnvBaseURL); got != "http://dotenv:1" {
		t.Errorf("%s = %q", EnvBaseURL, got)
	}
	if got := os.Getenv(EnvAPIKey); got != "dotenv-key" {
		t.Errorf("%s = %q", EnvAPIKey, got)
	}
}

// --- accessor ---

func TestGetByPath(t *testing.T) {
	cfg := validConfig()
	val, err := GetByPath(cfg, "backend.baseURL")
	if err != nil {
		t.Fatal(err)
	}
	if val != "https://api.example.com" {
		t.Errorf("got %v", val)
	}
	if _, err := GetByPath(cfg, "backend.nope"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := GetByPath(cfg, "backend.baseURL.deeper"); err == nil {
		t.Error("expected error traversing a leaf")
	}
}

func TestSetByPath(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "general.maxConcurrentMessages", "12"); err != nil {
		t.Fatal(err)
	}
	if cfg.General.MaxConcurrentMessages != 12 {
		t.Errorf("maxConcurrentMessages = %d", cfg.General.MaxConcurrentMessages)
	}
	if err := SetByPath(cfg, "metrics.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics.enabled not set")
	}
	if err := SetByPath(cfg, "backend.apiKey", "12345"); err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.APIKey != "12345" {
		t.Errorf("numeric-looking string not kept: %q", cfg.Backend.APIKey)
	}
	if err := SetByPath(cfg, "backend.typo", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := SetByPath(cfg, "", "x"); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	s := Sanitize(cfg)
	if s.Backend.APIKey == cfg.Backend.APIKey || !strings.Contains(s.Backend.APIKey, "****") {
		t.Errorf("apiKey not masked: %q", s.Backend.APIKey)
	}
	if s.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Errorf("token not masked: %q", s.Channels.Telegram.Token)
	}
	if cfg.Backend.APIKey != "secret-key-123456" {
		t.Error("Sanitize modified the original")
	}

	short := validConfig()
	short.Backend.APIKey = "abc"
	if got := Sanitize(short).Backend.APIKey; got != "***" {
		t.Errorf("short key = %q, want ***", got)
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`["hello", 123, 456.0]`), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"hello", "123", "456"}
	if len(list) != len(want) {
		t.Fatalf("got %v", list)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, list[i], want[i])
		}
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`not json`), &list); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RB_SET", "value")
	t.Setenv("RB_EMPTY", "")
	os.Unsetenv("RB_UNSET_XYZ")

	tests := []struct {
		in, want string
	}{
		{`"${RB_SET}"`, `"value"`},
		{`"${RB_UNSET_XYZ:-fallback}"`, `"fallback"`},
		{`"${RB_SET:-fallback}"`, `"value"`},
		{`"${RB_EMPTY:-fallback}"`, `"fallback"`},
		{`"${RB_UNSET_XYZ}"`, `"${RB_UNSET_XYZ}"`},
		{`"$RB_SET"`, `"$RB_SET"`},
		{`no vars`, `no vars`},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
