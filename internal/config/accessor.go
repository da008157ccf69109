package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree renders cfg as nested maps keyed by JSON field names.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "backend.baseURL").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var current any = m
	for _, key := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
		if current, ok = node[key]; !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. Only existing keys can
// be set, so typos do not silently add dead settings.
func SetByPath(cfg *Config, path string, value string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		parent = child
	}
	last := parts[len(parts)-1]
	if _, ok := parent[last]; !ok {
		return fmt.Errorf("key not found: %s", path)
	}
	parent[last] = parseValue(value)

	updated, err := fromTree(m)
	if err != nil {
		// "12345" may be meant for a string field such as an API key.
		parent[last] = value
		if updated, err = fromTree(m); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	*cfg = *updated
	return nil
}

func fromTree(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseValue converts "true", "false" and numbers to their JSON types.
func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Channels.Telegram.AllowFrom = append(FlexStringList(nil), cfg.Channels.Telegram.AllowFrom...)
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Token = maskString(c.Channels.Telegram.Token)
	}
	if c.Backend.APIKey != "" {
		c.Backend.APIKey = maskString(c.Backend.APIKey)
	}
	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
