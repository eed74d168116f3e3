// Package config assembles the typed runtime Config from a YAML file and
// environment overrides.
//
// Grounded on an existing internal/config/config.go (typed Config struct
// decoded from YAML via gopkg.in/yaml.v3) and internal/config/loader.go
// (env-var expansion before decode), narrowed to this runtime's recognized
// options instead of a full gateway/channels/auth surface.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/worldrt/internal/ids"
)

// Config is the runtime's top-level configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	NewChat NewChatConfig `yaml:"new_chat"`
	HITL    HITLConfig    `yaml:"hitl"`
	Skills  SkillsConfig  `yaml:"skills"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig addresses the transport-facing HTTP/websocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMProviderConfig configures one named ChatCompletion backend.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// LLMConfig selects the default provider and carries credentials for every
// provider an agent may name via Agent.Provider.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Anthropic       LLMProviderConfig            `yaml:"anthropic"`
	OpenAI          LLMProviderConfig            `yaml:"openai"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// NewChatConfig controls chat-reuse behavior (see models.Chat.IsReusable).
type NewChatConfig struct {
	MaxReusableAge     time.Duration `yaml:"max_reusable_age"`
	ReusableTitle      string        `yaml:"reusable_title"`
	EnableOptimization bool          `yaml:"enable_optimization"`
}

// HITLConfig controls the approval coordinator's default timeout.
type HITLConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// SkillsConfig names the two root sets the skill registry syncs skills from.
type SkillsConfig struct {
	UserRoots    []string `yaml:"user_roots"`
	ProjectRoots []string `yaml:"project_roots"`
}

// StorageType selects a StorageAPI backend.
type StorageType string

const (
	StorageMemory StorageType = "memory"
	StorageFile   StorageType = "file"
	StorageSQL    StorageType = "sql"
)

// StorageConfig selects and locates the StorageAPI backend.
type StorageConfig struct {
	Type     StorageType `yaml:"type"`
	DataPath string      `yaml:"data_path"`
}

// LogConfig carries the hierarchical log-level configuration: a global
// default plus per-category overrides keyed by dot-hierarchical category
// name (see internal/ids.LogCategory).
type LogConfig struct {
	GlobalLevel    string            `yaml:"global_level"`
	CategoryLevels map[string]string `yaml:"category_levels"`
}

// Default returns a Config with its documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
		},
		NewChat: NewChatConfig{
			MaxReusableAge:     300 * time.Second,
			ReusableTitle:      "New Chat",
			EnableOptimization: true,
		},
		HITL: HITLConfig{
			DefaultTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Type: StorageMemory,
		},
		Log: LogConfig{
			GlobalLevel:    "info",
			CategoryLevels: map[string]string{},
		},
	}
}

// Load reads a YAML config file (environment variables are expanded in its
// body first), layers it over Default, then
// applies the documented environment-variable overrides. path may be empty,
// in which case only defaults and env overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAI.APIKey = v
	}
	if v := os.Getenv("DATA_PATH"); v != "" {
		cfg.Storage.DataPath = v
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = StorageType(v)
	}
	if v := os.Getenv("LOG_LEVEL_GLOBAL"); v != "" {
		cfg.Log.GlobalLevel = v
	}
	if v := os.Getenv("NEW_CHAT.MAX_REUSABLE_AGE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.NewChat.MaxReusableAge = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("NEW_CHAT.REUSABLE_TITLE"); v != "" {
		cfg.NewChat.ReusableTitle = v
	}
	if v := os.Getenv("NEW_CHAT.ENABLE_OPTIMIZATION"); v != "" {
		cfg.NewChat.EnableOptimization = v == "true" || v == "1"
	}
	if v := os.Getenv("HITL.DEFAULT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.HITL.DefaultTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SKILLS.USER_ROOTS"); v != "" {
		cfg.Skills.UserRoots = splitRoots(v)
	}
	if v := os.Getenv("SKILLS.PROJECT_ROOTS"); v != "" {
		cfg.Skills.ProjectRoots = splitRoots(v)
	}

	if cfg.Log.CategoryLevels == nil {
		cfg.Log.CategoryLevels = map[string]string{}
	}
	const prefix = "LOG_LEVEL_"
	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok || !strings.HasPrefix(k, prefix) || k == "LOG_LEVEL_GLOBAL" {
			continue
		}
		category := ids.LogCategory(strings.TrimPrefix(k, prefix))
		cfg.Log.CategoryLevels[category] = v
	}
}

func splitRoots(v string) []string {
	parts := strings.Split(v, string(os.PathListSeparator))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ResolveLevel returns the slog.Level in effect for category, walking up
// its dot-hierarchical ancestor chain (see internal/ids.Ancestors) until a
// configured level is found, falling back to GlobalLevel.
func (c *Config) ResolveLevel(category string) slog.Level {
	normalized := ids.LogCategory(category)
	for _, ancestor := range ids.Ancestors(normalized) {
		if ancestor == "" {
			break
		}
		if level, ok := c.Log.CategoryLevels[ancestor]; ok {
			return parseLevel(level)
		}
	}
	return parseLevel(c.Log.GlobalLevel)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
