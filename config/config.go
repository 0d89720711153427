package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

// ChatConfig holds orchestrator defaults.
type ChatConfig struct {
	AutoTitle           bool   `toml:"auto_title"`
	DefaultProvider     string `toml:"default_provider"`
	DefaultModel        string `toml:"default_model"`
	DefaultSystemPrompt string `toml:"default_system_prompt,omitempty"`
}

// ProviderConfig is one [[providers]] entry. API keys live in the
// credential store, never in config.toml.
type ProviderConfig struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Type         string `toml:"type,omitempty"`
	BaseURL      string `toml:"base_url,omitempty"`
	Enabled      bool   `toml:"enabled"`
	DefaultModel string `toml:"default_model,omitempty"`
}

type UserConfig struct {
	Chat      ChatConfig       `toml:"chat"`
	Providers []ProviderConfig `toml:"providers"`
}

type Config struct {
	DataDirectory       string
	AutoTitle           bool
	DefaultProvider     string
	DefaultModel        string
	DefaultSystemPrompt string
	Providers           []ProviderConfig
	CredentialStore     *CredentialStore
}

var Debug = false

// Log is the root logger. It discards everything until InitDebugLog
// enables debug logging.
var Log = zerolog.Nop()

// Logger returns a child of Log tagged with component.
func Logger(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// Connections builds the connection store from the loaded providers and
// credentials.
func (c *Config) Connections() *Connections {
	conns := NewConnections()
	conns.Replace(c.Providers, c.CredentialStore)
	return conns
}

// Settings returns the runtime settings derived from the loaded config.
func (c *Config) Settings() Settings {
	return Settings{
		AutoTitleChats:      c.AutoTitle,
		DefaultProvider:     c.DefaultProvider,
		DefaultModel:        c.DefaultModel,
		DefaultSystemPrompt: c.DefaultSystemPrompt,
	}
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("PARLEY_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if p := os.Getenv("PARLEY_DEFAULT_PROVIDER"); p != "" {
		c.DefaultProvider = p
	}
	if m := os.Getenv("PARLEY_DEFAULT_MODEL"); m != "" {
		c.DefaultModel = m
	}
}

func (c *Config) applyUserConfig(userCfg *UserConfig) {
	c.AutoTitle = userCfg.Chat.AutoTitle
	c.DefaultProvider = userCfg.Chat.DefaultProvider
	c.DefaultModel = userCfg.Chat.DefaultModel
	c.DefaultSystemPrompt = userCfg.Chat.DefaultSystemPrompt
	c.Providers = userCfg.Providers
}

func CheckDebug() bool {
	debug := os.Getenv("PARLEY_DEBUG")
	return debug == "true" || debug == "1"
}

// InitDebugLog points Log at <dataDir>/debug.log when PARLEY_DEBUG is set.
func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: may contain request metadata
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	Log = zerolog.New(f).Level(zerolog.DebugLevel).With().Timestamp().Caller().Logger()
	Log.Info().Str("PARLEY_DEBUG", os.Getenv("PARLEY_DEBUG")).Str("path", logPath).Msg("debug logging started")
}

// Load reads the system and user configuration, applies environment
// overrides and loads credentials.
func Load() (*Config, error) {
	cfg := &Config{
		DataDirectory: GetDefaultDataDir(),
	}

	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	if systemCfg.DataDirectory != "" {
		cfg.DataDirectory = systemCfg.DataDirectory
	}
	if dataDir := os.Getenv("PARLEY_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	cfg.CredentialStore = NewCredentialStore()
	if err := cfg.CredentialStore.Load(dataDir); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	return cfg, nil
}

// envKeyName returns the environment variable overriding a connection's
// API key: "open-router" becomes PARLEY_OPEN_ROUTER_API_KEY.
func envKeyName(connectionID string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, connectionID)
	return "PARLEY_" + id + "_API_KEY"
}
