// Package config loads and saves the lms configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/hypernetix/lms/pkg/lmstudio"
)

const (
	// DefaultLargePasteThreshold is the paste length, in characters, from
	// which a paste is kept as a single placeholder in the chat input.
	DefaultLargePasteThreshold = 500
	// DefaultPasteWindowMs groups keystrokes arriving closer together than
	// this into one paste on terminals without bracketed paste.
	DefaultPasteWindowMs = 8

	envConfig = "LMS_CONFIG"
)

// Config is the lms configuration.
type Config struct {
	// Host and Port of the LM Studio API. When both are empty the server
	// is discovered.
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`

	Chat   ChatConfig   `toml:"chat"`
	Server ServerConfig `toml:"server"`
}

// ChatConfig configures lms chat.
type ChatConfig struct {
	Model               string  `toml:"model"`
	SystemPrompt        string  `toml:"system_prompt"`
	Temperature         float64 `toml:"temperature"`
	MaxTokens           int     `toml:"max_tokens"`
	LargePasteThreshold int     `toml:"large_paste_threshold"`
	PasteWindowMs       int     `toml:"paste_window_ms"`
}

// ServerConfig holds the defaults of lms server start.
type ServerConfig struct {
	Port int  `toml:"port"`
	CORS bool `toml:"cors"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Chat: ChatConfig{
			Temperature:         0.7,
			MaxTokens:           lmstudio.DefaultMaxTokens,
			LargePasteThreshold: DefaultLargePasteThreshold,
			PasteWindowMs:       DefaultPasteWindowMs,
		},
		Server: ServerConfig{
			Port: lmstudio.LMStudioAPIPorts[0],
		},
	}
}

// DefaultPath returns $LMS_CONFIG, or lms.toml in the LM Studio home
// directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(envConfig); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".lmstudio", "lms.toml"), nil
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# lms configuration file")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies LMS_* environment variables. Values that do
// not parse are ignored here and left for Validate to report.
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("LMS_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("LMS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if level := os.Getenv("LMS_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if model := os.Getenv("LMS_MODEL"); model != "" {
		c.Chat.Model = model
	}
	if threshold := os.Getenv("LMS_LARGE_PASTE_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			c.Chat.LargePasteThreshold = n
		}
	}
}

// ValidationError is one invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid value of a configuration.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, ValidationError{"port", fmt.Sprintf("%d is not a valid port", c.Port)})
	}
	if _, err := lmstudio.ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, ValidationError{"log_level", err.Error()})
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{"chat.temperature", fmt.Sprintf("%g is outside [0, 2]", c.Chat.Temperature)})
	}
	if c.Chat.MaxTokens < 0 {
		errs = append(errs, ValidationError{"chat.max_tokens", "must not be negative"})
	}
	if c.Chat.LargePasteThreshold < 1 {
		errs = append(errs, ValidationError{"chat.large_paste_threshold", "must be at least 1"})
	}
	if c.Chat.PasteWindowMs < 0 || c.Chat.PasteWindowMs > 1000 {
		errs = append(errs, ValidationError{"chat.paste_window_ms", fmt.Sprintf("%d is outside [0, 1000]", c.Chat.PasteWindowMs)})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", fmt.Sprintf("%d is not a valid port", c.Server.Port)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
