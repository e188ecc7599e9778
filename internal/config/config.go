package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for SuntoBot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Telegram  TelegramConfig            `json:"telegram"`
	Providers map[string]ProviderConfig `json:"providers"`
	Summary   SummaryConfig             `json:"summary"`
	Mention   MentionConfig             `json:"mention"`
	Storage   StorageConfig             `json:"storage"`
	Prompts   PromptsConfig             `json:"prompts"`
}

type GeneralConfig struct {
	LogLevel              string   `json:"logLevel"`
	LogFile               string   `json:"logFile,omitempty"` // optional log file path
	DefaultProvider       string   `json:"defaultProvider"`
	FailoverChain         []string `json:"failoverChain,omitempty"` // provider failover order
	MaxConcurrentRequests int      `json:"maxConcurrentRequests"`
}

type TelegramConfig struct {
	Token          string        `json:"token"`
	AllowedGroups  FlexInt64List `json:"allowedGroups"`
	ParseMode      string        `json:"parseMode"`
	SummaryCommand string        `json:"summaryCommand"`
}

type ProviderConfig struct {
	Enabled        bool   `json:"enabled"`
	APIBase        string `json:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	Model          string `json:"model,omitempty"`
	VisionModel    string `json:"visionModel,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// SummaryConfig tunes the summarization pipeline.
type SummaryConfig struct {
	ChunkSizeMessages     int    `json:"chunkSizeMessages"`
	MaxParallelChunks     int    `json:"maxParallelChunks"`
	MaxContextTokens      int    `json:"maxContextTokens"`
	CharsPerToken         int    `json:"charsPerToken"`
	BulletMaxChars        int    `json:"bulletMaxChars"`
	MaxChars              int    `json:"maxChars"`
	OnPartialFailure      string `json:"onPartialFailure"` // "note" | "fail"
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"`
}

// MentionConfig tunes how much history is attached when the bot is mentioned.
type MentionConfig struct {
	RecentCount int `json:"recentCount"`
	RecentHours int `json:"recentHours"`
	OlderCount  int `json:"olderCount"`
}

type StorageConfig struct {
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"` // 0 = keep forever
}

type PromptsConfig struct {
	File string `json:"file,omitempty"` // YAML file overriding built-in prompts
}

// FlexInt64List is a []int64 that can unmarshal from JSON arrays containing
// both numbers and strings (e.g. [-100123, "-100456"] both parse).
type FlexInt64List []int64

func (f *FlexInt64List) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]int64, 0, len(raw))
	for _, item := range raw {
		var n int64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, n)
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q: %w", s, err)
			}
			result = append(result, parsed)
			continue
		}
		return fmt.Errorf("invalid chat id entry: %s", string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.suntobot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".suntobot"
	}
	return filepath.Join(home, ".suntobot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Prompts.File = ExpandPath(cfg.Prompts.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentRequests < 1 || cfg.General.MaxConcurrentRequests > 100 {
		errs = append(errs, "general.maxConcurrentRequests must be between 1 and 100")
	}

	if cfg.Summary.ChunkSizeMessages < 1 {
		errs = append(errs, "summary.chunkSizeMessages must be >= 1")
	}
	if cfg.Summary.MaxParallelChunks < 1 {
		errs = append(errs, "summary.maxParallelChunks must be >= 1")
	}
	if cfg.Summary.MaxContextTokens < 1 {
		errs = append(errs, "summary.maxContextTokens must be >= 1")
	}
	if cfg.Summary.CharsPerToken < 1 {
		errs = append(errs, "summary.charsPerToken must be >= 1")
	}
	switch cfg.Summary.OnPartialFailure {
	case "note", "fail":
		// valid
	default:
		errs = append(errs, "summary.onPartialFailure must be one of: note, fail")
	}

	if cfg.Mention.RecentCount < 0 || cfg.Mention.RecentHours < 0 || cfg.Mention.OlderCount < 0 {
		errs = append(errs, "mention counts and hours must be >= 0")
	}

	if cfg.Storage.RetentionDays < 0 {
		errs = append(errs, "storage.retentionDays must be >= 0")
	}

	if cfg.Telegram.SummaryCommand == "" {
		errs = append(errs, "telegram.summaryCommand must not be empty")
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
