package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite3"
	StorePostgres = "pgx"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd         bool `json:"is_prod" yaml:"is_prod"`
	LogDevelopment bool `json:"-" yaml:"-"`

	// Discord
	Discord DiscordConfig `json:"discord" yaml:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`

	// Journal owner
	Journal JournalConfig `json:"journal" yaml:"journal"`

	// Sync loop
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Event buffer
	Buffer BufferConfig `json:"buffer" yaml:"buffer"`

	// Webhook normalization
	Normalizer NormalizerConfig `json:"normalizer" yaml:"normalizer"`

	// Entry store
	Store StoreConfig `json:"store" yaml:"store"`

	// Expiry sweep
	Sweep SweepConfig `json:"sweep" yaml:"sweep"`

	// Gist snapshot of the memory store
	State StateConfig `json:"state" yaml:"state"`

	// Wallet secrets - excluded from settings (env var only)
	Auth AuthConfig `json:"-" yaml:"-"`

	// GitHub Gist - excluded from settings (env var only)
	Gist GistConfig `json:"-" yaml:"-"`

	// HTTP server
	HTTPServer HTTPServerConfig `json:"http_server" yaml:"http_server"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-" yaml:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id" yaml:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id" yaml:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-" yaml:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id" yaml:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id" yaml:"beta_chat_id"`
}

// JournalConfig identifies the wallet whose trades are journaled.
type JournalConfig struct {
	Wallet string `json:"wallet" yaml:"wallet"`
	Secret string `json:"-" yaml:"-"` // Excluded - env var only
}

// SyncConfig holds sync loop configuration.
type SyncConfig struct {
	// BaseURL of a remote ingestion service. Empty reads the in-process buffer.
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
	PageLimit int           `json:"page_limit" yaml:"page_limit"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// BufferConfig holds event buffer configuration.
type BufferConfig struct {
	TTL              time.Duration `json:"ttl" yaml:"ttl"`
	Cap              int           `json:"cap" yaml:"cap"`
	DefaultPageLimit int           `json:"default_page_limit" yaml:"default_page_limit"`
	MaxPageLimit     int           `json:"max_page_limit" yaml:"max_page_limit"`
}

// NormalizerConfig holds webhook normalization configuration.
type NormalizerConfig struct {
	SOLPriceUSD float64 `json:"sol_price_usd" yaml:"sol_price_usd"` // 0 leaves SOL-quoted swaps unpriced
}

// StoreConfig selects the entry store.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // memory, sqlite3 or pgx
	DSN    string `json:"-" yaml:"-"`           // Excluded - env var only
}

// SweepConfig holds the expiry sweep schedule.
type SweepConfig struct {
	Schedule string `json:"schedule" yaml:"schedule"` // cron spec or descriptor, e.g. "@every 1m"
}

// StateConfig holds gist snapshot configuration.
type StateConfig struct {
	FileName     string        `json:"file_name" yaml:"file_name"`
	SaveInterval time.Duration `json:"save_interval" yaml:"save_interval"`
	MaxSizeBytes int64         `json:"max_size_bytes" yaml:"max_size_bytes"`
}

// AuthConfig holds preset wallet secrets.
type AuthConfig struct {
	WalletSecrets map[string]string
}

// GistConfig holds GitHub Gist configuration.
type GistConfig struct {
	Token          string
	GistID         string
	SettingsGistID string
}

// HTTPServerConfig holds HTTP server configuration.
type HTTPServerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Auth.WalletSecrets != nil {
		clone.Auth.WalletSecrets = make(map[string]string, len(c.Auth.WalletSecrets))
		for k, v := range c.Auth.WalletSecrets {
			clone.Auth.WalletSecrets[k] = v
		}
	}
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFromYAML deserializes YAML into a config, merging with base.
func ConfigFromYAML(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		Sync: SyncConfig{
			Interval:  30 * time.Second,
			PageLimit: 50,
			Timeout:   15 * time.Second,
		},
		Buffer: BufferConfig{
			TTL:              48 * time.Hour,
			Cap:              1000,
			DefaultPageLimit: 50,
			MaxPageLimit:     200,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
		},
		Sweep: SweepConfig{
			Schedule: "@every 1m",
		},
		State: StateConfig{
			FileName:     "journal_state.json",
			SaveInterval: 5 * time.Minute,
			MaxSizeBytes: 50 * 1024 * 1024,
		},
		HTTPServer: HTTPServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load reads an optional .env file, then an optional YAML file named by
// JOURNAL_CONFIG_FILE, then environment variables. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	base := Defaults()
	if path := envString("JOURNAL_CONFIG_FILE", ""); path != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		base, err = ConfigFromYAML(body, base)
		if err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}
	return FromEnv(base), nil
}

// FromEnv overlays environment variables onto base.
func FromEnv(base *Config) *Config {
	if base == nil {
		base = Defaults()
	}
	return &Config{
		IsProd:         envBool("STAGE", "PROD") || base.IsProd,
		LogDevelopment: envBoolDefault("LOG_DEVELOPMENT", base.LogDevelopment),

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", base.Discord.ProdChannelID),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", base.Discord.BetaChannelID),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", base.Telegram.ProdChatID),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", base.Telegram.BetaChatID),
		},

		Journal: JournalConfig{
			Wallet: envString("JOURNAL_WALLET", base.Journal.Wallet),
			Secret: envString("JOURNAL_SECRET", ""),
		},

		Sync: SyncConfig{
			BaseURL:   strings.TrimRight(envString("SYNC_BASE_URL", base.Sync.BaseURL), "/"),
			Interval:  envDuration("SYNC_INTERVAL", base.Sync.Interval),
			PageLimit: envInt("SYNC_PAGE_LIMIT", base.Sync.PageLimit),
			Timeout:   envDuration("SYNC_TIMEOUT", base.Sync.Timeout),
		},

		Buffer: BufferConfig{
			TTL:              envDuration("BUFFER_TTL", base.Buffer.TTL),
			Cap:              envInt("BUFFER_CAP", base.Buffer.Cap),
			DefaultPageLimit: envInt("BUFFER_DEFAULT_PAGE_LIMIT", base.Buffer.DefaultPageLimit),
			MaxPageLimit:     envInt("BUFFER_MAX_PAGE_LIMIT", base.Buffer.MaxPageLimit),
		},

		Normalizer: NormalizerConfig{
			SOLPriceUSD: envFloat("SOL_PRICE_USD", base.Normalizer.SOLPriceUSD),
		},

		Store: StoreConfig{
			Driver: strings.ToLower(envString("STORE_DRIVER", base.Store.Driver)),
			DSN:    envString("STORE_DSN", ""),
		},

		Sweep: SweepConfig{
			Schedule: envString("SWEEP_SCHEDULE", base.Sweep.Schedule),
		},

		State: StateConfig{
			FileName:     envString("STATE_FILE_NAME", base.State.FileName),
			SaveInterval: envDuration("STATE_SAVE_INTERVAL", base.State.SaveInterval),
			MaxSizeBytes: envInt64("STATE_MAX_SIZE_BYTES", base.State.MaxSizeBytes),
		},

		Auth: AuthConfig{
			WalletSecrets: envKeyValues("WALLET_SECRETS"),
		},

		Gist: GistConfig{
			Token:          envString("GITHUB_TOKEN", ""),
			GistID:         envString("STATE_GIST_ID", ""),
			SettingsGistID: envString("SETTINGS_GIST_ID", ""),
		},

		HTTPServer: HTTPServerConfig{
			Enabled: envBoolDefault("HTTP_SERVER_ENABLED", base.HTTPServer.Enabled),
			Port:    envInt("PORT", base.HTTPServer.Port),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// envKeyValues parses "k1=v1,k2=v2". Malformed pairs are skipped.
func envKeyValues(key string) map[string]string {
	pairs := envStringSlice(key)
	if len(pairs) == 0 {
		return nil
	}
	result := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		result[k] = v
	}
	return result
}

// ErrMissingSecret is returned by RequireJournal when a wallet is set without a secret.
var ErrMissingSecret = errors.New("JOURNAL_SECRET is required when JOURNAL_WALLET is set")

// RequireJournal reports whether the sync loop can run.
func (c *Config) RequireJournal() (bool, error) {
	if c.Journal.Wallet == "" {
		return false, nil
	}
	if c.Journal.Secret == "" {
		return false, ErrMissingSecret
	}
	return true, nil
}
