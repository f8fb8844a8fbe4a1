package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// DefaultRelays are used when no relay is configured
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://eden.nostr.land",
}

// Config represents the complete zapthreads configuration
type Config struct {
	Anchor    string    `yaml:"anchor"`
	Relays    Relays    `yaml:"relays"`
	Features  Features  `yaml:"features"`
	Scheduler Scheduler `yaml:"scheduler"`
	Ingest    Ingest    `yaml:"ingest"`
	Signer    Signer    `yaml:"signer"`
	Metadata  Metadata  `yaml:"metadata"`
	Archive   Archive   `yaml:"archive"`
	Server    Server    `yaml:"server"`
	Rendering Rendering `yaml:"rendering"`
	Logging   Logging   `yaml:"logging"`
}

// Relays contains relay configuration
type Relays struct {
	URLs   []string    `yaml:"urls"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs int  `yaml:"connect_timeout_ms"`
	Outbox           bool `yaml:"outbox"` // also publish replies to the inbox relays (NIP-65) of the people replied to
}

// Features toggles optional parts of the thread view
type Features struct {
	DisableLikes bool `yaml:"disable_likes"`
	DisableZaps  bool `yaml:"disable_zaps"`
}

// Scheduler holds the two debounce windows
type Scheduler struct {
	NestDebounceMs    int `yaml:"nest_debounce_ms"`    // tree materialization window
	ProfileDebounceMs int `yaml:"profile_debounce_ms"` // author metadata window
}

// NestDebounce returns the materialization window
func (s Scheduler) NestDebounce() time.Duration {
	return time.Duration(s.NestDebounceMs) * time.Millisecond
}

// ProfileDebounce returns the metadata window
func (s Scheduler) ProfileDebounce() time.Duration {
	return time.Duration(s.ProfileDebounceMs) * time.Millisecond
}

// Ingest controls the ingestion boundary
type Ingest struct {
	VerifySignatures bool `yaml:"verify_signatures"`
}

// Signer configures how replies are signed
type Signer struct {
	BunkerURL    string `yaml:"bunker_url"` // NIP-46 bunker:// URL, empty means anonymous only
	ClientSecret string `yaml:"-"`          // loaded from ZAPTHREADS_CLIENT_SECRET only
	Publish      bool   `yaml:"publish"`    // also publish signed replies to the relays
}

// Metadata configures profile resolution
type Metadata struct {
	Cache           string `yaml:"cache"` // memory|redis|none
	RedisURL        string `yaml:"redis_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the profile cache lifetime
func (m Metadata) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

// Archive configures the optional local event archive
type Archive struct {
	Enabled    bool   `yaml:"enabled"`
	Driver     string `yaml:"driver"` // memory|sqlite
	SQLitePath string `yaml:"sqlite_path"`
	Backup     Backup `yaml:"backup"`
}

// Backup configures periodic JSONL exports of the archive
type Backup struct {
	Dir             string `yaml:"dir"` // empty disables periodic backups
	IntervalMinutes int    `yaml:"interval_minutes"`
	KeepDays        int    `yaml:"keep_days"`
}

// Interval returns the backup interval as a duration
func (b Backup) Interval() time.Duration {
	return time.Duration(b.IntervalMinutes) * time.Minute
}

// Server configures the HTTP embedding surface
type Server struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowReplies   bool     `yaml:"allow_replies"`
}

// Rendering contains text rendering options
type Rendering struct {
	ThreadIndent   string `yaml:"thread_indent"`
	MaxThreadDepth int    `yaml:"max_thread_depth"`
	SummaryLength  int    `yaml:"summary_length"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// applyDefaults fills in missing configuration fields with sensible defaults
func applyDefaults(cfg *Config) {
	defaults := Default()

	if len(cfg.Relays.URLs) == 0 {
		cfg.Relays.URLs = defaults.Relays.URLs
	}
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}

	if cfg.Scheduler.NestDebounceMs == 0 {
		cfg.Scheduler.NestDebounceMs = defaults.Scheduler.NestDebounceMs
	}
	if cfg.Scheduler.ProfileDebounceMs == 0 {
		cfg.Scheduler.ProfileDebounceMs = defaults.Scheduler.ProfileDebounceMs
	}

	if cfg.Metadata.Cache == "" {
		cfg.Metadata.Cache = defaults.Metadata.Cache
	}
	if cfg.Metadata.CacheTTLSeconds == 0 {
		cfg.Metadata.CacheTTLSeconds = defaults.Metadata.CacheTTLSeconds
	}

	if cfg.Archive.Driver == "" {
		cfg.Archive.Driver = defaults.Archive.Driver
	}
	if cfg.Archive.SQLitePath == "" {
		cfg.Archive.SQLitePath = defaults.Archive.SQLitePath
	}
	if cfg.Archive.Backup.IntervalMinutes == 0 {
		cfg.Archive.Backup.IntervalMinutes = defaults.Archive.Backup.IntervalMinutes
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}

	if cfg.Rendering.ThreadIndent == "" {
		cfg.Rendering.ThreadIndent = defaults.Rendering.ThreadIndent
	}
	if cfg.Rendering.MaxThreadDepth == 0 {
		cfg.Rendering.MaxThreadDepth = defaults.Rendering.MaxThreadDepth
	}
	if cfg.Rendering.SummaryLength == 0 {
		cfg.Rendering.SummaryLength = defaults.Rendering.SummaryLength
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults, applies env overrides and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return Finalize(cfg)
}

// Finalize applies defaults and env overrides to a config built in code, then validates it
func Finalize(cfg *Config) (*Config, error) {
	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	if anchor := os.Getenv("ZAPTHREADS_ANCHOR"); anchor != "" {
		cfg.Anchor = anchor
	}

	if redisURL := os.Getenv("ZAPTHREADS_REDIS_URL"); redisURL != "" {
		cfg.Metadata.RedisURL = redisURL
	}

	if bunker := os.Getenv("ZAPTHREADS_BUNKER_URL"); bunker != "" {
		cfg.Signer.BunkerURL = bunker
	}

	// never read from the file so it does not end up in version control
	if secret := os.Getenv("ZAPTHREADS_CLIENT_SECRET"); secret != "" {
		cfg.Signer.ClientSecret = secret
	}

	if relays := os.Getenv("ZAPTHREADS_RELAYS"); relays != "" {
		cfg.Relays.URLs = strings.Split(relays, ",")
	}
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Relays: Relays{
			URLs: append([]string(nil), DefaultRelays...),
			Policy: RelayPolicy{
				ConnectTimeoutMs: 5000,
			},
		},
		Scheduler: Scheduler{
			NestDebounceMs:    16,
			ProfileDebounceMs: 1200,
		},
		Ingest: Ingest{
			VerifySignatures: true,
		},
		Metadata: Metadata{
			Cache:           "memory",
			CacheTTLSeconds: 3600,
		},
		Archive: Archive{
			Enabled:    false,
			Driver:     "memory",
			SQLitePath: "./data/zapthreads.db",
			Backup: Backup{
				IntervalMinutes: 1440,
				KeepDays:        7,
			},
		},
		Server: Server{
			Listen:         "127.0.0.1:8833",
			AllowedOrigins: []string{"*"},
			AllowReplies:   true,
		},
		Rendering: Rendering{
			ThreadIndent:   "  ",
			MaxThreadDepth: 10,
			SummaryLength:  100,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}
