package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Validate checks the configuration and reports every problem found
func Validate(cfg *Config) error {
	var result *multierror.Error

	if cfg.Anchor == "" {
		result = multierror.Append(result, fmt.Errorf("anchor is required"))
	} else if !strings.HasPrefix(cfg.Anchor, "naddr") && !strings.HasPrefix(cfg.Anchor, "http") {
		result = multierror.Append(result, fmt.Errorf("anchor must be a NIP-19 naddr or an http(s) URL, got %q", cfg.Anchor))
	}

	for _, relay := range cfg.Relays.URLs {
		u, err := url.Parse(relay)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("invalid relay url %q", relay))
		}
	}

	if cfg.Scheduler.NestDebounceMs < 0 || cfg.Scheduler.ProfileDebounceMs < 0 {
		result = multierror.Append(result, fmt.Errorf("scheduler windows must not be negative"))
	}

	switch cfg.Metadata.Cache {
	case "memory", "none":
	case "redis":
		if cfg.Metadata.RedisURL == "" {
			result = multierror.Append(result, fmt.Errorf("metadata.redis_url is required when metadata.cache is redis"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unsupported metadata cache: %s", cfg.Metadata.Cache))
	}

	if cfg.Archive.Enabled {
		switch cfg.Archive.Driver {
		case "memory":
		case "sqlite":
			if cfg.Archive.SQLitePath == "" {
				result = multierror.Append(result, fmt.Errorf("archive.sqlite_path is required for the sqlite driver"))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("unsupported archive driver: %s", cfg.Archive.Driver))
		}
		if cfg.Archive.Backup.Dir != "" && cfg.Archive.Backup.IntervalMinutes < 0 {
			result = multierror.Append(result, fmt.Errorf("archive.backup.interval_minutes must not be negative"))
		}
	}

	if cfg.Signer.BunkerURL != "" && !strings.HasPrefix(cfg.Signer.BunkerURL, "bunker://") {
		result = multierror.Append(result, fmt.Errorf("signer.bunker_url must start with bunker://"))
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("unsupported logging format: %s", cfg.Logging.Format))
	}

	return result.ErrorOrNil()
}
