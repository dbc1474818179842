package config

import (
	"time"

	"github.com/polarityio/dataminr-pulse-limited/core"
)

// WithURL sets the vendor base URL.
func WithURL(url string) Option {
	return func(c *Config) error {
		c.URL = url
		return nil
	}
}

// WithCredentials sets the clientId/clientSecret pair used for token auth.
func WithCredentials(clientID, clientSecret string) Option {
	return func(c *Config) error {
		c.ClientID = clientID
		c.ClientSecret = clientSecret
		return nil
	}
}

// WithPollInterval overrides the alerts-poll period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.PollInterval = d
		return nil
	}
}

// WithTimezone sets the render timezone hint.
func WithTimezone(tz string) Option {
	return func(c *Config) error {
		c.Timezone = tz
		return nil
	}
}

// WithListsToWatch normalizes entries into the read-time list-id filter.
func WithListsToWatch(entries ...WatchEntry) Option {
	return func(c *Config) error {
		c.ListsToWatch = entries
		c.ListIDs = normalizeWatchEntries(entries)
		return nil
	}
}

// WithAlertTypesToWatch normalizes entries into the admission-time type filter.
func WithAlertTypesToWatch(entries ...WatchEntry) Option {
	return func(c *Config) error {
		c.AlertTypesToWatch = entries
		if normalized := normalizeWatchEntries(entries); len(normalized) > 0 {
			c.AlertTypes = normalized
		}
		return nil
	}
}

// WithTrialMode toggles the lookup response suppression flag.
func WithTrialMode(enabled bool) Option {
	return func(c *Config) error {
		c.TrialMode = enabled
		return nil
	}
}

// WithHMACMode switches the gateway/polling engine to the HMAC/ZIP
// bulk variant instead of the token/cursor path.
func WithHMACMode(downloadURL string) Option {
	return func(c *Config) error {
		c.HMACMode = true
		c.DownloadURL = downloadURL
		return nil
	}
}

// WithCacheBounds overrides the store's item-count and max-age bounds.
func WithCacheBounds(maxItems int, maxAge time.Duration) Option {
	return func(c *Config) error {
		c.CacheMaxItems = maxItems
		c.CacheMaxAgeMs = maxAge.Milliseconds()
		return nil
	}
}

// WithConfigFile loads setListsToWatch/setAlertTypesToWatch overrides
// from a JSON or YAML file, applied after defaults/env but still
// before later options in the call list.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithLogger stores a logger on the Config. Validate and LoadFromFile
// do not log through it.
func WithLogger(logger core.Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}
