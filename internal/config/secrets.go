package config

import (
	"net/url"
	"os"
)

// RedisURL returns the Redis URL to use, preferring the REDIS_URL
// environment variable over the configured value.
func RedisURL(cfg *Config) string {
	if u := os.Getenv("REDIS_URL"); u != "" {
		return u
	}
	if cfg == nil {
		return ""
	}
	return cfg.Dispatch.Redis.URL
}

// MaskURL hides the password component of a connection URL for display.
func MaskURL(raw string) string {
	if raw == "" {
		return "(not set)"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "xxxxx"
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
