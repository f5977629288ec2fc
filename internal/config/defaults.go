package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel   = "info"
	DefaultJSONLog    = false
	DefaultCacheDir   = "cache"
	DefaultOutputDir  = "export"
	DefaultHeadless   = false
	DefaultNavTimeout = 90 * time.Second
	DefaultRunTimeout = 2 * time.Hour

	// Pacing: at most one navigation every two seconds on average, plus a
	// randomized human-ish delay on top.
	DefaultRateRPS   = 0.5
	DefaultRateBurst = 1
	DefaultJitterMin = 500 * time.Millisecond
	DefaultJitterMax = 3 * time.Second

	DefaultHTTPTimeout = 30 * time.Second
)
