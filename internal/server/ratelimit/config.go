package ratelimit

import "time"

// EndpointConfig limits one method and path. A Path ending in "/" matches
// every path below it.
type EndpointConfig struct {
	Path   string
	Method string
	// Rate is the sustained number of requests per second.
	Rate  float64
	Burst int
}

// Config holds rate limiting configuration. Requests that match no endpoint
// are not limited.
type Config struct {
	Enabled         bool
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Endpoints       []EndpointConfig
}

// NewConfig limits the endpoints that start audits, generations and
// deployments to ratePerSecond per client. A zero rate disables limiting.
func NewConfig(ratePerSecond float64, burst int) *Config {
	return &Config{
		Enabled:         ratePerSecond > 0,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Endpoints:       DefaultEndpointConfigs(ratePerSecond, burst),
	}
}

// DefaultEndpointConfigs returns the expensive endpoints with the given limits.
func DefaultEndpointConfigs(ratePerSecond float64, burst int) []EndpointConfig {
	return []EndpointConfig{
		{Path: "/audits", Method: "POST", Rate: ratePerSecond, Burst: burst},
		{Path: "/generations", Method: "POST", Rate: ratePerSecond, Burst: burst},
		// deployments
		{Path: "/generations/", Method: "POST", Rate: ratePerSecond, Burst: burst},
	}
}
