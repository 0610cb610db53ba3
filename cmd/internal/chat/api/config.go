package chatapi

import "time"

// Config controls HTTP API limits.
type Config struct {
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
	// SendRateEvents/SendRateWindow throttle sends per sender_id; zero disables.
	SendRateEvents int
	SendRateWindow time.Duration
}

// DefaultConfig returns the API defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   1 << 20,
		SendRateEvents: 120,
		SendRateWindow: 10 * time.Second,
	}
}
