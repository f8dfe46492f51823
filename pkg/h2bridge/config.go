// Package h2bridge aggregates per-stream HTTP/2 frame events into complete
// HTTP/1.x-style request and response messages.
package h2bridge

import (
	"fmt"
	"io"
	"log"
)

// Config holds the aggregation adapter configuration.
type Config struct {
	Server           bool        // Endpoint role: a server builds requests, a client builds responses
	MaxContentLength int         // Maximum accumulated body length per stream (required, positive)
	ValidateHeaders  bool        // Enable HTTP/1.x header well-formedness checking
	Logger           *log.Logger // Logger for adapter events
}

// newSilentLogger creates a silent logger that discards all output
func newSilentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Server:           true,
		MaxContentLength: 1 << 20, // 1 MB
		ValidateHeaders:  true,
		Logger:           newSilentLogger(),
	}
}

// Validate checks and normalizes the configuration values.
func (c *Config) Validate() error {
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MaxContentLength must be a positive integer: %d", c.MaxContentLength)
	}
	if c.Logger == nil {
		c.Logger = newSilentLogger()
	}
	return nil
}
