// Package httpclient builds the HTTP clients used for outbound calls to the
// model gateway and the synthesis service.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const (
	// TimeoutShort suits health probes and small lookups.
	TimeoutShort = 10 * time.Second
	// TimeoutMedium suits ordinary API calls.
	TimeoutMedium = 30 * time.Second
	// TimeoutLong covers chat completions and speech synthesis, which can
	// run close to a minute on long replies.
	TimeoutLong = 60 * time.Second
)

type Config struct {
	Timeout   time.Duration
	Transport http.RoundTripper
}

type Option func(*Config)

func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithTransport sets a custom transport (e.g., for OTEL tracing).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Config) {
		c.Transport = rt
	}
}

// New returns a client with a pooled transport and a medium timeout.
func New(opts ...Option) *http.Client {
	cfg := &Config{
		Timeout:   TimeoutMedium,
		Transport: defaultTransport(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
	}
}

func NewShort(opts ...Option) *http.Client {
	return New(append([]Option{WithTimeout(TimeoutShort)}, opts...)...)
}

func NewLong(opts ...Option) *http.Client {
	return New(append([]Option{WithTimeout(TimeoutLong)}, opts...)...)
}

// defaultTransport keeps connections to the model gateway and the synthesis
// service warm; every chat turn makes several calls to each.
func defaultTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
}
