// Package httputil provides pooled HTTP clients for the external APIs.
package httputil

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	// ResponseTimeout bounds the whole request, body included.
	ResponseTimeout time.Duration

	KeepAliveInterval time.Duration
}

// DefaultClientConfig returns the shared defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewClient creates an HTTP client with its own connection pool.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}

// OpenAIClientConfig allows slow completions at modest concurrency.
func OpenAIClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConns = 20
	cfg.MaxIdleConnsPerHost = 20
	cfg.MaxConnsPerHost = 20
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.ResponseTimeout = 60 * time.Second
	return cfg
}

// GmailClientConfig sizes the pool to the send worker count.
func GmailClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConnsPerHost = 16
	cfg.MaxConnsPerHost = 32
	return cfg
}

var (
	openaiOnce   sync.Once
	openaiClient *http.Client
	gmailOnce    sync.Once
	gmailClient  *http.Client
)

// OpenAIClient returns the shared client for the OpenAI API.
func OpenAIClient() *http.Client {
	openaiOnce.Do(func() { openaiClient = NewClient(OpenAIClientConfig()) })
	return openaiClient
}

// GmailClient returns the shared base client for the Gmail API. OAuth
// transports wrap it.
func GmailClient() *http.Client {
	gmailOnce.Do(func() { gmailClient = NewClient(GmailClientConfig()) })
	return gmailClient
}
