// Package tlsutil builds the outbound HTTP client used to reach model
// providers. 安全加固：TLS 1.2+，仅 AEAD 密码套件。
package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTLSConfig returns a hardened TLS configuration.
// MinVersion TLS 1.2, AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// TransportOption adjusts the transport built by SecureTransport.
type TransportOption func(*http.Transport)

// WithResponseHeaderTimeout bounds the wait for response headers.
// Streaming bodies are not affected.
func WithResponseHeaderTimeout(d time.Duration) TransportOption {
	return func(t *http.Transport) { t.ResponseHeaderTimeout = d }
}

// WithMaxConnsPerHost caps concurrent connections to one provider host.
func WithMaxConnsPerHost(n int) TransportOption {
	return func(t *http.Transport) { t.MaxConnsPerHost = n }
}

// SecureTransport returns an http.Transport with TLS hardening. Providers
// are few hosts with many concurrent streams, so idle connections are kept
// per host rather than globally. Proxies follow HTTPS_PROXY / NO_PROXY.
func SecureTransport(opts ...TransportOption) *http.Transport {
	t := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SecureHTTPClient returns an http.Client with TLS hardening. A zero
// timeout leaves the deadline to the request context, which streaming
// relays require.
func SecureHTTPClient(timeout time.Duration, opts ...TransportOption) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(opts...),
	}
}
