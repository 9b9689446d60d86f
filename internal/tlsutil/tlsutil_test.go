package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)

	aead := []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	}
	for _, cs := range cfg.CipherSuites {
		assert.Contains(t, aead, cs, "unexpected non-AEAD cipher suite")
	}
}

func TestSecureTransport(t *testing.T) {
	tr := SecureTransport()
	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.NotNil(t, tr.Proxy)
	assert.Equal(t, 64, tr.MaxIdleConnsPerHost)
	assert.Zero(t, tr.ResponseHeaderTimeout)
	assert.Zero(t, tr.MaxConnsPerHost)
}

func TestSecureTransport_Options(t *testing.T) {
	tr := SecureTransport(WithResponseHeaderTimeout(20*time.Second), WithMaxConnsPerHost(8))
	assert.Equal(t, 20*time.Second, tr.ResponseHeaderTimeout)
	assert.Equal(t, 8, tr.MaxConnsPerHost)
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, client.Timeout)
	require.NotNil(t, client.Transport)

	streaming := SecureHTTPClient(0, WithResponseHeaderTimeout(time.Second))
	assert.Zero(t, streaming.Timeout)
	assert.Equal(t, time.Second, streaming.Transport.(*http.Transport).ResponseHeaderTimeout)
}
