// File: internal/netgate/transport.go
package netgate

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Upstream connection defaults, tuned for interactive browsing through
// the gateway rather than batch scanning.
const (
	defaultDialTimeout           = 5 * time.Second
	defaultKeepAliveInterval     = 15 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 20 * time.Second
	defaultMaxIdleConns          = 100
	defaultMaxIdleConnsPerHost   = 10
	defaultIdleConnTimeout       = 60 * time.Second
)

// upstreamTransport builds the transport used for origin-server requests.
// Upstream certificate errors are ignored: the gateway re-signs traffic
// with its own CA, and the browser trusts that CA, so upstream trust is
// the gateway's decision to make and a hard failure would just blind the
// assessment.
func upstreamTransport(logger *zap.Logger) *http.Transport {
	dialer := &net.Dialer{
		Timeout:       defaultDialTimeout,
		KeepAlive:     defaultKeepAliveInterval,
		FallbackDelay: 300 * time.Millisecond,
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ForceAttemptHTTP2:     true,
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
	}
	return transport
}
