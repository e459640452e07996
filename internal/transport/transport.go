// Package transport provides the shared HTTP transport used for all
// upstream provider calls. A single tuned transport keeps connection pools
// warm across requests instead of paying dial and TLS costs per call.
package transport

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Config holds transport settings tuned for long-lived streaming calls.
var Config = struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	H2ReadIdleTimeout     time.Duration
	H2PingTimeout         time.Duration
}{
	MaxIdleConns:        200,
	MaxIdleConnsPerHost: 32,

	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	// Providers can sit on a request for a long time before the first
	// byte when the prompt is large.
	ResponseHeaderTimeout: 600 * time.Second,
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,

	// HTTP/2 pings detect half-dead streaming connections.
	H2ReadIdleTimeout: 30 * time.Second,
	H2PingTimeout:     15 * time.Second,
}

var (
	sharedOnce sync.Once
	shared     *http.Transport
)

// Shared returns the process-wide upstream transport.
func Shared() *http.Transport {
	sharedOnce.Do(func() {
		shared = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   Config.DialTimeout,
				KeepAlive: Config.KeepAlive,
			}).DialContext,
			MaxIdleConns:          Config.MaxIdleConns,
			MaxIdleConnsPerHost:   Config.MaxIdleConnsPerHost,
			IdleConnTimeout:       Config.IdleConnTimeout,
			TLSHandshakeTimeout:   Config.TLSHandshakeTimeout,
			ExpectContinueTimeout: Config.ExpectContinueTimeout,
			ResponseHeaderTimeout: Config.ResponseHeaderTimeout,
			ForceAttemptHTTP2:     true,
			// Bodies are decompressed explicitly so streaming reads stay
			// byte-accurate; see provider.decodeBody.
			DisableCompression: true,
		}
		if h2, err := http2.ConfigureTransports(shared); err == nil {
			h2.ReadIdleTimeout = Config.H2ReadIdleTimeout
			h2.PingTimeout = Config.H2PingTimeout
		}
	})
	return shared
}

// Client returns an http.Client over the shared transport. The client
// carries no timeout of its own; per-request deadlines come from contexts.
func Client() *http.Client {
	return &http.Client{Transport: Shared()}
}
