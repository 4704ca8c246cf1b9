// Package connectivity reports whether the backend is reachable.
//
// The oracle is consulted freshly on every repository call; connectivity
// can flip between calls in an offline-first app, so nothing here caches
// the answer beyond what the underlying platform API does.
package connectivity

import (
	"context"
	"net"
	"time"
)

// Oracle is the network-availability predicate.
type Oracle interface {
	Online(ctx context.Context) bool
}

// OracleFunc adapts a plain function to the Oracle interface. Platform
// shells wrap their native connectivity APIs with this.
type OracleFunc func(ctx context.Context) bool

// Online implements Oracle.
func (f OracleFunc) Online(ctx context.Context) bool { return f(ctx) }

// Always reports the network as permanently available. Useful as a default
// and in tests.
var Always Oracle = OracleFunc(func(context.Context) bool { return true })

// Probe checks reachability by dialing the configured address with a short
// timeout. It is the fallback for environments without a platform
// connectivity API.
type Probe struct {
	// Addr is a host:port to dial, typically the API host on 443.
	Addr string

	// Timeout bounds the dial. Defaults to 1s.
	Timeout time.Duration
}

// Online implements Oracle by attempting a TCP dial.
func (p *Probe) Online(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
