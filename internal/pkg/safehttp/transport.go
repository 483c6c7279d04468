// Package safehttp provides an HTTP transport that refuses to dial private
// addresses, for outbound calls to operator-configured webhook URLs.
package safehttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrPrivateAddress is returned when a connection resolves to a loopback,
// private or link-local address.
var ErrPrivateAddress = errors.New("private address denied")

// NewTransport returns a transport that checks the remote IP of every new
// connection before any bytes are written.
func NewTransport(dialTimeout time.Duration) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if ip == nil {
			conn.Close()
			return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
		}
		if IsPrivate(ip) {
			conn.Close()
			return nil, fmt.Errorf("dial %s: %w: %s", addr, ErrPrivateAddress, ip)
		}
		return conn, nil
	}
	return base
}

// IsPrivate reports whether ip is loopback, private, link-local or unspecified.
func IsPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
