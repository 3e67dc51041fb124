package gree

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the UDP port appliances listen on.
const DefaultPort = 7000

// DefaultTimeout bounds a single request/response exchange.
const DefaultTimeout = 5 * time.Second

// maxDatagramSize is the largest reply read from the socket.
const maxDatagramSize = 65535

// scanProbe is sent verbatim, without an envelope.
var scanProbe = []byte(`{"t":"scan"}`)

// Transport exchanges single datagrams with appliances.
//
// Both methods return (nil, nil) when no reply arrives within timeout.
// A cancelled context returns ctx.Err().
type Transport interface {
	SendAndReceive(ctx context.Context, ip string, port int, request []byte, timeout time.Duration) ([]byte, error)
	Scan(ctx context.Context, target string, port int, timeout time.Duration) ([]byte, error)
}

// UDPTransport is the network Transport. It opens a fresh socket per
// exchange, so replies to one request never leak into another.
type UDPTransport struct{}

// NewUDPTransport creates a UDP transport.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{}
}

// SendAndReceive sends request to ip:port and waits for one reply.
func (t *UDPTransport) SendAndReceive(ctx context.Context, ip string, port int, request []byte, timeout time.Duration) ([]byte, error) {
	return t.exchange(ctx, ip, port, request, timeout, false)
}

// Scan sends the discovery probe to target and returns the first reply.
// Targets ending in ".255" are treated as broadcast addresses.
func (t *UDPTransport) Scan(ctx context.Context, target string, port int, timeout time.Duration) ([]byte, error) {
	return t.exchange(ctx, target, port, scanProbe, timeout, IsBroadcast(target))
}

// IsBroadcast reports whether target is an IPv4 broadcast address.
func IsBroadcast(target string) bool {
	return strings.HasSuffix(target, ".255")
}

func (t *UDPTransport) exchange(ctx context.Context, host string, port int, payload []byte, timeout time.Duration, broadcast bool) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}

	var lc net.ListenConfig
	if broadcast {
		lc.Control = enableBroadcast
	}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("opening socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	// Cancellation unblocks the read by expiring the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now()) //nolint:errcheck // best effort unblock
	})
	defer stop()

	if _, err := conn.WriteTo(payload, raddr); err != nil {
		return nil, fmt.Errorf("sending to %s: %w", raddr, err)
	}

	buf := make([]byte, maxDatagramSize)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("receiving from %s: %w", raddr, err)
	}

	return buf[:n], nil
}
