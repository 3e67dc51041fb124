package gree

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startResponder listens on a loopback port and answers each datagram
// with reply(request). A nil reply stays silent.
func startResponder(t *testing.T, reply func([]byte) []byte) int {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if out := reply(append([]byte(nil), buf[:n]...)); out != nil {
				_, _ = conn.WriteToUDP(out, addr)
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestUDPTransport_SendAndReceive(t *testing.T) {
	port := startResponder(t, func(req []byte) []byte {
		return append([]byte("echo:"), req...)
	})

	tr := NewUDPTransport()
	got, err := tr.SendAndReceive(context.Background(), "127.0.0.1", port, []byte(`{"t":"pack"}`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, `echo:{"t":"pack"}`, string(got))
}

func TestUDPTransport_TimeoutReturnsNil(t *testing.T) {
	port := startResponder(t, func([]byte) []byte { return nil })

	tr := NewUDPTransport()
	start := time.Now()
	got, err := tr.SendAndReceive(context.Background(), "127.0.0.1", port, []byte("x"), 100*time.Millisecond)

	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUDPTransport_ContextCancelUnblocks(t *testing.T) {
	port := startResponder(t, func([]byte) []byte { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	tr := NewUDPTransport()
	start := time.Now()
	got, err := tr.SendAndReceive(ctx, "127.0.0.1", port, []byte("x"), 10*time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUDPTransport_ScanSendsProbe(t *testing.T) {
	received := make(chan string, 1)
	port := startResponder(t, func(req []byte) []byte {
		received <- string(req)
		return []byte(`{"t":"pack","pack":"x"}`)
	})

	tr := NewUDPTransport()
	got, err := tr.Scan(context.Background(), "127.0.0.1", port, time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"t":"pack","pack":"x"}`, string(got))
	assert.Equal(t, `{"t":"scan"}`, <-received)
}

func TestIsBroadcast(t *testing.T) {
	assert.True(t, IsBroadcast("192.168.1.255"))
	assert.False(t, IsBroadcast("192.168.1.25"))
	assert.False(t, IsBroadcast("10.0.255.1"))
}
