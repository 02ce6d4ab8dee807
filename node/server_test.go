//go:build linux
// +build linux

package node

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeMetrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := NewServer("127.0.0.1:0", Options{})
	s.SetMetricsAddr(addr)
	srv := s.serveMetrics()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	var body string
	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(b)
		return true
	}, 3*time.Second, 20*time.Millisecond)

	assert.Contains(t, body, "echopoll_connections_active")
	assert.Contains(t, body, "echopoll_bytes_read_total")
}
