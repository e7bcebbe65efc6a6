package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/verity/internal/config"
	"github.com/dativo-io/verity/internal/pipeline"
)

func openServer(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	v, err := pipeline.New(context.Background(), &config.Config{
		LedgerCapacity: 10, MaxFieldLength: 100, LowConfidence: 0.3,
	})
	require.NoError(t, err)
	return NewServer(v, opts...).Routes()
}

func fromAddr(h http.Handler, remoteAddr string, header http.Header) int {
	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/stats", nil)
	req.RemoteAddr = remoteAddr
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimit_OpenModeKeysOnHostNotPort(t *testing.T) {
	h := openServer(t, WithRateLimiter(NewRateLimiter(0, 1)))

	var codes []int
	for _, addr := range []string{"203.0.113.9:40001", "203.0.113.9:40002", "203.0.113.9:40003"} {
		codes = append(codes, fromAddr(h, addr, nil))
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)

	assert.Equal(t, http.StatusOK, fromAddr(h, "198.51.100.7:40001", nil), "other hosts keep their own bucket")
}

func TestRateLimit_ForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	h := openServer(t, WithRateLimiter(NewRateLimiter(0, 1)))

	assert.Equal(t, http.StatusOK, fromAddr(h, "203.0.113.9:1", http.Header{"X-Forwarded-For": {"192.0.2.1"}}))
	assert.Equal(t, http.StatusTooManyRequests, fromAddr(h, "203.0.113.9:2", http.Header{"X-Forwarded-For": {"192.0.2.2"}}),
		"a spoofed header must not buy a fresh bucket")
}

func TestRateLimit_ForwardedForFromTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	h := openServer(t, WithTrustedProxies(proxies), WithRateLimiter(NewRateLimiter(0, 1)))

	assert.Equal(t, http.StatusOK, fromAddr(h, "10.0.0.5:1", http.Header{"X-Forwarded-For": {"192.0.2.1"}}))
	assert.Equal(t, http.StatusOK, fromAddr(h, "10.0.0.5:2", http.Header{"X-Forwarded-For": {"192.0.2.2"}}))
	assert.Equal(t, http.StatusTooManyRequests, fromAddr(h, "10.0.0.6:3", http.Header{"X-Forwarded-For": {"192.0.2.1"}}))
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "fd00::/8"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote string
		xff    string
		xrip   string
		want   string
	}{
		{"port stripped", "203.0.113.9:5000", "", "", "203.0.113.9"},
		{"ipv6 port stripped", "[2001:db8::1]:5000", "", "", "2001:db8::1"},
		{"no port", "203.0.113.9", "", "", "203.0.113.9"},
		{"untrusted peer ignores xff", "203.0.113.9:5000", "192.0.2.1", "", "203.0.113.9"},
		{"untrusted peer ignores x-real-ip", "203.0.113.9:5000", "", "192.0.2.1", "203.0.113.9"},
		{"trusted peer uses xff", "10.1.2.3:5000", "192.0.2.1", "", "192.0.2.1"},
		{"rightmost untrusted hop wins", "10.1.2.3:5000", "198.51.100.1, 192.0.2.1, 10.9.9.9", "", "192.0.2.1"},
		{"all hops trusted", "10.1.2.3:5000", "10.2.2.2, 10.3.3.3", "", "10.2.2.2"},
		{"trusted peer uses x-real-ip", "10.1.2.3:5000", "", "192.0.2.7", "192.0.2.7"},
		{"garbage xff falls back", "10.1.2.3:5000", "not-an-ip", "", "10.1.2.3"},
		{"trusted ipv6 proxy", "[fd00::1]:443", "2001:db8::5", "", "2001:db8::5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xrip != "" {
				req.Header.Set("X-Real-IP", tt.xrip)
			}
			assert.Equal(t, tt.want, clientIP(req, trusted))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{" 10.1.2.3/8 "})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}, got)

	_, err = ParseTrustedProxies([]string{"10.0.0.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trusted proxy")
}

func TestRateLimiter_PrunesIdleCallers(t *testing.T) {
	rl := NewRateLimiter(0, 60)
	rl.mu.Lock()
	for i := 0; i < maxIdleCallers; i++ {
		rl.callers[netip.AddrFrom4([4]byte{10, byte(i >> 16), byte(i >> 8), byte(i)}).String()] = rl.newBucket()
	}
	rl.mu.Unlock()

	assert.True(t, rl.Allow("192.0.2.1"))
	assert.Equal(t, 1, rl.Callers(), "untouched buckets are dropped once the table is full")
}
