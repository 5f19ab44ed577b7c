package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/importoor/pkg/config"
)

func TestRateLimiterMap_Allow(t *testing.T) {
	rl := newRateLimiterMap(2)
	now := time.Now()

	assert.True(t, rl.allow("10.0.0.1", now))
	assert.True(t, rl.allow("10.0.0.1", now))
	assert.False(t, rl.allow("10.0.0.1", now))

	// Separate bucket per client.
	assert.True(t, rl.allow("10.0.0.2", now))

	// One token refills every 30s at 2 requests per minute.
	assert.True(t, rl.allow("10.0.0.1", now.Add(31*time.Second)))
}

func TestRateLimiterMap_Evict(t *testing.T) {
	rl := newRateLimiterMap(10)
	now := time.Now()

	rl.allow("stale", now.Add(-time.Hour))
	rl.allow("fresh", now)

	rl.evict(now, rateLimitEntryTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	assert.NotContains(t, rl.limiters, "stale")
	assert.Contains(t, rl.limiters, "fresh")
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = config.RateLimitConfig{
		Enabled: true,
		Import:  config.RateLimitTier{RequestsPerMinute: 10},
		Query:   config.RateLimitTier{RequestsPerMinute: 2},
	}

	ts := setupTestServer(t, cfg, nil)

	for range 2 {
		rec := ts.get("/api/v1/results")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ts.get("/api/v1/results")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", decodeError(t, rec))

	// Health is not rate limited.
	rec = ts.get("/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another client still has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/results", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	rec = ts.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		expected   string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.1:1234", expected: "192.0.2.1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.1", expected: "192.0.2.1"},
		{
			name:       "forwarded for single",
			remoteAddr: "10.0.0.1:80",
			xff:        "203.0.113.7",
			expected:   "203.0.113.7",
		},
		{
			name:       "forwarded for chain",
			remoteAddr: "10.0.0.1:80",
			xff:        " 203.0.113.7 , 10.0.0.2",
			expected:   "203.0.113.7",
		},
		{
			name:       "blank forwarded for",
			remoteAddr: "[2001:db8::1]:443",
			xff:        " ",
			expected:   "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr

			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.expected, extractIP(req))
		})
	}
}
