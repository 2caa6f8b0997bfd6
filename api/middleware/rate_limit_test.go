package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stockloghq/stocklog-backend/pkg/auth"
	"github.com/stockloghq/stocklog-backend/pkg/config"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
)

type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	fail   bool
}

func (c *memoryCounter) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.fail {
		return 0, errors.New("counter down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[key]++
	return c.counts[key], nil
}

func limitedHandler(counter RateCounter, limit int) http.Handler {
	cfg := config.RateLimitConfig{WriteWindow: time.Minute, WriteLimit: limit}
	return WriteRateLimit(cfg, counter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestWriteRateLimitBlocksOverLimit(t *testing.T) {
	handler := limitedHandler(&memoryCounter{}, 2)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), auth.Identity{Username: "bob", Role: enums.RoleOperator}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), auth.Identity{Username: "bob", Role: enums.RoleOperator}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
}

func TestWriteRateLimitIsPerActor(t *testing.T) {
	handler := limitedHandler(&memoryCounter{}, 1)

	for _, actor := range []string{"bob", "carol"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), auth.Identity{Username: actor, Role: enums.RoleOperator}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}

func TestWriteRateLimitFailsOpen(t *testing.T) {
	handler := limitedHandler(&memoryCounter{fail: true}, 1)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), auth.Identity{Username: "bob", Role: enums.RoleOperator}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}

func TestWriteRateLimitDisabledWithoutStore(t *testing.T) {
	handler := limitedHandler(nil, 1)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}
