package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/pkg/config"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
)

// RateCounter is the fixed-window counter surface the limiter needs.
type RateCounter interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// WriteRateLimit enforces a fixed-window counter per actor on mutating
// endpoints. Unauthenticated requests fall back to the client IP. With no
// backing store the middleware is a pass-through.
func WriteRateLimit(cfg config.RateLimitConfig, store RateCounter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || cfg.WriteLimit <= 0 || cfg.WriteWindow <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			subject := IdentityFromContext(ctx).Username
			if subject == "" {
				subject = clientIP(r)
			}
			key := fmt.Sprintf("rl:write:%s", subject)

			count, err := store.IncrWithTTL(ctx, key, cfg.WriteWindow)
			if err != nil {
				// the counter store being down never blocks writes
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "rate_limit_key", key), "rate limit counter unavailable")
				}
				next.ServeHTTP(w, r)
				return
			}
			if count > int64(cfg.WriteLimit) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many write requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
