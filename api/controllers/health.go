package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/pkg/config"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stocklog-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports readiness after probing the datasource and, when
// wired, the counter store. A nil pinger is treated as not configured and
// skipped.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stocklog-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{}
		probe := func(name string, p pinger) bool {
			if p == nil {
				checks[name] = "skipped"
				return true
			}
			if err := p.Ping(ctx); err != nil {
				checks[name] = "down"
				return false
			}
			checks[name] = "up"
			return true
		}

		ready := probe("database", dbP)
		ready = probe("redis", redisP) && ready

		if !ready {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
