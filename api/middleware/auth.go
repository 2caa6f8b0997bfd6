package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/stockloghq/stocklog-backend/api/responses"
	pkgauth "github.com/stockloghq/stocklog-backend/pkg/auth"
	"github.com/stockloghq/stocklog-backend/pkg/config"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the
// actor identity.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			identity := claims.Identity()
			ctx := context.WithValue(r.Context(), ctxIdentity, identity)

			if logg != nil {
				ctx = logg.WithActor(ctx, identity.Username)
				ctx = logg.WithActorRole(ctx, identity.Role.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
