package controllers

import (
	"net/http"

	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/api/validators"
	"github.com/stockloghq/stocklog-backend/internal/audit"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

func AuditList(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.List(r.Context(), audit.Filter{
			Action: r.URL.Query().Get("action"),
			Actor:  r.URL.Query().Get("actor"),
			Limit:  limit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}
