package controllers

import (
	"net/http"

	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/internal/ledger"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
)

func ReportSummary(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.Summary(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
