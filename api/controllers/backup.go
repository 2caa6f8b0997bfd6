package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/stockloghq/stocklog-backend/api/middleware"
	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/api/validators"
	"github.com/stockloghq/stocklog-backend/internal/audit"
	"github.com/stockloghq/stocklog-backend/internal/backup"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
)

// BackupExport streams the backup document straight to the response.
// Once the first byte is written the status code is committed, so a
// mid-stream failure can only be logged and the connection dropped.
func BackupExport(svc backup.Service, auditSvc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := backup.Options{
			IncludeTx:         validators.ParseQueryBool(r, "include_tx"),
			IncludeStocktakes: validators.ParseQueryBool(r, "include_stocktake"),
			IncludeAudit:      validators.ParseQueryBool(r, "include_audit"),
			Gzip:              validators.ParseQueryBool(r, "gzip"),
		}

		if opts.Gzip {
			w.Header().Set("Content-Type", "application/gzip")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		if validators.ParseQueryBool(r, "download") {
			name := fmt.Sprintf("stocklog-backup-%s.json", time.Now().UTC().Format("20060102-150405"))
			if opts.Gzip {
				name += ".gz"
			}
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		}

		if auditSvc != nil {
			identity := middleware.IdentityFromContext(r.Context())
			auditSvc.Record(r.Context(), audit.Entry{
				Actor:  identity.Username,
				Role:   identity.Role.String(),
				Action: "backup.export",
				Entity: "backup",
				Detail: opts,
				IP:     r.RemoteAddr,
			})
		}

		if err := svc.Export(r.Context(), opts, w); err != nil {
			if logg != nil {
				logg.Error(r.Context(), "backup export aborted", err)
			}
			responses.WriteError(r.Context(), logg, w, err)
		}
	}
}
