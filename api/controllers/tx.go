package controllers

import (
	"net/http"

	"github.com/stockloghq/stocklog-backend/api/middleware"
	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/api/validators"
	"github.com/stockloghq/stocklog-backend/internal/audit"
	"github.com/stockloghq/stocklog-backend/internal/ledger"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

func TxList(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ledger.TxFilter{}

		if raw := r.URL.Query().Get("type"); raw != "" {
			txType, err := enums.ParseTxType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type").
					WithDetails(map[string]string{"field": "type"}))
				return
			}
			filter.Type = txType
		}

		var err error
		if filter.ItemID, err = validators.ParseQueryInt64(r, "item_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.WarehouseID, err = validators.ParseQueryInt64(r, "warehouse_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.DateFrom, err = validators.ParseQueryDate(r, "date_from"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.DateTo, err = validators.ParseQueryDate(r, "date_to"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.Limit, err = validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txs, err := svc.ListTransactions(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txs)
	}
}

// TxClear wipes the whole journal. Balances are untouched; the operation
// is recorded in the audit trail.
func TxClear(svc ledger.Service, auditSvc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := svc.ClearJournal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if auditSvc != nil {
			identity := middleware.IdentityFromContext(r.Context())
			auditSvc.Record(r.Context(), audit.Entry{
				Actor:  identity.Username,
				Role:   identity.Role.String(),
				Action: "tx.clear",
				Entity: "stock_tx",
				Detail: map[string]int64{"removed": removed},
				IP:     r.RemoteAddr,
			})
		}

		responses.WriteSuccess(w, map[string]int64{"removed": removed})
	}
}
