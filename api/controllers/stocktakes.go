package controllers

import (
	"net/http"

	"github.com/stockloghq/stocklog-backend/api/middleware"
	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/api/validators"
	"github.com/stockloghq/stocklog-backend/internal/audit"
	"github.com/stockloghq/stocklog-backend/internal/stocktake"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

type stocktakeCreateRequest struct {
	WarehouseID int64 `json:"warehouse_id" validate:"required,gt=0"`
}

type stocktakeImportLine struct {
	SKU        string `json:"sku" validate:"required,min=1,max=64"`
	CountedQty *int64 `json:"counted_qty"`
}

type stocktakeImportRequest struct {
	Lines []stocktakeImportLine `json:"lines" validate:"required,min=1,max=5000,dive"`
}

func StocktakeCreate(svc stocktake.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stocktakeCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.Create(r.Context(), stocktake.CreateInput{
			WarehouseID: req.WarehouseID,
			CreatedBy:   middleware.IdentityFromContext(r.Context()).Username,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, detail)
	}
}

func StocktakeList(svc stocktake.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stocktakes, err := svc.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stocktakes)
	}
}

func StocktakeGet(svc stocktake.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

func StocktakeImport(svc stocktake.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req stocktakeImportRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]stocktake.CountLine, 0, len(req.Lines))
		for _, line := range req.Lines {
			lines = append(lines, stocktake.CountLine{SKU: line.SKU, CountedQty: line.CountedQty})
		}

		result, err := svc.ImportCounts(r.Context(), id, lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func StocktakeApply(svc stocktake.Service, auditSvc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		identity := middleware.IdentityFromContext(r.Context())
		result, err := svc.Apply(r.Context(), id, identity.Username)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if auditSvc != nil {
			auditSvc.Record(r.Context(), audit.Entry{
				Actor:  identity.Username,
				Role:   identity.Role.String(),
				Action: "stocktake.apply",
				Entity: "stocktake",
				Detail: result,
				IP:     r.RemoteAddr,
			})
		}
		responses.WriteSuccess(w, result)
	}
}

func StocktakeRollback(svc stocktake.Service, auditSvc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		identity := middleware.IdentityFromContext(r.Context())
		result, err := svc.Rollback(r.Context(), id, identity.Username)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if auditSvc != nil {
			auditSvc.Record(r.Context(), audit.Entry{
				Actor:  identity.Username,
				Role:   identity.Role.String(),
				Action: "stocktake.rollback",
				Entity: "stocktake",
				Detail: result,
				IP:     r.RemoteAddr,
			})
		}
		responses.WriteSuccess(w, result)
	}
}

func StocktakeDelete(svc stocktake.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"deleted": true})
	}
}
