package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stockloghq/stocklog-backend/api/middleware"
	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/api/validators"
	"github.com/stockloghq/stocklog-backend/internal/audit"
	"github.com/stockloghq/stocklog-backend/internal/catalog"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

type itemCreateRequest struct {
	SKU        string  `json:"sku" validate:"required,min=1,max=64"`
	Name       string  `json:"name" validate:"required,min=1,max=256"`
	Brand      *string `json:"brand,omitempty"`
	Model      *string `json:"model,omitempty"`
	Category   *string `json:"category,omitempty"`
	Unit       string  `json:"unit,omitempty" validate:"omitempty,max=32"`
	WarningQty int64   `json:"warning_qty,omitempty" validate:"gte=0"`
}

type itemUpdateRequest struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1,max=256"`
	Brand      *string `json:"brand,omitempty"`
	Model      *string `json:"model,omitempty"`
	Category   *string `json:"category,omitempty"`
	Unit       *string `json:"unit,omitempty" validate:"omitempty,min=1,max=32"`
	WarningQty *int64  `json:"warning_qty,omitempty" validate:"omitempty,gte=0"`
	Enabled    *bool   `json:"enabled,omitempty"`
}

func ItemCreate(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req itemCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := svc.CreateItem(r.Context(), catalog.CreateItemInput{
			SKU:        req.SKU,
			Name:       req.Name,
			Brand:      req.Brand,
			Model:      req.Model,
			Category:   req.Category,
			Unit:       req.Unit,
			WarningQty: req.WarningQty,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, item)
	}
}

type itemImportLine struct {
	SKU        string  `json:"sku"`
	Name       string  `json:"name"`
	Brand      *string `json:"brand,omitempty"`
	Model      *string `json:"model,omitempty"`
	Category   *string `json:"category,omitempty"`
	Unit       string  `json:"unit,omitempty" validate:"omitempty,max=32"`
	WarningQty int64   `json:"warning_qty,omitempty"`
}

type itemImportRequest struct {
	Mode  string           `json:"mode,omitempty" validate:"omitempty,oneof=upsert skip overwrite"`
	Items []itemImportLine `json:"items" validate:"required,min=1,max=5000"`
}

// ItemImport bulk-loads catalog rows, typically from a spreadsheet export.
// Blank SKUs or names are reported per row rather than failing the whole
// request.
func ItemImport(svc catalog.Service, auditSvc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req itemImportRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]catalog.ImportLine, 0, len(req.Items))
		for _, row := range req.Items {
			lines = append(lines, catalog.ImportLine{
				SKU:        row.SKU,
				Name:       row.Name,
				Brand:      row.Brand,
				Model:      row.Model,
				Category:   row.Category,
				Unit:       row.Unit,
				WarningQty: row.WarningQty,
			})
		}

		result, err := svc.ImportItems(r.Context(), catalog.ImportItemsInput{Mode: req.Mode, Lines: lines})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if auditSvc != nil {
			identity := middleware.IdentityFromContext(r.Context())
			auditSvc.Record(r.Context(), audit.Entry{
				Actor:  identity.Username,
				Role:   identity.Role.String(),
				Action: "item.import",
				Entity: "item",
				Detail: result,
				IP:     r.RemoteAddr,
			})
		}

		responses.WriteSuccess(w, result)
	}
}

func ItemUpdate(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req itemUpdateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := svc.UpdateItem(r.Context(), id, catalog.UpdateItemInput{
			Name:       req.Name,
			Brand:      req.Brand,
			Model:      req.Model,
			Category:   req.Category,
			Unit:       req.Unit,
			WarningQty: req.WarningQty,
			Enabled:    req.Enabled,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, item)
	}
}

func ItemDisable(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := svc.DisableItem(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, item)
	}
}

func ItemList(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := catalog.ItemListFilter{
			Keyword:  r.URL.Query().Get("keyword"),
			Category: r.URL.Query().Get("category"),
			Limit:    limit,
		}
		if raw := r.URL.Query().Get("enabled"); raw != "" {
			enabled := validators.ParseQueryBool(r, "enabled")
			filter.Enabled = &enabled
		}

		items, err := svc.ListItems(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

func ItemCategories(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := svc.ListCategories(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, categories)
	}
}

func pathID(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid path id").WithDetails(map[string]string{"field": key})
	}
	return id, nil
}
