package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/stockloghq/stocklog-backend/api/middleware"
	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/api/validators"
	"github.com/stockloghq/stocklog-backend/internal/ledger"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

type stockInRequest struct {
	ItemID          int64            `json:"item_id" validate:"required,gt=0"`
	WarehouseID     int64            `json:"warehouse_id" validate:"required,gt=0"`
	Qty             int64            `json:"qty" validate:"required,gt=0"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	Source          *string          `json:"source,omitempty" validate:"omitempty,max=128"`
	Remark          *string          `json:"remark,omitempty" validate:"omitempty,max=512"`
	ClientRequestID string           `json:"client_request_id,omitempty" validate:"omitempty,max=128"`
}

type stockOutRequest struct {
	ItemID          int64   `json:"item_id" validate:"required,gt=0"`
	WarehouseID     int64   `json:"warehouse_id" validate:"required,gt=0"`
	Qty             int64   `json:"qty" validate:"required,gt=0"`
	Target          *string `json:"target,omitempty" validate:"omitempty,max=128"`
	Remark          *string `json:"remark,omitempty" validate:"omitempty,max=512"`
	ClientRequestID string  `json:"client_request_id,omitempty" validate:"omitempty,max=128"`
}

type batchLineRequest struct {
	SKU    string  `json:"sku" validate:"required,min=1,max=64"`
	Qty    int64   `json:"qty" validate:"required,gt=0"`
	Remark *string `json:"remark,omitempty" validate:"omitempty,max=512"`
}

type batchRequest struct {
	WarehouseID     int64              `json:"warehouse_id" validate:"required,gt=0"`
	Source          *string            `json:"source,omitempty" validate:"omitempty,max=128"`
	Target          *string            `json:"target,omitempty" validate:"omitempty,max=128"`
	Remark          *string            `json:"remark,omitempty" validate:"omitempty,max=512"`
	ClientRequestID string             `json:"client_request_id,omitempty" validate:"omitempty,max=128"`
	Lines           []batchLineRequest `json:"lines" validate:"required,min=1,max=500,dive"`
}

func (req batchRequest) toInput(actor string) ledger.BatchInput {
	lines := make([]ledger.BatchLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, ledger.BatchLine{SKU: line.SKU, Qty: line.Qty, Remark: line.Remark})
	}
	return ledger.BatchInput{
		WarehouseID:     req.WarehouseID,
		Source:          req.Source,
		Target:          req.Target,
		Remark:          req.Remark,
		ClientRequestID: req.ClientRequestID,
		CreatedBy:       actor,
		Lines:           lines,
	}
}

func StockIn(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stockInRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.StockIn(r.Context(), ledger.StockInInput{
			ItemID:          req.ItemID,
			WarehouseID:     req.WarehouseID,
			Qty:             req.Qty,
			UnitPrice:       req.UnitPrice,
			Source:          req.Source,
			Remark:          req.Remark,
			ClientRequestID: req.ClientRequestID,
			CreatedBy:       middleware.IdentityFromContext(r.Context()).Username,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func StockOut(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stockOutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.StockOut(r.Context(), ledger.StockOutInput{
			ItemID:          req.ItemID,
			WarehouseID:     req.WarehouseID,
			Qty:             req.Qty,
			Target:          req.Target,
			Remark:          req.Remark,
			ClientRequestID: req.ClientRequestID,
			CreatedBy:       middleware.IdentityFromContext(r.Context()).Username,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func StockInBatch(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.StockInBatch(r.Context(), req.toInput(middleware.IdentityFromContext(r.Context()).Username))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func StockOutBatch(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.StockOutBatch(r.Context(), req.toInput(middleware.IdentityFromContext(r.Context()).Username))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func StockOverview(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		warehouseID, err := validators.ParseQueryInt64(r, "warehouse_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.StockOverview(r.Context(), ledger.StockFilter{
			WarehouseID: warehouseID,
			Keyword:     r.URL.Query().Get("keyword"),
			Limit:       limit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

func StockWarnings(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.Warnings(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}
