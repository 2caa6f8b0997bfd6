package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stockloghq/stocklog-backend/api/middleware"
	"github.com/stockloghq/stocklog-backend/api/responses"
	"github.com/stockloghq/stocklog-backend/api/validators"
	"github.com/stockloghq/stocklog-backend/internal/audit"
	"github.com/stockloghq/stocklog-backend/internal/restore"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

// uploads top out at 256 MiB of form payload; larger artifacts should be
// gzip-compressed
const maxRestoreUpload = 256 << 20

type restoreRunRequest struct {
	MaxRows int   `json:"max_rows,omitempty" validate:"omitempty,gte=0"`
	MaxMs   int64 `json:"max_ms,omitempty" validate:"omitempty,gte=0"`
}

// RestoreCreate accepts a multipart upload (mode + file), parks the
// artifact in object storage and queues a job over it.
func RestoreCreate(svc restore.Service, auditSvc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxRestoreUpload); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart payload"))
			return
		}

		mode, err := enums.ParseRestoreMode(r.FormValue("mode"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid restore mode").
				WithDetails(map[string]string{"field": "mode"}))
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "backup file is required").
				WithDetails(map[string]string{"field": "file"}))
			return
		}
		defer file.Close()

		identity := middleware.IdentityFromContext(r.Context())
		job, err := svc.Create(r.Context(), restore.CreateInput{
			Mode:      mode,
			Filename:  header.Filename,
			Body:      file,
			CreatedBy: identity.Username,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if auditSvc != nil {
			auditSvc.Record(r.Context(), audit.Entry{
				Actor:    identity.Username,
				Role:     identity.Role.String(),
				Action:   "restore.create",
				Entity:   "restore_job",
				EntityID: job.ID.String(),
				Detail:   map[string]string{"mode": mode.String(), "filename": header.Filename},
				IP:       r.RemoteAddr,
			})
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, job)
	}
}

// RestoreRun executes one bounded slice and reports progress plus whether
// more work remains.
func RestoreRun(svc restore.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := restoreJobID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req restoreRunRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Run(r.Context(), id, restore.RunOptions{
			MaxRows: req.MaxRows,
			MaxTime: time.Duration(req.MaxMs) * time.Millisecond,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func RestoreGet(svc restore.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := restoreJobID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

func RestoreList(svc restore.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		jobs, err := svc.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, jobs)
	}
}

func RestoreCancel(svc restore.Service, auditSvc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := restoreJobID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Cancel(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if auditSvc != nil {
			identity := middleware.IdentityFromContext(r.Context())
			auditSvc.Record(r.Context(), audit.Entry{
				Actor:    identity.Username,
				Role:     identity.Role.String(),
				Action:   "restore.cancel",
				Entity:   "restore_job",
				EntityID: job.ID.String(),
				IP:       r.RemoteAddr,
			})
		}
		responses.WriteSuccess(w, job)
	}
}

func restoreJobID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid job id").WithDetails(map[string]string{"field": "id"})
	}
	return id, nil
}
