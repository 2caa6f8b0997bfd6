package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/internal/backup"
	"github.com/stockloghq/stocklog-backend/pkg/config"
	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/metrics"
	"github.com/stockloghq/stocklog-backend/pkg/storage"
)

// Slice budget clamps. A caller can tune how much one invocation does but
// never outside these bounds.
const (
	minSliceRows = 100
	maxSliceRows = 20000
	minSliceTime = time.Second
	maxSliceTime = 20 * time.Second
)

// Service is the resumable restore job engine. One Run invocation
// processes a bounded slice of the artifact and persists a cursor; the
// caller re-invokes until the job reports no more work.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.RestoreJob, error)
	Run(ctx context.Context, id uuid.UUID, opts RunOptions) (*RunResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.RestoreJob, error)
	List(ctx context.Context, limit int) ([]models.RestoreJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.RestoreJob, error)
}

// CreateInput holds the uploaded artifact and the chosen merge policy.
type CreateInput struct {
	Mode      enums.RestoreMode
	Filename  string
	Body      io.Reader
	CreatedBy string
}

// RunOptions tune one slice's budgets. Zero values use the configured
// defaults; all values are clamped.
type RunOptions struct {
	MaxRows int
	MaxTime time.Duration
}

// RunResult is the job snapshot after one slice plus whether more work
// remains.
type RunResult struct {
	Job  models.RestoreJob `json:"job"`
	More bool              `json:"more"`
}

// cursor is the persisted position inside the artifact: the table being
// replayed and how many of its rows are already covered.
type cursor struct {
	Table string `json:"table"`
	Row   int64  `json:"row"`
}

// tableState is what the SCAN stage learned: the first-seen processing
// order and per-table row counts.
type tableState struct {
	Order  []string         `json:"order"`
	Counts map[string]int64 `json:"counts"`
}

type service struct {
	repo     *Repository
	dbClient *db.Client
	store    storage.Store
	cfg      config.RestoreConfig
	metrics  *metrics.RestoreMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService constructs a restore service instance.
func NewService(repo *Repository, dbClient *db.Client, store storage.Store, cfg config.RestoreConfig, restoreMetrics *metrics.RestoreMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("restore repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store required")
	}
	return &service{
		repo:     repo,
		dbClient: dbClient,
		store:    store,
		cfg:      cfg,
		metrics:  restoreMetrics,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Create stores the uploaded artifact and queues a job over it. Nothing is
// parsed yet; the first Run performs the scan.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.RestoreJob, error) {
	if !input.Mode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid restore mode")
	}
	if input.Body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "backup file is required")
	}

	id := uuid.New()
	filename := input.Filename
	if filename == "" {
		filename = "backup.json"
	}
	key := fmt.Sprintf("restore/%s/%s", id, filename)
	if err := s.store.Put(ctx, key, input.Body, "application/octet-stream"); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing backup artifact")
	}

	job := &models.RestoreJob{
		ID:         id,
		Status:     enums.RestoreStatusQueued,
		Stage:      enums.RestoreStageScan,
		Mode:       input.Mode,
		FileKey:    key,
		Filename:   &filename,
		CreatedBy:  input.CreatedBy,
		CursorJSON: "{}",
		TablesJSON: "{}",
	}
	if err := s.repo.Insert(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating restore job")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "job_id", id.String()), "restore job queued")
	}
	return job, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.RestoreJob, error) {
	return s.load(ctx, id)
}

func (s *service) List(ctx context.Context, limit int) ([]models.RestoreJob, error) {
	jobs, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing restore jobs")
	}
	return jobs, nil
}

// Cancel pauses the job. Progress is kept; a paused job resumes from its
// cursor on the next Run.
func (s *service) Cancel(ctx context.Context, id uuid.UUID) (*models.RestoreJob, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "restore job already finished").
			WithDetails(map[string]string{"status": job.Status.String()})
	}
	if _, err := s.repo.Pause(ctx, id); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "pausing restore job")
	}
	return s.load(ctx, id)
}

// Run executes one bounded slice.
func (s *service) Run(ctx context.Context, id uuid.UUID, opts RunOptions) (*RunResult, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "restore job already finished").
			WithDetails(map[string]string{"status": job.Status.String()})
	}
	ok, err := s.repo.MarkRunning(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "starting restore slice")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "restore job changed state concurrently")
	}
	job.Status = enums.RestoreStatusRunning

	start := s.now()
	defer func() { s.metrics.ObserveSlice(s.now().Sub(start)) }()

	if job.Stage == enums.RestoreStageScan {
		if err := s.scan(ctx, job); err != nil {
			s.fail(ctx, job.ID, err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scanning backup artifact")
		}
		s.metrics.IncSlice("scanned")
		return s.result(ctx, id)
	}

	if err := s.restoreSlice(ctx, job, opts, start); err != nil {
		s.fail(ctx, job.ID, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restoring backup rows")
	}
	return s.result(ctx, id)
}

// scan is the read-only dry pass: count rows per recognized table and fix
// the processing order so progress reporting is accurate before any
// mutation begins.
func (s *service) scan(ctx context.Context, job *models.RestoreJob) error {
	scanner, closeStream, err := s.openScanner(ctx, job.FileKey)
	if err != nil {
		return err
	}
	defer closeStream()

	if v := scanner.Version(); v != "" && v != backup.Version {
		return fmt.Errorf("unsupported backup version %q", v)
	}

	state := tableState{Counts: map[string]int64{}}
	var total int64
	for {
		name, ok, err := scanner.NextTable()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if _, recognized := specFor(name); !recognized {
			continue
		}
		state.Order = append(state.Order, name)
		var rows int64
		for scanner.More() {
			if err := scanner.SkipRow(); err != nil {
				return err
			}
			rows++
		}
		state.Counts[name] = rows
		total += rows
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	cur := cursor{}
	if len(state.Order) > 0 {
		cur.Table = state.Order[0]
	}
	cursorJSON, err := json.Marshal(cur)
	if err != nil {
		return err
	}

	fields := map[string]any{
		"tables_json": string(stateJSON),
		"cursor_json": string(cursorJSON),
		"total_rows":  total,
		"stage":       enums.RestoreStageRestore,
	}
	if total == 0 {
		fields["status"] = enums.RestoreStatusDone
		fields["finished_at"] = s.now()
	}
	return s.repo.Update(ctx, job.ID, fields)
}

// restoreSlice replays rows from the persisted cursor until the slice's
// row or time budget runs out, the stream ends, or an operator pause is
// observed.
func (s *service) restoreSlice(ctx context.Context, job *models.RestoreJob, opts RunOptions, start time.Time) error {
	maxRows, maxTime := s.budgets(opts)

	if job.Mode == enums.RestoreModeReplace && !job.ReplaceDone {
		if err := s.replaceDelete(ctx, job.ID); err != nil {
			return err
		}
		job.ReplaceDone = true
	}

	var cur cursor
	if err := json.Unmarshal([]byte(job.CursorJSON), &cur); err != nil {
		return fmt.Errorf("corrupt cursor: %w", err)
	}
	var state tableState
	if err := json.Unmarshal([]byte(job.TablesJSON), &state); err != nil {
		return fmt.Errorf("corrupt table state: %w", err)
	}

	scanner, closeStream, err := s.openScanner(ctx, job.FileKey)
	if err != nil {
		return err
	}
	defer closeStream()

	cursorIdx := 0
	for n, name := range state.Order {
		if name == cur.Table {
			cursorIdx = n
			break
		}
	}

	flushSize := s.cfg.FlushSize
	if flushSize <= 0 {
		flushSize = 50
	}
	pollInterval := s.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 200
	}

	processed := job.ProcessedRows
	sliceRows := 0
	sincePoll := 0
	orderIdx := -1

	// flush commits the pending rows and persists the cursor after them;
	// a crash between the two replays the batch, which the insert policy
	// tolerates.
	flush := func(sqlText, table string, pending [][]any, rowIdx int64) error {
		if len(pending) == 0 {
			return nil
		}
		err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
			for _, values := range pending {
				if err := tx.Exec(sqlText, values...).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		processed += int64(len(pending))
		s.metrics.AddRows(int64(len(pending)))

		cursorJSON, err := json.Marshal(cursor{Table: table, Row: rowIdx})
		if err != nil {
			return err
		}
		return s.repo.Update(ctx, job.ID, map[string]any{
			"processed_rows": processed,
			"cursor_json":    string(cursorJSON),
			"current_table":  table,
		})
	}

	for {
		name, ok, err := scanner.NextTable()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		spec, recognized := specFor(name)
		if !recognized {
			continue
		}
		orderIdx++
		if orderIdx < cursorIdx {
			continue
		}
		var skip int64
		if orderIdx == cursorIdx {
			skip = cur.Row
		}

		sqlText := insertSQL(spec, job.Mode)
		pending := make([][]any, 0, flushSize)
		var rowIdx int64

		for scanner.More() {
			if rowIdx < skip {
				if err := scanner.SkipRow(); err != nil {
					return err
				}
				rowIdx++
				continue
			}
			row, err := scanner.Row()
			if err != nil {
				return err
			}
			pending = append(pending, projectRow(spec, row))
			rowIdx++
			sliceRows++
			sincePoll++

			if len(pending) < flushSize {
				continue
			}
			if err := flush(sqlText, name, pending, rowIdx); err != nil {
				return err
			}
			pending = pending[:0]

			if sincePoll >= pollInterval {
				sincePoll = 0
				status, err := s.repo.Status(ctx, job.ID)
				if err != nil {
					return err
				}
				if status != enums.RestoreStatusRunning {
					s.metrics.IncSlice("interrupted")
					return nil
				}
			}
			if sliceRows >= maxRows || s.now().Sub(start) >= maxTime {
				s.metrics.IncSlice("budget")
				return nil
			}
		}
		if err := flush(sqlText, name, pending, rowIdx); err != nil {
			return err
		}
		if sliceRows >= maxRows || s.now().Sub(start) >= maxTime {
			s.metrics.IncSlice("budget")
			return nil
		}
	}

	// stream exhausted: everything before the cursor plus this slice is
	// covered, the job is complete
	s.metrics.IncSlice("done")
	return s.repo.Update(ctx, job.ID, map[string]any{
		"status":        enums.RestoreStatusDone,
		"finished_at":   s.now(),
		"current_table": nil,
	})
}

// replaceDelete performs the replace policy's one-time destructive wipe.
// The replace_done flag flips in the same transaction as the deletes and
// is guarded by a compare-and-swap, so two racing slices cannot both wipe.
func (s *service) replaceDelete(ctx context.Context, id uuid.UUID) error {
	var batch db.Batch
	batch.Add(db.GuardRowsAffected(1, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.RestoreJob{}).
			Where("id = ? AND replace_done = ?", id, false).
			Update("replace_done", true)
	}))
	for _, table := range deleteOrder {
		table := table
		batch.Add(func(tx *gorm.DB) error {
			return tx.Exec("DELETE FROM " + table).Error
		})
	}

	err := s.dbClient.Run(ctx, &batch)
	if errors.Is(err, db.ErrGuardFailed) {
		// another slice already wiped
		return nil
	}
	return err
}

func (s *service) budgets(opts RunOptions) (int, time.Duration) {
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = s.cfg.DefaultMaxRows
	}
	maxRows = min(max(maxRows, minSliceRows), maxSliceRows)

	maxTime := opts.MaxTime
	if maxTime <= 0 {
		maxTime = s.cfg.DefaultMaxTime
	}
	maxTime = min(max(maxTime, minSliceTime), maxSliceTime)
	return maxRows, maxTime
}

func (s *service) openScanner(ctx context.Context, key string) (*Scanner, func(), error) {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching backup artifact: %w", err)
	}
	stream, err := openArtifact(rc)
	if err != nil {
		_ = rc.Close()
		return nil, nil, err
	}
	scanner, err := NewScanner(stream)
	if err != nil {
		_ = rc.Close()
		return nil, nil, err
	}
	return scanner, func() { _ = rc.Close() }, nil
}

func (s *service) result(ctx context.Context, id uuid.UUID) (*RunResult, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	more := job.Status == enums.RestoreStatusRunning
	return &RunResult{Job: *job, More: more}, nil
}

// fail records the slice's error and parks the job; FAILED jobs are not
// retried automatically.
func (s *service) fail(ctx context.Context, id uuid.UUID, cause error) {
	msg := cause.Error()
	if len(msg) > 512 {
		msg = msg[:512]
	}
	err := s.repo.Update(ctx, id, map[string]any{
		"status":      enums.RestoreStatusFailed,
		"error_count": gorm.Expr("error_count + 1"),
		"last_error":  msg,
		"finished_at": s.now(),
	})
	if err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithField(ctx, "job_id", id.String()), "recording restore failure", err)
	}
	s.metrics.IncSlice("failed")
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.RestoreJob, error) {
	job, err := s.repo.Find(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "restore job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading restore job")
	}
	return job, nil
}
