package stocktake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/internal/ledger"
	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
)

// defaultChunkSize bounds how many line postings go into one transaction
// during apply/rollback.
const defaultChunkSize = 100

// Service drives the stocktake lifecycle:
//
//	DRAFT   -> APPLYING -> APPLIED   (Apply)
//	APPLIED -> ROLLING  -> DRAFT    (Rollback)
//
// Apply and Rollback post per-line balance deltas in chunks, each line
// under a deterministic idempotency key, so an interrupted run is resumed
// by calling the same operation again.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*Detail, error)
	Get(ctx context.Context, id int64) (*Detail, error)
	List(ctx context.Context, limit int) ([]models.Stocktake, error)
	ImportCounts(ctx context.Context, id int64, lines []CountLine) (*ImportResult, error)
	Apply(ctx context.Context, id int64, actor string) (*ApplyResult, error)
	Rollback(ctx context.Context, id int64, actor string) (*ApplyResult, error)
	Delete(ctx context.Context, id int64) error
}

// CreateInput holds the validated payload to open a stocktake.
type CreateInput struct {
	WarehouseID int64
	CreatedBy   string
}

// CountLine is one imported physical count. A nil CountedQty clears the
// line's count.
type CountLine struct {
	SKU        string
	CountedQty *int64
}

// ImportResult reports how the imported lines were applied.
type ImportResult struct {
	Updated int      `json:"updated"`
	Unknown []string `json:"unknown,omitempty"`
}

// ApplyResult reports the outcome of an apply or rollback.
type ApplyResult struct {
	Status  enums.StocktakeStatus `json:"status"`
	Posted  int                   `json:"posted"`
	Resumed bool                  `json:"resumed"`
}

// Detail is a header with its lines.
type Detail struct {
	Stocktake models.Stocktake `json:"stocktake"`
	Lines     []LineView       `json:"lines"`
}

type deltaPoster interface {
	PostDeltas(ctx context.Context, postings []ledger.DeltaPosting) (int, error)
}

type service struct {
	repo      *Repository
	poster    deltaPoster
	logg      *logger.Logger
	chunkSize int
	now       func() time.Time
}

// NewService constructs a stocktake service instance.
func NewService(repo *Repository, poster deltaPoster, logg *logger.Logger, chunkSize int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stocktake repository required")
	}
	if poster == nil {
		return nil, fmt.Errorf("delta poster required")
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &service{
		repo:      repo,
		poster:    poster,
		logg:      logg,
		chunkSize: chunkSize,
		now:       time.Now,
	}, nil
}

// Create opens a DRAFT stocktake snapshotting every enabled item's current
// balance in the warehouse.
func (s *service) Create(ctx context.Context, input CreateInput) (*Detail, error) {
	if _, err := s.repo.FindWarehouse(ctx, input.WarehouseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "warehouse not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading warehouse")
	}

	items, err := s.repo.EnabledItems(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading items")
	}
	qtyByItem, err := s.repo.QtyByItem(ctx, input.WarehouseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading balances")
	}

	st := &models.Stocktake{
		StNo:        ledger.NewStNo(s.now()),
		WarehouseID: input.WarehouseID,
		Status:      enums.StocktakeStatusDraft,
		CreatedBy:   input.CreatedBy,
	}
	lines := make([]models.StocktakeLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, models.StocktakeLine{
			ItemID:    item.ID,
			SystemQty: qtyByItem[item.ID],
		})
	}
	if err := s.repo.CreateWithLines(ctx, st, lines); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating stocktake")
	}
	return s.Get(ctx, st.ID)
}

func (s *service) Get(ctx context.Context, id int64) (*Detail, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.repo.Lines(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stocktake lines")
	}
	return &Detail{Stocktake: *st, Lines: lines}, nil
}

func (s *service) List(ctx context.Context, limit int) ([]models.Stocktake, error) {
	sts, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing stocktakes")
	}
	return sts, nil
}

// ImportCounts records physical counts on a DRAFT stocktake. Lines are
// matched by SKU; SKUs without a line come back in unknown and the rest
// are still applied.
func (s *service) ImportCounts(ctx context.Context, id int64, lines []CountLine) (*ImportResult, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status != enums.StocktakeStatusDraft {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "counts can only be imported while draft").
			WithDetails(map[string]string{"status": st.Status.String()})
	}

	existing, err := s.repo.Lines(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stocktake lines")
	}
	lineBySKU := make(map[string]LineView, len(existing))
	for _, line := range existing {
		lineBySKU[line.SKU] = line
	}

	updates := make(map[int64]*int64, len(lines))
	var unknown []string
	for _, count := range lines {
		line, ok := lineBySKU[count.SKU]
		if !ok {
			unknown = append(unknown, count.SKU)
			continue
		}
		if count.CountedQty != nil && *count.CountedQty < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "counted_qty cannot be negative").
				WithDetails(map[string]string{"sku": count.SKU})
		}
		updates[line.ID] = count.CountedQty
	}

	if err := s.repo.UpdateCounts(ctx, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating counts")
	}
	return &ImportResult{Updated: len(updates), Unknown: unknown}, nil
}

// Apply posts the counted differences into the ledger and flips the
// stocktake to APPLIED. Re-invoking on an APPLIED stocktake is a no-op
// success; re-invoking on an APPLYING one resumes where the postings left
// off.
func (s *service) Apply(ctx context.Context, id int64, actor string) (*ApplyResult, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	resumed := false
	switch st.Status {
	case enums.StocktakeStatusApplied:
		return &ApplyResult{Status: st.Status}, nil
	case enums.StocktakeStatusDraft:
		ok, err := s.repo.TransitionStatus(ctx, id, enums.StocktakeStatusDraft, enums.StocktakeStatusApplying, nil)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "starting apply")
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "stocktake changed state concurrently")
		}
	case enums.StocktakeStatusApplying:
		resumed = true
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "stocktake cannot be applied").
			WithDetails(map[string]string{"status": st.Status.String()})
	}

	posted, err := s.postDiffs(ctx, st, enums.TxTypeAdjust, actor, false)
	if err != nil {
		// interrupted mid-apply: status stays APPLYING, the caller
		// re-invokes to resume
		return nil, err
	}

	appliedAt := s.now()
	ok, err := s.repo.TransitionStatus(ctx, id, enums.StocktakeStatusApplying, enums.StocktakeStatusApplied, &appliedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finishing apply")
	}
	if !ok {
		// a concurrent resumed applier may have flipped the status
		// first; the postings are idempotent, so that still counts as
		// a completed apply
		cur, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status != enums.StocktakeStatusApplied {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "stocktake changed state concurrently").
				WithDetails(map[string]string{"status": cur.Status.String()})
		}
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"st_no": st.StNo, "posted": posted}), "stocktake applied")
	}
	return &ApplyResult{Status: enums.StocktakeStatusApplied, Posted: posted, Resumed: resumed}, nil
}

// Rollback reverses an applied stocktake back to DRAFT by posting each
// line's opposite delta. Only APPLIED and interrupted ROLLING stocktakes
// are accepted.
func (s *service) Rollback(ctx context.Context, id int64, actor string) (*ApplyResult, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	resumed := false
	switch st.Status {
	case enums.StocktakeStatusApplied:
		ok, err := s.repo.TransitionStatus(ctx, id, enums.StocktakeStatusApplied, enums.StocktakeStatusRolling, nil)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "starting rollback")
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "stocktake changed state concurrently")
		}
	case enums.StocktakeStatusRolling:
		resumed = true
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only applied stocktakes can be rolled back").
			WithDetails(map[string]string{"status": st.Status.String()})
	}

	posted, err := s.postDiffs(ctx, st, enums.TxTypeReversal, actor, true)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.TransitionStatus(ctx, id, enums.StocktakeStatusRolling, enums.StocktakeStatusDraft, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finishing rollback")
	}
	if !ok {
		// same duplicate-completion rule as apply: losing the final
		// flip to a concurrent rollback is still success
		cur, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status != enums.StocktakeStatusDraft {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "stocktake changed state concurrently").
				WithDetails(map[string]string{"status": cur.Status.String()})
		}
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"st_no": st.StNo, "posted": posted}), "stocktake rolled back")
	}
	return &ApplyResult{Status: enums.StocktakeStatusDraft, Posted: posted, Resumed: resumed}, nil
}

// postDiffs pushes every counted line's delta through the ledger in
// chunks. Each line carries a key derived from the stocktake number and
// item id, so chunks already written by an interrupted run are skipped.
func (s *service) postDiffs(ctx context.Context, st *models.Stocktake, txType enums.TxType, actor string, reverse bool) (int, error) {
	lines, err := s.repo.Lines(ctx, st.ID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stocktake lines")
	}

	refType := enums.TxRefStocktakeApply
	if reverse {
		refType = enums.TxRefStocktakeRollback
	}
	remark := fmt.Sprintf("stocktake %s", st.StNo)

	postings := make([]ledger.DeltaPosting, 0, len(lines))
	for _, line := range lines {
		if line.CountedQty == nil || line.DiffQty == nil || *line.DiffQty == 0 {
			continue
		}
		delta := *line.DiffQty
		key := ledger.StocktakeApplyKey(st.StNo, line.ItemID)
		if reverse {
			delta = -delta
			key = ledger.StocktakeRollbackKey(st.StNo, line.ItemID)
		}
		postings = append(postings, ledger.DeltaPosting{
			ItemID:         line.ItemID,
			WarehouseID:    st.WarehouseID,
			Delta:          delta,
			Type:           txType,
			IdempotencyKey: key,
			RefType:        refType,
			RefID:          st.ID,
			RefNo:          st.StNo,
			Remark:         &remark,
			CreatedBy:      actor,
		})
	}

	posted := 0
	for start := 0; start < len(postings); start += s.chunkSize {
		end := min(start+s.chunkSize, len(postings))
		applied, err := s.poster.PostDeltas(ctx, postings[start:end])
		if err != nil {
			return posted, err
		}
		posted += applied
	}
	return posted, nil
}

// Delete removes a DRAFT stocktake. Applied or transitioning stocktakes
// are history and cannot be deleted.
func (s *service) Delete(ctx context.Context, id int64) error {
	deleted, err := s.repo.DeleteDraft(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting stocktake")
	}
	if deleted {
		return nil
	}
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "only draft stocktakes can be deleted")
}

func (s *service) load(ctx context.Context, id int64) (*models.Stocktake, error) {
	st, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stocktake not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stocktake")
	}
	return st, nil
}
