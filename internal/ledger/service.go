package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/metrics"

	"github.com/shopspring/decimal"
)

// txNoAttempts bounds regeneration after a tx_no collision.
const txNoAttempts = 3

// Service exposes the inventory ledger: postings, journal reads and the
// balance overview. Every mutation runs as one atomic statement batch so a
// balance change and its journal entry land together or not at all.
type Service interface {
	StockIn(ctx context.Context, input StockInInput) (*PostResult, error)
	StockOut(ctx context.Context, input StockOutInput) (*PostResult, error)
	StockInBatch(ctx context.Context, input BatchInput) (*BatchResult, error)
	StockOutBatch(ctx context.Context, input BatchInput) (*BatchResult, error)

	// PostDeltas writes signed adjustment postings with caller-provided
	// idempotency keys, skipping keys already in the journal. Used by the
	// stocktake apply/rollback chunks.
	PostDeltas(ctx context.Context, postings []DeltaPosting) (int, error)

	ListTransactions(ctx context.Context, filter TxFilter) ([]models.StockTx, error)
	ClearJournal(ctx context.Context) (int64, error)
	StockOverview(ctx context.Context, filter StockFilter) ([]StockRow, error)
	Warnings(ctx context.Context) ([]StockRow, error)
	Summary(ctx context.Context) (*SummaryReport, error)
}

// StockInInput is a validated single inbound posting.
type StockInInput struct {
	ItemID          int64
	WarehouseID     int64
	Qty             int64
	UnitPrice       *decimal.Decimal
	Source          *string
	Remark          *string
	ClientRequestID string
	CreatedBy       string
}

// StockOutInput is a validated single outbound posting.
type StockOutInput struct {
	ItemID          int64
	WarehouseID     int64
	Qty             int64
	Target          *string
	Remark          *string
	ClientRequestID string
	CreatedBy       string
}

// BatchLine is one SKU-addressed line of a batch posting.
type BatchLine struct {
	SKU    string
	Qty    int64
	Remark *string
}

// BatchInput is a validated multi-line posting applied all-or-nothing.
type BatchInput struct {
	WarehouseID     int64
	Source          *string
	Target          *string
	Remark          *string
	ClientRequestID string
	CreatedBy       string
	Lines           []BatchLine
}

// DeltaPosting is one signed balance adjustment with a deterministic key.
type DeltaPosting struct {
	ItemID         int64
	WarehouseID    int64
	Delta          int64
	Type           enums.TxType
	IdempotencyKey string
	RefType        enums.TxRefType
	RefID          int64
	RefNo          string
	Remark         *string
	CreatedBy      string
}

// PostResult reports the journal entry a posting resolved to.
type PostResult struct {
	TxNo      string `json:"tx_no"`
	Duplicate bool   `json:"duplicate"`
}

// BatchResult reports the journal entries a batch posting resolved to.
type BatchResult struct {
	TxNos     []string `json:"tx_nos"`
	Count     int      `json:"count"`
	Duplicate bool     `json:"duplicate"`
}

type skuResolver interface {
	ResolveEnabledSKUs(ctx context.Context, skus []string) (map[string]models.Item, error)
}

type service struct {
	repo     *Repository
	dbClient *db.Client
	skus     skuResolver
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService constructs a ledger service instance.
func NewService(repo *Repository, dbClient *db.Client, skus skuResolver, ledgerMetrics *metrics.LedgerMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if skus == nil {
		return nil, fmt.Errorf("sku resolver required")
	}
	return &service{
		repo:     repo,
		dbClient: dbClient,
		skus:     skus,
		metrics:  ledgerMetrics,
		logg:     logg,
		now:      time.Now,
	}, nil
}

const creditSQL = `
INSERT INTO stock (item_id, warehouse_id, qty, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (item_id, warehouse_id)
DO UPDATE SET qty = qty + excluded.qty, updated_at = CURRENT_TIMESTAMP
`

const debitSQL = `
UPDATE stock
SET qty = qty - ?, updated_at = CURRENT_TIMESTAMP
WHERE item_id = ? AND warehouse_id = ? AND qty >= ?
`

// creditStatement raises the balance, creating the row on first contact.
func creditStatement(itemID, warehouseID, qty int64) db.Statement {
	return func(tx *gorm.DB) error {
		return tx.Exec(creditSQL, itemID, warehouseID, qty).Error
	}
}

// debitStatement lowers the balance only when enough stock is on hand. The
// availability check is folded into the UPDATE predicate so a concurrent
// depletion surfaces as zero affected rows, never as a negative balance.
func debitStatement(itemID, warehouseID, qty int64) db.Statement {
	return func(tx *gorm.DB) error {
		res := tx.Exec(debitSQL, qty, itemID, warehouseID, qty)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficient, "insufficient stock").
				WithDetails(map[string]any{
					"item_id":      itemID,
					"warehouse_id": warehouseID,
					"requested":    qty,
				})
		}
		return nil
	}
}

func insertTxStatement(entry *models.StockTx) db.Statement {
	return func(tx *gorm.DB) error {
		return tx.Create(entry).Error
	}
}

func (s *service) StockIn(ctx context.Context, input StockInInput) (*PostResult, error) {
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
	}
	refType := enums.TxRefClientRequest
	entry := &models.StockTx{
		Type:           enums.TxTypeIn,
		ItemID:         input.ItemID,
		WarehouseID:    input.WarehouseID,
		Qty:            input.Qty,
		DeltaQty:       input.Qty,
		Source:         input.Source,
		Remark:         input.Remark,
		RefType:        &refType,
		IdempotencyKey: NormalizeToken(input.ClientRequestID),
		CreatedBy:      input.CreatedBy,
	}
	if input.UnitPrice != nil {
		entry.UnitPrice = decimal.NewNullDecimal(*input.UnitPrice)
	}
	return s.post(ctx, entry, "stock_in")
}

func (s *service) StockOut(ctx context.Context, input StockOutInput) (*PostResult, error) {
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
	}
	refType := enums.TxRefClientRequest
	entry := &models.StockTx{
		Type:           enums.TxTypeOut,
		ItemID:         input.ItemID,
		WarehouseID:    input.WarehouseID,
		Qty:            input.Qty,
		DeltaQty:       -input.Qty,
		Target:         input.Target,
		Remark:         input.Remark,
		RefType:        &refType,
		IdempotencyKey: NormalizeToken(input.ClientRequestID),
		CreatedBy:      input.CreatedBy,
	}
	return s.post(ctx, entry, "stock_out")
}

// post runs one balance mutation plus its journal insert atomically. The
// idempotency key is checked up front and enforced by the unique index, so
// a concurrent replay resolves to the winner's entry.
func (s *service) post(ctx context.Context, entry *models.StockTx, op string) (*PostResult, error) {
	start := s.now()
	defer func() { s.metrics.ObserveDuration(op, s.now().Sub(start)) }()

	if entry.IdempotencyKey != nil {
		prior, err := s.repo.FindTxByKey(ctx, *entry.IdempotencyKey)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking idempotency key")
		}
		if prior != nil {
			s.metrics.IncDuplicate()
			return &PostResult{TxNo: prior.TxNo, Duplicate: true}, nil
		}
	}

	for attempt := 0; attempt < txNoAttempts; attempt++ {
		entry.ID = 0
		entry.TxNo = NewTxNo(entry.Type, s.now())

		var batch db.Batch
		if entry.DeltaQty < 0 {
			batch.Add(debitStatement(entry.ItemID, entry.WarehouseID, -entry.DeltaQty))
		} else {
			batch.Add(creditStatement(entry.ItemID, entry.WarehouseID, entry.DeltaQty))
		}
		batch.Add(insertTxStatement(entry))

		err := s.dbClient.Run(ctx, &batch)
		switch {
		case err == nil:
			s.metrics.IncPosting(entry.Type.String())
			return &PostResult{TxNo: entry.TxNo}, nil
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficient):
			s.metrics.IncConflict("insufficient")
			return nil, err
		case entry.IdempotencyKey != nil && db.IsUniqueViolation(err, "idempotency_key"):
			prior, findErr := s.repo.FindTxByKey(ctx, *entry.IdempotencyKey)
			if findErr != nil || prior == nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolving replayed posting")
			}
			s.metrics.IncDuplicate()
			return &PostResult{TxNo: prior.TxNo, Duplicate: true}, nil
		case db.IsUniqueViolation(err, "tx_no"):
			continue
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "posting stock movement")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique tx number")
}

func (s *service) StockInBatch(ctx context.Context, input BatchInput) (*BatchResult, error) {
	return s.postBatch(ctx, input, enums.TxTypeIn, "stock_in_batch")
}

func (s *service) StockOutBatch(ctx context.Context, input BatchInput) (*BatchResult, error) {
	return s.postBatch(ctx, input, enums.TxTypeOut, "stock_out_batch")
}

// postBatch applies every line or none. Lines address items by SKU; all
// SKUs must resolve to enabled items before anything runs. With a request
// token, line n gets the derived key token:n so a replay of the whole
// request resolves to the original entries.
func (s *service) postBatch(ctx context.Context, input BatchInput, txType enums.TxType, op string) (*BatchResult, error) {
	start := s.now()
	defer func() { s.metrics.ObserveDuration(op, s.now().Sub(start)) }()

	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lines must not be empty")
	}

	// repeated SKUs collapse into one posting with the summed quantity
	merged := make([]BatchLine, 0, len(input.Lines))
	indexBySKU := make(map[string]int, len(input.Lines))
	for n, line := range input.Lines {
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive").
				WithDetails(map[string]any{"line": n, "sku": line.SKU})
		}
		if at, ok := indexBySKU[line.SKU]; ok {
			merged[at].Qty += line.Qty
			continue
		}
		indexBySKU[line.SKU] = len(merged)
		merged = append(merged, line)
	}
	input.Lines = merged

	skus := make([]string, 0, len(input.Lines))
	for _, line := range input.Lines {
		skus = append(skus, line.SKU)
	}

	items, err := s.skus.ResolveEnabledSKUs(ctx, skus)
	if err != nil {
		return nil, err
	}

	token := NormalizeToken(input.ClientRequestID)
	keys := make([]string, 0, len(input.Lines))
	if token != nil {
		for n := range input.Lines {
			keys = append(keys, LineKey(*token, n))
		}
		if result, found, err := s.findBatchReplay(ctx, keys); err != nil {
			return nil, err
		} else if found {
			return result, nil
		}
	}

	for attempt := 0; attempt < txNoAttempts; attempt++ {
		var batch db.Batch
		entries := make([]*models.StockTx, 0, len(input.Lines))
		refType := enums.TxRefBatchRequest
		for n, line := range input.Lines {
			item := items[line.SKU]
			delta := line.Qty
			if txType == enums.TxTypeOut {
				delta = -line.Qty
			}
			remark := line.Remark
			if remark == nil {
				remark = input.Remark
			}
			entry := &models.StockTx{
				TxNo:        NewTxNo(txType, s.now()),
				Type:        txType,
				ItemID:      item.ID,
				WarehouseID: input.WarehouseID,
				Qty:         line.Qty,
				DeltaQty:    delta,
				Source:      input.Source,
				Target:      input.Target,
				RefType:     &refType,
				Remark:      remark,
				CreatedBy:   input.CreatedBy,
			}
			if token != nil {
				key := keys[n]
				entry.IdempotencyKey = &key
			}
			if delta < 0 {
				batch.Add(debitStatement(entry.ItemID, entry.WarehouseID, line.Qty))
			} else {
				batch.Add(creditStatement(entry.ItemID, entry.WarehouseID, line.Qty))
			}
			batch.Add(insertTxStatement(entry))
			entries = append(entries, entry)
		}

		err := s.dbClient.Run(ctx, &batch)
		switch {
		case err == nil:
			txNos := make([]string, len(entries))
			for n, entry := range entries {
				txNos[n] = entry.TxNo
				s.metrics.IncPosting(entry.Type.String())
			}
			return &BatchResult{TxNos: txNos, Count: len(txNos)}, nil
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficient):
			s.metrics.IncConflict("insufficient")
			return nil, err
		case token != nil && db.IsUniqueViolation(err, "idempotency_key"):
			if result, found, findErr := s.findBatchReplay(ctx, keys); findErr == nil && found {
				return result, nil
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolving replayed batch")
		case db.IsUniqueViolation(err, "tx_no"):
			continue
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "posting stock batch")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "could not allocate unique tx numbers")
}

// findBatchReplay resolves a replayed batch to its original entries.
func (s *service) findBatchReplay(ctx context.Context, keys []string) (*BatchResult, bool, error) {
	prior, err := s.repo.FindTxsByKeys(ctx, keys)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking batch idempotency keys")
	}
	if len(prior) == 0 {
		return nil, false, nil
	}
	txNos := make([]string, len(prior))
	for n, entry := range prior {
		txNos[n] = entry.TxNo
	}
	s.metrics.IncDuplicate()
	return &BatchResult{TxNos: txNos, Count: len(txNos), Duplicate: true}, true, nil
}

func (s *service) PostDeltas(ctx context.Context, postings []DeltaPosting) (int, error) {
	pending := make([]DeltaPosting, 0, len(postings))
	keys := make([]string, 0, len(postings))
	for _, p := range postings {
		if p.Delta == 0 {
			continue
		}
		pending = append(pending, p)
		keys = append(keys, p.IdempotencyKey)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	existing, err := s.repo.ExistingKeys(ctx, keys)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking existing postings")
	}

	for attempt := 0; attempt < txNoAttempts; attempt++ {
		var batch db.Batch
		applied := 0
		for _, p := range pending {
			if existing[p.IdempotencyKey] {
				continue
			}
			key := p.IdempotencyKey
			refID := p.RefID
			refNo := p.RefNo
			refType := p.RefType
			entry := &models.StockTx{
				TxNo:           NewTxNo(p.Type, s.now()),
				Type:           p.Type,
				ItemID:         p.ItemID,
				WarehouseID:    p.WarehouseID,
				Qty:            abs(p.Delta),
				DeltaQty:       p.Delta,
				RefType:        &refType,
				RefID:          &refID,
				RefNo:          &refNo,
				Remark:         p.Remark,
				IdempotencyKey: &key,
				CreatedBy:      p.CreatedBy,
			}
			if p.Delta < 0 {
				batch.Add(debitStatement(p.ItemID, p.WarehouseID, -p.Delta))
			} else {
				batch.Add(creditStatement(p.ItemID, p.WarehouseID, p.Delta))
			}
			batch.Add(insertTxStatement(entry))
			applied++
		}
		if applied == 0 {
			return 0, nil
		}

		err := s.dbClient.Run(ctx, &batch)
		switch {
		case err == nil:
			return applied, nil
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficient):
			s.metrics.IncConflict("insufficient")
			return 0, err
		case db.IsUniqueViolation(err, "idempotency_key"):
			// a concurrent run already wrote some of these keys
			existing, err = s.repo.ExistingKeys(ctx, keys)
			if err != nil {
				return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-checking existing postings")
			}
			continue
		case db.IsUniqueViolation(err, "tx_no"):
			continue
		default:
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "posting adjustments")
		}
	}
	return 0, pkgerrors.New(pkgerrors.CodeInternal, "could not apply adjustment chunk")
}

func (s *service) ListTransactions(ctx context.Context, filter TxFilter) ([]models.StockTx, error) {
	txs, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing transactions")
	}
	return txs, nil
}

func (s *service) ClearJournal(ctx context.Context) (int64, error) {
	removed, err := s.repo.ClearJournal(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing journal")
	}
	if s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "removed", removed), "journal cleared")
	}
	return removed, nil
}

func (s *service) StockOverview(ctx context.Context, filter StockFilter) ([]StockRow, error) {
	rows, err := s.repo.StockOverview(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock overview")
	}
	return rows, nil
}

func (s *service) Warnings(ctx context.Context) ([]StockRow, error) {
	rows, err := s.repo.Warnings(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock warnings")
	}
	return rows, nil
}

func (s *service) Summary(ctx context.Context) (*SummaryReport, error) {
	report, err := s.repo.Summary(ctx, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building summary report")
	}
	return report, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
