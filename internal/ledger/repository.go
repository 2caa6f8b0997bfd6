package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

// Repository owns the read side of the journal and the balance table. All
// writes go through batches assembled by the service.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindTxByKey loads the journal entry carrying the idempotency key, or nil
// when none exists.
func (r *Repository) FindTxByKey(ctx context.Context, key string) (*models.StockTx, error) {
	var tx models.StockTx
	err := r.db.WithContext(ctx).First(&tx, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindTxsByKeys loads all journal entries carrying any of the keys.
func (r *Repository) FindTxsByKeys(ctx context.Context, keys []string) ([]models.StockTx, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var txs []models.StockTx
	err := r.db.WithContext(ctx).
		Where("idempotency_key IN ?", keys).
		Order("id ASC").
		Find(&txs).
		Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// ExistingKeys returns the subset of keys already present in the journal.
func (r *Repository) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}
	var found []string
	err := r.db.WithContext(ctx).
		Model(&models.StockTx{}).
		Where("idempotency_key IN ?", keys).
		Pluck("idempotency_key", &found).
		Error
	if err != nil {
		return nil, err
	}
	for _, key := range found {
		existing[key] = true
	}
	return existing, nil
}

// TxFilter narrows the journal listing.
type TxFilter struct {
	Type        enums.TxType
	ItemID      int64
	WarehouseID int64
	DateFrom    *time.Time
	DateTo      *time.Time
	Limit       int
}

// ListTransactions returns journal entries matching the filter, newest
// first.
func (r *Repository) ListTransactions(ctx context.Context, filter TxFilter) ([]models.StockTx, error) {
	query := r.db.WithContext(ctx).Model(&models.StockTx{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.ItemID > 0 {
		query = query.Where("item_id = ?", filter.ItemID)
	}
	if filter.WarehouseID > 0 {
		query = query.Where("warehouse_id = ?", filter.WarehouseID)
	}
	if filter.DateFrom != nil {
		query = query.Where("created_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("created_at < ?", *filter.DateTo)
	}

	var txs []models.StockTx
	err := query.
		Order("id DESC").
		Limit(pagination.NormalizeLimit(filter.Limit)).
		Find(&txs).
		Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// ClearJournal truncates the journal. Balances are left untouched; the
// danger of this operation is owned by the admin-only caller.
func (r *Repository) ClearJournal(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.StockTx{})
	return res.RowsAffected, res.Error
}

// GetQty returns the current balance, zero when no row exists yet.
func (r *Repository) GetQty(ctx context.Context, itemID, warehouseID int64) (int64, error) {
	var stock models.Stock
	err := r.db.WithContext(ctx).
		First(&stock, "item_id = ? AND warehouse_id = ?", itemID, warehouseID).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stock.Qty, nil
}

// QtyByItem returns every item's balance in the warehouse.
func (r *Repository) QtyByItem(ctx context.Context, warehouseID int64) (map[int64]int64, error) {
	var rows []models.Stock
	err := r.db.WithContext(ctx).
		Where("warehouse_id = ?", warehouseID).
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	byItem := make(map[int64]int64, len(rows))
	for _, row := range rows {
		byItem[row.ItemID] = row.Qty
	}
	return byItem, nil
}

// StockRow is one joined balance row with its warning evaluation.
type StockRow struct {
	ItemID        int64     `json:"item_id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Unit          string    `json:"unit"`
	WarningQty    int64     `json:"warning_qty"`
	WarehouseID   int64     `json:"warehouse_id"`
	WarehouseName string    `json:"warehouse_name"`
	Qty           int64     `json:"qty"`
	Warning       bool      `json:"warning"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StockFilter narrows the balance overview.
type StockFilter struct {
	WarehouseID int64
	Keyword     string
	Limit       int
}

const stockOverviewQuery = `
SELECT s.item_id,
       i.sku,
       i.name,
       i.unit,
       i.warning_qty,
       s.warehouse_id,
       w.name AS warehouse_name,
       s.qty,
       s.updated_at
FROM stock s
JOIN items i ON i.id = s.item_id
JOIN warehouses w ON w.id = s.warehouse_id
`

// StockOverview returns balances joined with their catalog metadata. The
// warning flag is computed in Go so the query stays portable across the
// production and test drivers.
func (r *Repository) StockOverview(ctx context.Context, filter StockFilter) ([]StockRow, error) {
	query := stockOverviewQuery
	var conditions []string
	var args []any
	if filter.WarehouseID > 0 {
		conditions = append(conditions, "s.warehouse_id = ?")
		args = append(args, filter.WarehouseID)
	}
	if filter.Keyword != "" {
		conditions = append(conditions, "(i.sku LIKE ? OR i.name LIKE ?)")
		like := "%" + filter.Keyword + "%"
		args = append(args, like, like)
	}
	for n, cond := range conditions {
		if n == 0 {
			query += "WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += "\nORDER BY i.sku ASC, s.warehouse_id ASC"

	var rows []StockRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	limit := pagination.NormalizeLimit(filter.Limit)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	for n := range rows {
		rows[n].Warning = rows[n].WarningQty > 0 && rows[n].Qty <= rows[n].WarningQty
	}
	return rows, nil
}

// Warnings returns only the balances at or below their item's threshold.
func (r *Repository) Warnings(ctx context.Context) ([]StockRow, error) {
	rows, err := r.StockOverview(ctx, StockFilter{Limit: pagination.MaxLimit})
	if err != nil {
		return nil, err
	}
	warnings := rows[:0]
	for _, row := range rows {
		if row.Warning {
			warnings = append(warnings, row)
		}
	}
	return warnings, nil
}

// SummaryReport aggregates the dashboard numbers.
type SummaryReport struct {
	ItemCount    int64 `json:"item_count"`
	TotalQty     int64 `json:"total_qty"`
	WarningCount int64 `json:"warning_count"`
	TodayInQty   int64 `json:"today_in_qty"`
	TodayOutQty  int64 `json:"today_out_qty"`
	TodayTxCount int64 `json:"today_tx_count"`
}

// Summary aggregates catalog size, on-hand totals, active warnings and
// today's movement volumes.
func (r *Repository) Summary(ctx context.Context, now time.Time) (*SummaryReport, error) {
	report := &SummaryReport{}

	tx := r.db.WithContext(ctx)
	if err := tx.Model(&models.Item{}).Where("enabled = ?", true).Count(&report.ItemCount).Error; err != nil {
		return nil, err
	}

	var totalQty sql.NullInt64
	if err := tx.Model(&models.Stock{}).Select("SUM(qty)").Scan(&totalQty).Error; err != nil {
		return nil, err
	}
	report.TotalQty = totalQty.Int64

	warnings, err := r.Warnings(ctx)
	if err != nil {
		return nil, err
	}
	report.WarningCount = int64(len(warnings))

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	type movement struct {
		Type enums.TxType
		Qty  int64
		N    int64
	}
	var movements []movement
	err = tx.Model(&models.StockTx{}).
		Select("type, SUM(qty) AS qty, COUNT(*) AS n").
		Where("created_at >= ?", dayStart).
		Group("type").
		Scan(&movements).
		Error
	if err != nil {
		return nil, err
	}
	for _, m := range movements {
		report.TodayTxCount += m.N
		switch m.Type {
		case enums.TxTypeIn:
			report.TodayInQty += m.Qty
		case enums.TxTypeOut:
			report.TodayOutQty += m.Qty
		}
	}
	return report, nil
}
