package stocktake

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

// Repository owns stocktake persistence, including the conditional status
// transitions the state machine is built on.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads the header without lines.
func (r *Repository) FindByID(ctx context.Context, id int64) (*models.Stocktake, error) {
	var st models.Stocktake
	if err := r.db.WithContext(ctx).First(&st, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// List returns headers, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]models.Stocktake, error) {
	var sts []models.Stocktake
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&sts).
		Error
	if err != nil {
		return nil, err
	}
	return sts, nil
}

// LineView is one stocktake line joined with its item's catalog identity.
type LineView struct {
	ID         int64  `json:"id"`
	ItemID     int64  `json:"item_id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	SystemQty  int64  `json:"system_qty"`
	CountedQty *int64 `json:"counted_qty"`
	DiffQty    *int64 `json:"diff_qty"`
}

const lineViewQuery = `
SELECT l.id,
       l.item_id,
       i.sku,
       i.name,
       l.system_qty,
       l.counted_qty,
       l.diff_qty
FROM stocktake_lines l
JOIN items i ON i.id = l.item_id
WHERE l.stocktake_id = ?
ORDER BY i.sku ASC
`

// Lines returns the stocktake's lines joined with item identity.
func (r *Repository) Lines(ctx context.Context, stocktakeID int64) ([]LineView, error) {
	var lines []LineView
	if err := r.db.WithContext(ctx).Raw(lineViewQuery, stocktakeID).Scan(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

// EnabledItems returns every enabled catalog item, unbounded. Used to
// snapshot the full catalog into a new stocktake.
func (r *Repository) EnabledItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id ASC").
		Find(&items).
		Error
	if err != nil {
		return nil, err
	}
	return items, nil
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

// FindWarehouse loads the warehouse.
func (r *Repository) FindWarehouse(ctx context.Context, id int64) (*models.Warehouse, error) {
	var warehouse models.Warehouse
	if err := r.db.WithContext(ctx).First(&warehouse, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &warehouse, nil
}

// CreateWithLines inserts the header and its line snapshot in one
// transaction.
func (r *Repository) CreateWithLines(ctx context.Context, st *models.Stocktake, lines []models.StocktakeLine) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(st).Error; err != nil {
			return err
		}
		for n := range lines {
			lines[n].StocktakeID = st.ID
		}
		if len(lines) == 0 {
			return nil
		}
		return tx.Create(&lines).Error
	})
}

// UpdateCounts writes counted quantities and diffs for the given line ids
// in one transaction. A nil counted quantity clears the count.
func (r *Repository) UpdateCounts(ctx context.Context, updates map[int64]*int64) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for lineID, counted := range updates {
			values := map[string]any{
				"counted_qty": nil,
				"diff_qty":    nil,
				"updated_at":  time.Now(),
			}
			if counted != nil {
				values["counted_qty"] = *counted
				values["diff_qty"] = gorm.Expr("? - system_qty", *counted)
			}
			err := tx.Model(&models.StocktakeLine{}).
				Where("id = ?", lineID).
				Updates(values).
				Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// TransitionStatus flips the status only when the row still carries the
// expected one. Returns false when the compare-and-swap lost.
func (r *Repository) TransitionStatus(ctx context.Context, id int64, from, to enums.StocktakeStatus, appliedAt *time.Time) (bool, error) {
	values := map[string]any{"status": to}
	if to == enums.StocktakeStatusApplied {
		values["applied_at"] = appliedAt
	}
	if to == enums.StocktakeStatusDraft {
		values["applied_at"] = nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Stocktake{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteDraft removes the stocktake and its lines only while it is DRAFT.
// Returns false when the header was not deleted (missing or not DRAFT).
func (r *Repository) DeleteDraft(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status = ?", id, enums.StocktakeStatusDraft).
			Delete(&models.Stocktake{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Where("stocktake_id = ?", id).Delete(&models.StocktakeLine{}).Error
	})
	return deleted, err
}
