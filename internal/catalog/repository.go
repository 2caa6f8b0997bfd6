package catalog

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

// Repository wires together item and warehouse persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Transaction runs fn against a repository bound to a single transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// FindItemByID loads the item without associations.
func (r *Repository) FindItemByID(ctx context.Context, id int64) (*models.Item, error) {
	var item models.Item
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// FindItemBySKU loads the item by its unique SKU.
func (r *Repository) FindItemBySKU(ctx context.Context, sku string) (*models.Item, error) {
	var item models.Item
	if err := r.db.WithContext(ctx).First(&item, "sku = ?", sku).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// ItemListFilter narrows the item listing.
type ItemListFilter struct {
	Keyword  string
	Category string
	Enabled  *bool
	Limit    int
}

// ListItems returns catalog entries matching the filter, newest first.
func (r *Repository) ListItems(ctx context.Context, filter ItemListFilter) ([]models.Item, error) {
	query := r.db.WithContext(ctx).Model(&models.Item{})
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("sku LIKE ? OR name LIKE ? OR brand LIKE ? OR model LIKE ?", like, like, like, like)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}

	var items []models.Item
	err := query.
		Order("id DESC").
		Limit(pagination.NormalizeLimit(filter.Limit)).
		Find(&items).
		Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListCategories returns the distinct non-empty categories in use.
func (r *Repository) ListCategories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("category IS NOT NULL AND category <> ''").
		Distinct("category").
		Order("category ASC").
		Pluck("category", &categories).
		Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// CreateItem inserts a new catalog entry.
func (r *Repository) CreateItem(ctx context.Context, item *models.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// SaveItem persists in-place mutations of an existing item.
func (r *Repository) SaveItem(ctx context.Context, item *models.Item) error {
	return r.db.WithContext(ctx).Save(item).Error
}

// ResolveSKUs maps the given SKUs to items in a single query. SKUs with no
// matching row come back in missing; matched-but-disabled SKUs come back in
// disabled when enabledOnly is set (and are excluded from the map).
func (r *Repository) ResolveSKUs(ctx context.Context, skus []string, enabledOnly bool) (map[string]models.Item, []string, []string, error) {
	resolved := make(map[string]models.Item, len(skus))
	if len(skus) == 0 {
		return resolved, nil, nil, nil
	}

	var items []models.Item
	if err := r.db.WithContext(ctx).Where("sku IN ?", skus).Find(&items).Error; err != nil {
		return nil, nil, nil, err
	}

	bySKU := make(map[string]models.Item, len(items))
	for _, item := range items {
		bySKU[item.SKU] = item
	}

	var missing, disabled []string
	seen := make(map[string]bool, len(skus))
	for _, sku := range skus {
		if seen[sku] {
			continue
		}
		seen[sku] = true

		item, ok := bySKU[sku]
		switch {
		case !ok:
			missing = append(missing, sku)
		case enabledOnly && !item.Enabled:
			disabled = append(disabled, sku)
		default:
			resolved[sku] = item
		}
	}
	return resolved, missing, disabled, nil
}

// FindWarehouseByID loads a warehouse.
func (r *Repository) FindWarehouseByID(ctx context.Context, id int64) (*models.Warehouse, error) {
	var warehouse models.Warehouse
	if err := r.db.WithContext(ctx).First(&warehouse, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &warehouse, nil
}

// ListWarehouses returns all warehouses in creation order.
func (r *Repository) ListWarehouses(ctx context.Context) ([]models.Warehouse, error) {
	var warehouses []models.Warehouse
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&warehouses).Error; err != nil {
		return nil, err
	}
	return warehouses, nil
}

// CreateWarehouse inserts a new warehouse.
func (r *Repository) CreateWarehouse(ctx context.Context, warehouse *models.Warehouse) error {
	return r.db.WithContext(ctx).Create(warehouse).Error
}
