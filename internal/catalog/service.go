package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
)

// Service exposes catalog management operations.
type Service interface {
	CreateItem(ctx context.Context, input CreateItemInput) (*models.Item, error)
	UpdateItem(ctx context.Context, id int64, input UpdateItemInput) (*models.Item, error)
	ImportItems(ctx context.Context, input ImportItemsInput) (*ImportItemsResult, error)
	DisableItem(ctx context.Context, id int64) (*models.Item, error)
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	ListItems(ctx context.Context, filter ItemListFilter) ([]models.Item, error)
	ListCategories(ctx context.Context) ([]string, error)

	CreateWarehouse(ctx context.Context, input CreateWarehouseInput) (*models.Warehouse, error)
	GetWarehouse(ctx context.Context, id int64) (*models.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]models.Warehouse, error)

	// ResolveEnabledSKUs maps SKUs to enabled items, failing with a
	// validation error that lists every unknown or disabled SKU.
	ResolveEnabledSKUs(ctx context.Context, skus []string) (map[string]models.Item, error)
}

// CreateItemInput holds the validated payload to create an item.
type CreateItemInput struct {
	SKU        string
	Name       string
	Brand      *string
	Model      *string
	Category   *string
	Unit       string
	WarningQty int64
}

// UpdateItemInput holds optional mutation values for an item.
type UpdateItemInput struct {
	Name       *string
	Brand      *string
	Model      *string
	Category   *string
	Unit       *string
	WarningQty *int64
	Enabled    *bool
}

// Import modes decide what happens to rows whose SKU already exists:
// skip leaves them untouched, upsert and overwrite replace their
// imported columns.
const (
	ImportModeUpsert    = "upsert"
	ImportModeSkip      = "skip"
	ImportModeOverwrite = "overwrite"
)

// ImportLine is one row of a bulk catalog load.
type ImportLine struct {
	SKU        string
	Name       string
	Brand      *string
	Model      *string
	Category   *string
	Unit       string
	WarningQty int64
}

// ImportItemsInput carries a bulk item load. An empty Mode defaults to
// upsert.
type ImportItemsInput struct {
	Mode  string
	Lines []ImportLine
}

// ImportRowError reports one rejected row by its 1-based position.
type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportItemsResult tallies the outcome of a bulk load.
type ImportItemsResult struct {
	Inserted int              `json:"inserted"`
	Updated  int              `json:"updated"`
	Skipped  int              `json:"skipped"`
	Errors   []ImportRowError `json:"errors,omitempty"`
}

// CreateWarehouseInput holds the validated payload to create a warehouse.
type CreateWarehouseInput struct {
	Name   string
	Remark *string
}

type service struct {
	repo *Repository
}

// NewService constructs a catalog service instance.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) CreateItem(ctx context.Context, input CreateItemInput) (*models.Item, error) {
	item := &models.Item{
		SKU:        strings.TrimSpace(input.SKU),
		Name:       strings.TrimSpace(input.Name),
		Brand:      input.Brand,
		Model:      input.Model,
		Category:   input.Category,
		Unit:       importUnit(input.Unit),
		WarningQty: input.WarningQty,
		Enabled:    true,
	}
	if err := s.repo.CreateItem(ctx, item); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "sku already exists").
				WithDetails(map[string]string{"sku": item.SKU})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating item")
	}
	return item, nil
}

func (s *service) UpdateItem(ctx context.Context, id int64, input UpdateItemInput) (*models.Item, error) {
	item, err := s.loadItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		item.Name = strings.TrimSpace(*input.Name)
	}
	if input.Brand != nil {
		item.Brand = input.Brand
	}
	if input.Model != nil {
		item.Model = input.Model
	}
	if input.Category != nil {
		item.Category = input.Category
	}
	if input.Unit != nil && strings.TrimSpace(*input.Unit) != "" {
		item.Unit = strings.TrimSpace(*input.Unit)
	}
	if input.WarningQty != nil {
		if *input.WarningQty < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "warning_qty cannot be negative")
		}
		item.WarningQty = *input.WarningQty
	}
	if input.Enabled != nil {
		item.Enabled = *input.Enabled
	}

	if err := s.repo.SaveItem(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating item")
	}
	return item, nil
}

// ImportItems loads a batch of catalog rows in one transaction. Rows with
// a blank SKU or name are counted as skipped and reported by position;
// a storage failure rolls the whole load back.
func (s *service) ImportItems(ctx context.Context, input ImportItemsInput) (*ImportItemsResult, error) {
	mode := input.Mode
	if mode == "" {
		mode = ImportModeUpsert
	}
	switch mode {
	case ImportModeUpsert, ImportModeSkip, ImportModeOverwrite:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid import mode").
			WithDetails(map[string]string{"mode": input.Mode})
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no rows to import")
	}

	result := &ImportItemsResult{}
	err := s.repo.Transaction(ctx, func(repo *Repository) error {
		for n, line := range input.Lines {
			sku := strings.TrimSpace(line.SKU)
			name := strings.TrimSpace(line.Name)
			if sku == "" || name == "" {
				result.Skipped++
				result.Errors = append(result.Errors, ImportRowError{Row: n + 1, Message: "sku and name are required"})
				continue
			}
			if line.WarningQty < 0 {
				result.Skipped++
				result.Errors = append(result.Errors, ImportRowError{Row: n + 1, Message: "warning_qty cannot be negative"})
				continue
			}

			existing, err := repo.FindItemBySKU(ctx, sku)
			switch {
			case err == nil && mode == ImportModeSkip:
				result.Skipped++
			case err == nil:
				existing.Name = name
				existing.Brand = line.Brand
				existing.Model = line.Model
				existing.Category = line.Category
				existing.Unit = importUnit(line.Unit)
				existing.WarningQty = line.WarningQty
				if err := repo.SaveItem(ctx, existing); err != nil {
					return err
				}
				result.Updated++
			case errors.Is(err, gorm.ErrRecordNotFound):
				item := &models.Item{
					SKU:        sku,
					Name:       name,
					Brand:      line.Brand,
					Model:      line.Model,
					Category:   line.Category,
					Unit:       importUnit(line.Unit),
					WarningQty: line.WarningQty,
					Enabled:    true,
				}
				if err := repo.CreateItem(ctx, item); err != nil {
					return err
				}
				result.Inserted++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "importing items")
	}
	return result, nil
}

func importUnit(raw string) string {
	if unit := strings.TrimSpace(raw); unit != "" {
		return unit
	}
	return "ea"
}

// DisableItem soft-deletes the item: it stays in history and reports, but
// new postings and stocktake imports reject its SKU.
func (s *service) DisableItem(ctx context.Context, id int64) (*models.Item, error) {
	item, err := s.loadItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.Enabled {
		return item, nil
	}
	item.Enabled = false
	if err := s.repo.SaveItem(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "disabling item")
	}
	return item, nil
}

func (s *service) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	return s.loadItem(ctx, id)
}

func (s *service) ListItems(ctx context.Context, filter ItemListFilter) ([]models.Item, error) {
	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing items")
	}
	return items, nil
}

func (s *service) ListCategories(ctx context.Context) ([]string, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing categories")
	}
	return categories, nil
}

func (s *service) CreateWarehouse(ctx context.Context, input CreateWarehouseInput) (*models.Warehouse, error) {
	warehouse := &models.Warehouse{
		Name:   strings.TrimSpace(input.Name),
		Remark: input.Remark,
	}
	if err := s.repo.CreateWarehouse(ctx, warehouse); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "warehouse name already exists").
				WithDetails(map[string]string{"name": warehouse.Name})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating warehouse")
	}
	return warehouse, nil
}

func (s *service) GetWarehouse(ctx context.Context, id int64) (*models.Warehouse, error) {
	warehouse, err := s.repo.FindWarehouseByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "warehouse not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading warehouse")
	}
	return warehouse, nil
}

func (s *service) ListWarehouses(ctx context.Context) ([]models.Warehouse, error) {
	warehouses, err := s.repo.ListWarehouses(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing warehouses")
	}
	return warehouses, nil
}

func (s *service) ResolveEnabledSKUs(ctx context.Context, skus []string) (map[string]models.Item, error) {
	resolved, missing, disabled, err := s.repo.ResolveSKUs(ctx, skus, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolving skus")
	}
	if len(missing) > 0 || len(disabled) > 0 {
		details := map[string]any{}
		if len(missing) > 0 {
			details["unknown_skus"] = missing
		}
		if len(disabled) > 0 {
			details["disabled_skus"] = disabled
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown or disabled skus").WithDetails(details)
	}
	return resolved, nil
}

func (s *service) loadItem(ctx context.Context, id int64) (*models.Item, error) {
	item, err := s.repo.FindItemByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading item")
	}
	return item, nil
}
