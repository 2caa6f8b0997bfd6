package stocktake

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/internal/catalog"
	"github.com/stockloghq/stocklog-backend/internal/ledger"
	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
)

type fixture struct {
	conn    *gorm.DB
	svc     Service
	ledger  ledger.Service
	catalog catalog.Service
}

func newFixture(t *testing.T, chunkSize int) *fixture {
	t.Helper()
	dsn := "file:stocktake_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Item{},
		&models.Warehouse{},
		&models.Stock{},
		&models.StockTx{},
		&models.Stocktake{},
		&models.StocktakeLine{},
	))

	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn))
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), db.FromConn(conn), catalogSvc, nil, nil)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), ledgerSvc, nil, chunkSize)
	require.NoError(t, err)

	return &fixture{conn: conn, svc: svc, ledger: ledgerSvc, catalog: catalogSvc}
}

func (f *fixture) seed(t *testing.T, sku string, qty int64, warehouseID int64) *models.Item {
	t.Helper()
	ctx := context.Background()
	item, err := f.catalog.CreateItem(ctx, catalog.CreateItemInput{SKU: sku, Name: sku})
	require.NoError(t, err)
	if qty > 0 {
		_, err = f.ledger.StockIn(ctx, ledger.StockInInput{ItemID: item.ID, WarehouseID: warehouseID, Qty: qty, CreatedBy: "tester"})
		require.NoError(t, err)
	}
	return item
}

func (f *fixture) warehouse(t *testing.T) *models.Warehouse {
	t.Helper()
	wh, err := f.catalog.CreateWarehouse(context.Background(), catalog.CreateWarehouseInput{Name: "main"})
	require.NoError(t, err)
	return wh
}

func (f *fixture) qty(t *testing.T, itemID, warehouseID int64) int64 {
	t.Helper()
	qty, err := ledger.NewRepository(f.conn).GetQty(context.Background(), itemID, warehouseID)
	require.NoError(t, err)
	return qty
}

func intPtr(v int64) *int64 { return &v }

func TestCreateSnapshotsBalances(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	f.seed(t, "ST-A", 5, wh.ID)
	f.seed(t, "ST-B", 0, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, enums.StocktakeStatusDraft, detail.Stocktake.Status)
	require.Len(t, detail.Lines, 2)
	assert.Equal(t, int64(5), detail.Lines[0].SystemQty)
	assert.Equal(t, int64(0), detail.Lines[1].SystemQty)
}

func TestImportCountsReportsUnknownSKUs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	f.seed(t, "ST-C", 3, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)

	result, err := f.svc.ImportCounts(ctx, detail.Stocktake.ID, []CountLine{
		{SKU: "ST-C", CountedQty: intPtr(7)},
		{SKU: "GHOST", CountedQty: intPtr(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, []string{"GHOST"}, result.Unknown)

	reloaded, err := f.svc.Get(ctx, detail.Stocktake.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Lines[0].DiffQty)
	assert.Equal(t, int64(4), *reloaded.Lines[0].DiffQty)
}

func TestImportCountsClearsWithNil(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	f.seed(t, "ST-D", 3, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)

	_, err = f.svc.ImportCounts(ctx, detail.Stocktake.ID, []CountLine{{SKU: "ST-D", CountedQty: intPtr(9)}})
	require.NoError(t, err)
	_, err = f.svc.ImportCounts(ctx, detail.Stocktake.ID, []CountLine{{SKU: "ST-D"}})
	require.NoError(t, err)

	reloaded, err := f.svc.Get(ctx, detail.Stocktake.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Lines[0].CountedQty)
	assert.Nil(t, reloaded.Lines[0].DiffQty)
}

func TestApplyPostsDiffsAndIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	item := f.seed(t, "ST-E", 10, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	id := detail.Stocktake.ID

	_, err = f.svc.ImportCounts(ctx, id, []CountLine{{SKU: "ST-E", CountedQty: intPtr(6)}})
	require.NoError(t, err)

	result, err := f.svc.Apply(ctx, id, "admin")
	require.NoError(t, err)
	assert.Equal(t, enums.StocktakeStatusApplied, result.Status)
	assert.Equal(t, 1, result.Posted)
	assert.Equal(t, int64(6), f.qty(t, item.ID, wh.ID))

	// replay is a no-op success, balance unchanged
	again, err := f.svc.Apply(ctx, id, "admin")
	require.NoError(t, err)
	assert.Equal(t, enums.StocktakeStatusApplied, again.Status)
	assert.Equal(t, 0, again.Posted)
	assert.Equal(t, int64(6), f.qty(t, item.ID, wh.ID))
}

func TestApplyResumesAfterInterruption(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	ctx := context.Background()
	wh := f.warehouse(t)
	first := f.seed(t, "AAA-1", 5, wh.ID)
	second := f.seed(t, "BBB-1", 5, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	id := detail.Stocktake.ID

	_, err = f.svc.ImportCounts(ctx, id, []CountLine{
		{SKU: "AAA-1", CountedQty: intPtr(2)},
		{SKU: "BBB-1", CountedQty: intPtr(0)},
	})
	require.NoError(t, err)

	// deplete BBB-1 after the snapshot so its debit chunk fails mid-apply
	_, err = f.ledger.StockOut(ctx, ledger.StockOutInput{ItemID: second.ID, WarehouseID: wh.ID, Qty: 3, CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = f.svc.Apply(ctx, id, "admin")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficient))

	// first chunk landed, status stuck in APPLYING
	interrupted, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.StocktakeStatusApplying, interrupted.Stocktake.Status)
	assert.Equal(t, int64(2), f.qty(t, first.ID, wh.ID))

	// restock and resume; the already-posted chunk is not re-applied
	_, err = f.ledger.StockIn(ctx, ledger.StockInInput{ItemID: second.ID, WarehouseID: wh.ID, Qty: 3, CreatedBy: "tester"})
	require.NoError(t, err)

	result, err := f.svc.Apply(ctx, id, "admin")
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, enums.StocktakeStatusApplied, result.Status)
	assert.Equal(t, int64(2), f.qty(t, first.ID, wh.ID))
	assert.Equal(t, int64(0), f.qty(t, second.ID, wh.ID))
}

func TestRollbackRestoresBalances(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	item := f.seed(t, "ST-F", 10, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	id := detail.Stocktake.ID

	_, err = f.svc.ImportCounts(ctx, id, []CountLine{{SKU: "ST-F", CountedQty: intPtr(4)}})
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, id, "admin")
	require.NoError(t, err)
	require.Equal(t, int64(4), f.qty(t, item.ID, wh.ID))

	result, err := f.svc.Rollback(ctx, id, "admin")
	require.NoError(t, err)
	assert.Equal(t, enums.StocktakeStatusDraft, result.Status)
	assert.Equal(t, int64(10), f.qty(t, item.ID, wh.ID))

	reloaded, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Stocktake.AppliedAt)
}

func TestRollbackRequiresAppliedState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	f.seed(t, "ST-G", 1, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)

	_, err = f.svc.Rollback(ctx, detail.Stocktake.ID, "admin")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestDeleteOnlyRemovesDrafts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	f.seed(t, "ST-H", 5, wh.ID)

	draft, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, draft.Stocktake.ID))

	err = f.svc.Delete(ctx, draft.Stocktake.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	applied, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	_, err = f.svc.ImportCounts(ctx, applied.Stocktake.ID, []CountLine{{SKU: "ST-H", CountedQty: intPtr(5)}})
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, applied.Stocktake.ID, "admin")
	require.NoError(t, err)

	err = f.svc.Delete(ctx, applied.Stocktake.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestImportRejectedOutsideDraft(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	f.seed(t, "ST-I", 5, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	id := detail.Stocktake.ID

	_, err = f.svc.ImportCounts(ctx, id, []CountLine{{SKU: "ST-I", CountedQty: intPtr(5)}})
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, id, "admin")
	require.NoError(t, err)

	_, err = f.svc.ImportCounts(ctx, id, []CountLine{{SKU: "ST-I", CountedQty: intPtr(1)}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

// racingPoster delegates to the real ledger and then fires a hook once,
// standing in for a concurrent invocation that finishes between the
// postings and the final status flip.
type racingPoster struct {
	inner ledger.Service
	after func()
}

func (p *racingPoster) PostDeltas(ctx context.Context, postings []ledger.DeltaPosting) (int, error) {
	n, err := p.inner.PostDeltas(ctx, postings)
	if err == nil && p.after != nil {
		hook := p.after
		p.after = nil
		hook()
	}
	return n, err
}

func TestApplyLosingFinalFlipIsCompletion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	item := f.seed(t, "ST-R1", 10, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	id := detail.Stocktake.ID
	_, err = f.svc.ImportCounts(ctx, id, []CountLine{{SKU: "ST-R1", CountedQty: intPtr(7)}})
	require.NoError(t, err)

	poster := &racingPoster{inner: f.ledger, after: func() {
		require.NoError(t, f.conn.Model(&models.Stocktake{}).
			Where("id = ?", id).
			Update("status", enums.StocktakeStatusApplied).Error)
	}}
	racy, err := NewService(NewRepository(f.conn), poster, nil, 0)
	require.NoError(t, err)

	// the racing winner flips APPLYING->APPLIED first; since the
	// postings are idempotent this run still counts as a completed apply
	result, err := racy.Apply(ctx, id, "admin")
	require.NoError(t, err)
	assert.Equal(t, enums.StocktakeStatusApplied, result.Status)
	assert.Equal(t, int64(7), f.qty(t, item.ID, wh.ID))

	final, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.StocktakeStatusApplied, final.Stocktake.Status)
}

func TestRollbackLosingFinalFlipIsCompletion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	ctx := context.Background()
	wh := f.warehouse(t)
	item := f.seed(t, "ST-R2", 10, wh.ID)

	detail, err := f.svc.Create(ctx, CreateInput{WarehouseID: wh.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	id := detail.Stocktake.ID
	_, err = f.svc.ImportCounts(ctx, id, []CountLine{{SKU: "ST-R2", CountedQty: intPtr(7)}})
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, id, "admin")
	require.NoError(t, err)
	require.Equal(t, int64(7), f.qty(t, item.ID, wh.ID))

	poster := &racingPoster{inner: f.ledger, after: func() {
		require.NoError(t, f.conn.Model(&models.Stocktake{}).
			Where("id = ?", id).
			Update("status", enums.StocktakeStatusDraft).Error)
	}}
	racy, err := NewService(NewRepository(f.conn), poster, nil, 0)
	require.NoError(t, err)

	result, err := racy.Rollback(ctx, id, "admin")
	require.NoError(t, err)
	assert.Equal(t, enums.StocktakeStatusDraft, result.Status)
	assert.Equal(t, int64(10), f.qty(t, item.ID, wh.ID))

	final, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.StocktakeStatusDraft, final.Stocktake.Status)
}
