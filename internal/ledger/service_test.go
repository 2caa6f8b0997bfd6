package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/internal/catalog"
	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
)

type ledgerFixture struct {
	conn    *gorm.DB
	svc     Service
	catalog catalog.Service
}

func newFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Item{},
		&models.Warehouse{},
		&models.Stock{},
		&models.StockTx{},
	))

	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn))
	require.NoError(t, err)

	svc, err := NewService(NewRepository(conn), db.FromConn(conn), catalogSvc, nil, nil)
	require.NoError(t, err)

	return &ledgerFixture{conn: conn, svc: svc, catalog: catalogSvc}
}

func (f *ledgerFixture) seedItem(t *testing.T, sku string) *models.Item {
	t.Helper()
	item, err := f.catalog.CreateItem(context.Background(), catalog.CreateItemInput{SKU: sku, Name: sku})
	require.NoError(t, err)
	return item
}

func (f *ledgerFixture) seedWarehouse(t *testing.T, name string) *models.Warehouse {
	t.Helper()
	warehouse, err := f.catalog.CreateWarehouse(context.Background(), catalog.CreateWarehouseInput{Name: name})
	require.NoError(t, err)
	return warehouse
}

func (f *ledgerFixture) qty(t *testing.T, itemID, warehouseID int64) int64 {
	t.Helper()
	qty, err := NewRepository(f.conn).GetQty(context.Background(), itemID, warehouseID)
	require.NoError(t, err)
	return qty
}

func (f *ledgerFixture) txCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.StockTx{}).Count(&count).Error)
	return count
}

func TestPostingsConserveQuantity(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, "CBL-01")
	wh := f.seedWarehouse(t, "main")

	_, err := f.svc.StockIn(ctx, StockInInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 10, CreatedBy: "tester"})
	require.NoError(t, err)
	_, err = f.svc.StockOut(ctx, StockOutInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 4, CreatedBy: "tester"})
	require.NoError(t, err)

	assert.Equal(t, int64(6), f.qty(t, item.ID, wh.ID))

	// the balance always equals the sum of journal deltas
	var deltaSum int64
	require.NoError(t, f.conn.Model(&models.StockTx{}).
		Where("item_id = ? AND warehouse_id = ?", item.ID, wh.ID).
		Select("SUM(delta_qty)").
		Scan(&deltaSum).
		Error)
	assert.Equal(t, int64(6), deltaSum)
}

func TestStockOutRejectsInsufficiency(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, "CBL-02")
	wh := f.seedWarehouse(t, "main")

	_, err := f.svc.StockIn(ctx, StockInInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 3, CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = f.svc.StockOut(ctx, StockOutInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 5, CreatedBy: "tester"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficient))

	// nothing applied: balance intact, no journal entry written
	assert.Equal(t, int64(3), f.qty(t, item.ID, wh.ID))
	assert.Equal(t, int64(1), f.txCount(t))
}

func TestStockOutFromEmptyBalanceRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	item := f.seedItem(t, "CBL-03")
	wh := f.seedWarehouse(t, "main")

	_, err := f.svc.StockOut(context.Background(), StockOutInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 1, CreatedBy: "tester"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficient))
}

func TestIdempotentReplayResolvesToOriginal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, "CBL-04")
	wh := f.seedWarehouse(t, "main")

	first, err := f.svc.StockIn(ctx, StockInInput{
		ItemID: item.ID, WarehouseID: wh.ID, Qty: 7,
		ClientRequestID: "req-abc-1", CreatedBy: "tester",
	})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	replay, err := f.svc.StockIn(ctx, StockInInput{
		ItemID: item.ID, WarehouseID: wh.ID, Qty: 7,
		ClientRequestID: "req-abc-1", CreatedBy: "tester",
	})
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, first.TxNo, replay.TxNo)

	// applied exactly once
	assert.Equal(t, int64(7), f.qty(t, item.ID, wh.ID))
	assert.Equal(t, int64(1), f.txCount(t))
}

func TestConcurrentReplayResolvesViaUniqueIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, "CBL-05")
	wh := f.seedWarehouse(t, "main")

	racySvc, err := NewService(NewRepository(f.conn), db.FromConn(f.conn), f.catalog, nil, nil)
	require.NoError(t, err)
	racy := racySvc.(*service)

	// the clock is read once before the key pre-check and again when
	// the tx number is minted; a rival posting injected on the second
	// read lands exactly in the check-then-insert window
	var rival *PostResult
	calls := 0
	racy.now = func() time.Time {
		calls++
		if calls == 2 {
			res, postErr := f.svc.StockIn(ctx, StockInInput{
				ItemID: item.ID, WarehouseID: wh.ID, Qty: 3,
				ClientRequestID: "req-race-1", CreatedBy: "winner",
			})
			require.NoError(t, postErr)
			rival = res
		}
		return time.Now()
	}

	replay, err := racy.StockIn(ctx, StockInInput{
		ItemID: item.ID, WarehouseID: wh.ID, Qty: 3,
		ClientRequestID: "req-race-1", CreatedBy: "loser",
	})
	require.NoError(t, err)
	require.NotNil(t, rival)
	assert.False(t, rival.Duplicate)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, rival.TxNo, replay.TxNo)

	// the losing batch rolled back whole, so the balance moved once
	assert.Equal(t, int64(3), f.qty(t, item.ID, wh.ID))
	assert.Equal(t, int64(1), f.txCount(t))
}

func TestMalformedTokenTreatedAsAbsent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, "CBL-05")
	wh := f.seedWarehouse(t, "main")

	for range 2 {
		_, err := f.svc.StockIn(ctx, StockInInput{
			ItemID: item.ID, WarehouseID: wh.ID, Qty: 2,
			ClientRequestID: "bad token with spaces!", CreatedBy: "tester",
		})
		require.NoError(t, err)
	}

	// no replay protection: both postings applied
	assert.Equal(t, int64(4), f.qty(t, item.ID, wh.ID))
	assert.Equal(t, int64(2), f.txCount(t))
}

func TestNormalizeToken(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		raw   string
		valid bool
	}{
		{"simple", "req-1", true},
		{"charset", "A9:z_-", true},
		{"max length", string(make64('a')), true},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"spaces inside", "a b", false},
		{"too long", string(make64('a')) + "a", false},
		{"illegal char", "req#1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := NormalizeToken(tc.raw)
			if tc.valid {
				require.NotNil(t, token)
			} else {
				assert.Nil(t, token)
			}
		})
	}
}

func make64(c byte) []byte {
	out := make([]byte, 64)
	for n := range out {
		out[n] = c
	}
	return out
}

func TestBatchOutIsAllOrNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	rich := f.seedItem(t, "RICH-1")
	poor := f.seedItem(t, "POOR-1")
	wh := f.seedWarehouse(t, "main")

	_, err := f.svc.StockIn(ctx, StockInInput{ItemID: rich.ID, WarehouseID: wh.ID, Qty: 100, CreatedBy: "tester"})
	require.NoError(t, err)
	_, err = f.svc.StockIn(ctx, StockInInput{ItemID: poor.ID, WarehouseID: wh.ID, Qty: 1, CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = f.svc.StockOutBatch(ctx, BatchInput{
		WarehouseID: wh.ID,
		CreatedBy:   "tester",
		Lines: []BatchLine{
			{SKU: "RICH-1", Qty: 10},
			{SKU: "POOR-1", Qty: 5},
		},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficient))

	// the sufficient line was not applied either
	assert.Equal(t, int64(100), f.qty(t, rich.ID, wh.ID))
	assert.Equal(t, int64(1), f.qty(t, poor.ID, wh.ID))
	assert.Equal(t, int64(2), f.txCount(t))
}

func TestBatchInRejectsUnknownSKU(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedItem(t, "KNOWN-1")
	wh := f.seedWarehouse(t, "main")

	_, err := f.svc.StockInBatch(context.Background(), BatchInput{
		WarehouseID: wh.ID,
		CreatedBy:   "tester",
		Lines: []BatchLine{
			{SKU: "KNOWN-1", Qty: 1},
			{SKU: "GHOST-9", Qty: 1},
		},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, int64(0), f.txCount(t))
}

func TestBatchReplayResolvesToOriginalEntries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedItem(t, "BA-1")
	b := f.seedItem(t, "BB-1")
	wh := f.seedWarehouse(t, "main")

	input := BatchInput{
		WarehouseID:     wh.ID,
		ClientRequestID: "batch-req-77",
		CreatedBy:       "tester",
		Lines: []BatchLine{
			{SKU: "BA-1", Qty: 3},
			{SKU: "BB-1", Qty: 4},
		},
	}
	first, err := f.svc.StockInBatch(ctx, input)
	require.NoError(t, err)
	require.Len(t, first.TxNos, 2)
	assert.False(t, first.Duplicate)

	replay, err := f.svc.StockInBatch(ctx, input)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.ElementsMatch(t, first.TxNos, replay.TxNos)

	assert.Equal(t, int64(3), f.qty(t, a.ID, wh.ID))
	assert.Equal(t, int64(4), f.qty(t, b.ID, wh.ID))
	assert.Equal(t, int64(2), f.txCount(t))
}

func TestPostDeltasSkipsExistingKeys(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, "ADJ-1")
	wh := f.seedWarehouse(t, "main")

	postings := []DeltaPosting{
		{
			ItemID: item.ID, WarehouseID: wh.ID, Delta: 5,
			Type: enums.TxTypeAdjust, IdempotencyKey: "st:ST1:1",
			RefType: enums.TxRefStocktakeApply, RefID: 1, RefNo: "ST1",
			CreatedBy: "system",
		},
	}
	applied, err := f.svc.PostDeltas(ctx, postings)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// the same chunk replayed is a no-op
	applied, err = f.svc.PostDeltas(ctx, postings)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.Equal(t, int64(5), f.qty(t, item.ID, wh.ID))
}

func TestPostDeltasIgnoresZeroDeltas(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	item := f.seedItem(t, "ADJ-2")
	wh := f.seedWarehouse(t, "main")

	applied, err := f.svc.PostDeltas(context.Background(), []DeltaPosting{
		{ItemID: item.ID, WarehouseID: wh.ID, Delta: 0, Type: enums.TxTypeAdjust, IdempotencyKey: "st:ST2:1", CreatedBy: "system"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.Equal(t, int64(0), f.txCount(t))
}

func TestStockOverviewComputesWarnings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	wh := f.seedWarehouse(t, "main")

	item, err := f.catalog.CreateItem(ctx, catalog.CreateItemInput{SKU: "WRN-1", Name: "Watched", WarningQty: 10})
	require.NoError(t, err)

	_, err = f.svc.StockIn(ctx, StockInInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 8, CreatedBy: "tester"})
	require.NoError(t, err)

	rows, err := f.svc.StockOverview(ctx, StockFilter{WarehouseID: wh.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Warning)

	warnings, err := f.svc.Warnings(ctx)
	require.NoError(t, err)
	assert.Len(t, warnings, 1)

	// raise above threshold, warning clears
	_, err = f.svc.StockIn(ctx, StockInInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 20, CreatedBy: "tester"})
	require.NoError(t, err)
	warnings, err = f.svc.Warnings(ctx)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestClearJournalRemovesAllEntries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, "CLR-1")
	wh := f.seedWarehouse(t, "main")

	_, err := f.svc.StockIn(ctx, StockInInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 2, CreatedBy: "tester"})
	require.NoError(t, err)

	removed, err := f.svc.ClearJournal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, int64(0), f.txCount(t))

	// balances survive a journal clear
	assert.Equal(t, int64(2), f.qty(t, item.ID, wh.ID))
}

func TestSummaryAggregates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, "SUM-1")
	wh := f.seedWarehouse(t, "main")

	_, err := f.svc.StockIn(ctx, StockInInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 9, CreatedBy: "tester"})
	require.NoError(t, err)
	_, err = f.svc.StockOut(ctx, StockOutInput{ItemID: item.ID, WarehouseID: wh.ID, Qty: 3, CreatedBy: "tester"})
	require.NoError(t, err)

	report, err := f.svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.ItemCount)
	assert.Equal(t, int64(6), report.TotalQty)
	assert.Equal(t, int64(9), report.TodayInQty)
	assert.Equal(t, int64(3), report.TodayOutQty)
	assert.Equal(t, int64(2), report.TodayTxCount)
}

func TestBatchAggregatesRepeatedSKUs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, "AGG-1")
	wh := f.seedWarehouse(t, "main")

	result, err := f.svc.StockInBatch(ctx, BatchInput{
		WarehouseID: wh.ID,
		CreatedBy:   "tester",
		Lines: []BatchLine{
			{SKU: "AGG-1", Qty: 2},
			{SKU: "AGG-1", Qty: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, int64(5), f.qty(t, item.ID, wh.ID))
	assert.Equal(t, int64(1), f.txCount(t))
}
