package restore

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/config"
	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/storage"
)

type fixture struct {
	conn  *gorm.DB
	store *storage.MemoryStore
	svc   Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:restore_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Warehouse{},
		&models.Item{},
		&models.Stock{},
		&models.StockTx{},
		&models.Stocktake{},
		&models.StocktakeLine{},
		&models.AuditLog{},
		&models.RestoreJob{},
	))

	store := storage.NewMemoryStore()
	cfg := config.RestoreConfig{
		DefaultMaxRows: 2000,
		DefaultMaxTime: 8 * time.Second,
		FlushSize:      10,
		PollInterval:   50,
	}
	svc, err := NewService(NewRepository(conn), db.FromConn(conn), store, cfg, nil, nil)
	require.NoError(t, err)

	return &fixture{conn: conn, store: store, svc: svc}
}

// buildArtifact assembles a backup document by hand so table order is
// deterministic.
func buildArtifact(t *testing.T, order []string, tables map[string][]map[string]any) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(`{"version":"stocklog-backup-v1","exported_at":"2026-01-02T03:04:05Z","tables":{`)
	for i, name := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:[", name)
		for j, row := range tables[name] {
			if j > 0 {
				buf.WriteByte(',')
			}
			encoded, err := json.Marshal(row)
			require.NoError(t, err)
			buf.Write(encoded)
		}
		buf.WriteByte(']')
	}
	buf.WriteString("}}")
	return buf.Bytes()
}

func itemRow(id int64, sku, name string) map[string]any {
	return map[string]any{
		"id":          id,
		"sku":         sku,
		"name":        name,
		"unit":        "ea",
		"warning_qty": 0,
		"enabled":     true,
		"created_at":  "2026-01-02T03:04:05Z",
		"updated_at":  "2026-01-02T03:04:05Z",
	}
}

func warehouseRow(id int64, name string) map[string]any {
	return map[string]any{
		"id":         id,
		"name":       name,
		"created_at": "2026-01-02T03:04:05Z",
	}
}

func (f *fixture) createJob(t *testing.T, mode enums.RestoreMode, artifact []byte) *models.RestoreJob {
	t.Helper()
	job, err := f.svc.Create(context.Background(), CreateInput{
		Mode:      mode,
		Filename:  "backup.json",
		Body:      bytes.NewReader(artifact),
		CreatedBy: "admin",
	})
	require.NoError(t, err)
	return job
}

func (f *fixture) runToDone(t *testing.T, id uuid.UUID, opts RunOptions) *models.RestoreJob {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		res, err := f.svc.Run(ctx, id, opts)
		require.NoError(t, err)
		if !res.More {
			return &res.Job
		}
	}
	t.Fatal("restore did not finish within 20 slices")
	return nil
}

func TestCreateRejectsInvalidMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{
		Mode: enums.RestoreMode("truncate"),
		Body: bytes.NewReader([]byte("{}")),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestScanCountsRecognizedTables(t *testing.T) {
	f := newFixture(t)
	artifact := buildArtifact(t,
		[]string{"warehouses", "gadgets", "items"},
		map[string][]map[string]any{
			"warehouses": {warehouseRow(1, "main")},
			"gadgets":    {{"id": 1}, {"id": 2}},
			"items":      {itemRow(1, "SKU-1", "one"), itemRow(2, "SKU-2", "two"), itemRow(3, "SKU-3", "three")},
		})
	job := f.createJob(t, enums.RestoreModeMerge, artifact)

	res, err := f.svc.Run(context.Background(), job.ID, RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.More)
	assert.Equal(t, enums.RestoreStageRestore, res.Job.Stage)
	assert.Equal(t, int64(4), res.Job.TotalRows)
	assert.Equal(t, int64(0), res.Job.ProcessedRows)

	var state tableState
	require.NoError(t, json.Unmarshal([]byte(res.Job.TablesJSON), &state))
	assert.Equal(t, []string{"warehouses", "items"}, state.Order)
	assert.Equal(t, int64(3), state.Counts["items"])
}

func TestEmptyArtifactFinishesOnScan(t *testing.T) {
	f := newFixture(t)
	artifact := buildArtifact(t, nil, nil)
	job := f.createJob(t, enums.RestoreModeMerge, artifact)

	res, err := f.svc.Run(context.Background(), job.ID, RunOptions{})
	require.NoError(t, err)
	assert.False(t, res.More)
	assert.Equal(t, enums.RestoreStatusDone, res.Job.Status)
	assert.NotNil(t, res.Job.FinishedAt)
}

func TestMergeRestoreResumesAcrossSlices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows := make([]map[string]any, 0, 250)
	for i := int64(1); i <= 250; i++ {
		rows = append(rows, itemRow(i, fmt.Sprintf("SKU-%03d", i), fmt.Sprintf("item %d", i)))
	}
	artifact := buildArtifact(t, []string{"items"}, map[string][]map[string]any{"items": rows})
	job := f.createJob(t, enums.RestoreModeMerge, artifact)

	opts := RunOptions{MaxRows: 100}

	res, err := f.svc.Run(ctx, job.ID, opts)
	require.NoError(t, err)
	require.True(t, res.More) // scan only

	res, err = f.svc.Run(ctx, job.ID, opts)
	require.NoError(t, err)
	require.True(t, res.More)
	assert.Equal(t, int64(100), res.Job.ProcessedRows)

	res, err = f.svc.Run(ctx, job.ID, opts)
	require.NoError(t, err)
	require.True(t, res.More)
	assert.Equal(t, int64(200), res.Job.ProcessedRows)

	res, err = f.svc.Run(ctx, job.ID, opts)
	require.NoError(t, err)
	assert.False(t, res.More)
	assert.Equal(t, enums.RestoreStatusDone, res.Job.Status)
	assert.Equal(t, int64(250), res.Job.ProcessedRows)

	var count int64
	require.NoError(t, f.conn.Model(&models.Item{}).Count(&count).Error)
	assert.Equal(t, int64(250), count)
}

func TestMergeKeepsExistingRows(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.conn.Create(&models.Item{ID: 1, SKU: "SKU-1", Name: "original", Unit: "ea", Enabled: true}).Error)

	artifact := buildArtifact(t, []string{"items"}, map[string][]map[string]any{
		"items": {itemRow(1, "SKU-1", "from backup"), itemRow(2, "SKU-2", "new")},
	})
	job := f.createJob(t, enums.RestoreModeMerge, artifact)
	done := f.runToDone(t, job.ID, RunOptions{})
	assert.Equal(t, enums.RestoreStatusDone, done.Status)

	var kept models.Item
	require.NoError(t, f.conn.First(&kept, 1).Error)
	assert.Equal(t, "original", kept.Name)

	var added models.Item
	require.NoError(t, f.conn.First(&added, 2).Error)
	assert.Equal(t, "new", added.Name)
}

func TestMergeUpsertOverwritesByPrimaryKey(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.conn.Create(&models.Item{ID: 1, SKU: "SKU-1", Name: "original", Unit: "ea", Enabled: true}).Error)

	artifact := buildArtifact(t, []string{"items"}, map[string][]map[string]any{
		"items": {itemRow(1, "SKU-1", "from backup")},
	})
	job := f.createJob(t, enums.RestoreModeMergeUpsert, artifact)
	f.runToDone(t, job.ID, RunOptions{})

	var got models.Item
	require.NoError(t, f.conn.First(&got, 1).Error)
	assert.Equal(t, "from backup", got.Name)
}

func TestReplaceWipesExistingDataOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.conn.Create(&models.Warehouse{ID: 1, Name: "old"}).Error)
	require.NoError(t, f.conn.Create(&models.Item{ID: 1, SKU: "OLD-1", Name: "old", Unit: "ea", Enabled: true}).Error)
	require.NoError(t, f.conn.Create(&models.Stock{ItemID: 1, WarehouseID: 1, Qty: 5}).Error)

	artifact := buildArtifact(t, []string{"warehouses"}, map[string][]map[string]any{
		"warehouses": {warehouseRow(9, "restored")},
	})
	job := f.createJob(t, enums.RestoreModeReplace, artifact)
	done := f.runToDone(t, job.ID, RunOptions{})
	assert.True(t, done.ReplaceDone)

	var itemCount, stockCount int64
	require.NoError(t, f.conn.Model(&models.Item{}).Count(&itemCount).Error)
	require.NoError(t, f.conn.Model(&models.Stock{}).Count(&stockCount).Error)
	assert.Equal(t, int64(0), itemCount)
	assert.Equal(t, int64(0), stockCount)

	var warehouses []models.Warehouse
	require.NoError(t, f.conn.Find(&warehouses).Error)
	require.Len(t, warehouses, 1)
	assert.Equal(t, int64(9), warehouses[0].ID)
	assert.Equal(t, "restored", warehouses[0].Name)

	// the job table itself is never part of the wipe
	_, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
}

func TestReplaceWipeLosingRaceIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.conn.Create(&models.Warehouse{ID: 1, Name: "old"}).Error)

	artifact := buildArtifact(t, []string{"warehouses"}, map[string][]map[string]any{
		"warehouses": {warehouseRow(9, "restored")},
	})
	job := f.createJob(t, enums.RestoreModeReplace, artifact)

	engine := f.svc.(*service)
	require.NoError(t, engine.replaceDelete(ctx, job.ID))

	var count int64
	require.NoError(t, f.conn.Model(&models.Warehouse{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// a second slice that loaded the job before the first slice
	// committed sees replace_done unset and calls the wipe again; the
	// guard must roll its deletes back
	require.NoError(t, f.conn.Create(&models.Warehouse{ID: 2, Name: "survivor"}).Error)
	require.NoError(t, engine.replaceDelete(ctx, job.ID))

	var warehouses []models.Warehouse
	require.NoError(t, f.conn.Find(&warehouses).Error)
	require.Len(t, warehouses, 1)
	assert.Equal(t, "survivor", warehouses[0].Name)

	reloaded, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.ReplaceDone)
}

func TestCancelPausesAndJobResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows := make([]map[string]any, 0, 250)
	for i := int64(1); i <= 250; i++ {
		rows = append(rows, itemRow(i, fmt.Sprintf("SKU-%03d", i), fmt.Sprintf("item %d", i)))
	}
	artifact := buildArtifact(t, []string{"items"}, map[string][]map[string]any{"items": rows})
	job := f.createJob(t, enums.RestoreModeMerge, artifact)

	opts := RunOptions{MaxRows: 100}
	_, err := f.svc.Run(ctx, job.ID, opts) // scan
	require.NoError(t, err)
	_, err = f.svc.Run(ctx, job.ID, opts) // first 100 rows
	require.NoError(t, err)

	paused, err := f.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RestoreStatusPaused, paused.Status)
	assert.Equal(t, int64(100), paused.ProcessedRows)

	done := f.runToDone(t, job.ID, opts)
	assert.Equal(t, enums.RestoreStatusDone, done.Status)
	assert.Equal(t, int64(250), done.ProcessedRows)

	_, err = f.svc.Cancel(ctx, job.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestRunRejectsFinishedJob(t *testing.T) {
	f := newFixture(t)
	artifact := buildArtifact(t, nil, nil)
	job := f.createJob(t, enums.RestoreModeMerge, artifact)
	f.runToDone(t, job.ID, RunOptions{})

	_, err := f.svc.Run(context.Background(), job.ID, RunOptions{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestGzipArtifactRestores(t *testing.T) {
	f := newFixture(t)
	artifact := buildArtifact(t, []string{"items"}, map[string][]map[string]any{
		"items": {itemRow(1, "SKU-1", "compressed")},
	})
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(artifact)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	job := f.createJob(t, enums.RestoreModeMerge, buf.Bytes())
	done := f.runToDone(t, job.ID, RunOptions{})
	assert.Equal(t, enums.RestoreStatusDone, done.Status)

	var got models.Item
	require.NoError(t, f.conn.First(&got, 1).Error)
	assert.Equal(t, "compressed", got.Name)
}

func TestRunUnknownJobNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Run(context.Background(), uuid.New(), RunOptions{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
