package backup

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
)

// Version identifies the backup artifact format.
const Version = "stocklog-backup-v1"

// txBatchSize bounds how many journal rows are held in memory while
// streaming.
const txBatchSize = 500

// Options select which table groups go into the artifact.
type Options struct {
	IncludeTx         bool
	IncludeStocktakes bool
	IncludeAudit      bool
	Gzip              bool
}

// Service streams backup artifacts. The artifact is a single JSON document
// of the shape {version, exported_at, tables:{name:[rows]}} with tables
// emitted parent-first so a restore can insert in stream order.
type Service interface {
	Export(ctx context.Context, opts Options, w io.Writer) error
}

type service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs a backup service instance.
func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection required")
	}
	return &service{db: db, now: time.Now}, nil
}

func (s *service) Export(ctx context.Context, opts Options, w io.Writer) error {
	var out io.Writer = w
	var gz *gzip.Writer
	if opts.Gzip {
		gz = gzip.NewWriter(w)
		out = gz
	}
	bw := bufio.NewWriter(out)

	header := fmt.Sprintf(`{"version":%q,"exported_at":%q,"tables":{`, Version, s.now().UTC().Format(time.RFC3339))
	if _, err := bw.WriteString(header); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing backup header")
	}

	tables := []struct {
		name    string
		include bool
		write   func(context.Context, *bufio.Writer) error
	}{
		{"warehouses", true, func(ctx context.Context, bw *bufio.Writer) error {
			return writeAllRows[models.Warehouse](ctx, s.db, bw)
		}},
		{"items", true, func(ctx context.Context, bw *bufio.Writer) error {
			return writeAllRows[models.Item](ctx, s.db, bw)
		}},
		{"stock", true, func(ctx context.Context, bw *bufio.Writer) error {
			return writeAllRows[models.Stock](ctx, s.db, bw)
		}},
		{"stock_tx", opts.IncludeTx, func(ctx context.Context, bw *bufio.Writer) error {
			return writeBatchedRows[models.StockTx](ctx, s.db, bw)
		}},
		{"stocktakes", opts.IncludeStocktakes, func(ctx context.Context, bw *bufio.Writer) error {
			return writeAllRows[models.Stocktake](ctx, s.db, bw)
		}},
		{"stocktake_lines", opts.IncludeStocktakes, func(ctx context.Context, bw *bufio.Writer) error {
			return writeAllRows[models.StocktakeLine](ctx, s.db, bw)
		}},
		{"audit_logs", opts.IncludeAudit, func(ctx context.Context, bw *bufio.Writer) error {
			return writeBatchedRows[models.AuditLog](ctx, s.db, bw)
		}},
	}

	firstTable := true
	for _, table := range tables {
		if !table.include {
			continue
		}
		if !firstTable {
			if err := bw.WriteByte(','); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing backup body")
			}
		}
		firstTable = false
		if _, err := fmt.Fprintf(bw, "%q:[", table.name); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing backup body")
		}
		if err := table.write(ctx, bw); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "exporting "+table.name)
		}
		if err := bw.WriteByte(']'); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing backup body")
		}
	}

	if _, err := bw.WriteString("}}"); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing backup trailer")
	}
	if err := bw.Flush(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "flushing backup")
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing gzip stream")
		}
	}
	return nil
}

// writeAllRows streams a small table in one query.
func writeAllRows[T any](ctx context.Context, db *gorm.DB, bw *bufio.Writer) error {
	var rows []T
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return err
	}
	return writeRows(bw, rows, true)
}

// writeBatchedRows streams a large table in primary-key batches.
func writeBatchedRows[T any](ctx context.Context, db *gorm.DB, bw *bufio.Writer) error {
	first := true
	var rows []T
	res := db.WithContext(ctx).FindInBatches(&rows, txBatchSize, func(tx *gorm.DB, batch int) error {
		if err := writeRows(bw, rows, first); err != nil {
			return err
		}
		if len(rows) > 0 {
			first = false
		}
		return nil
	})
	return res.Error
}

func writeRows[T any](bw *bufio.Writer, rows []T, first bool) error {
	for n := range rows {
		data, err := json.Marshal(rows[n])
		if err != nil {
			return err
		}
		if !first || n > 0 {
			if err := bw.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
	}
	return nil
}
