package restore

import (
	"fmt"
	"strings"

	"github.com/stockloghq/stocklog-backend/pkg/enums"
)

// tableSpec describes one recognized backup table: its full column list for
// row projection and its primary key for conflict targeting. Backup rows
// are projected onto columns; fields the table does not know are dropped
// and columns the row does not carry become null.
type tableSpec struct {
	name    string
	columns []string
	pks     []string
}

// registry lists every recognized table. Unrecognized tables in an
// artifact are skipped, not errors.
var registry = []tableSpec{
	{
		name:    "warehouses",
		columns: []string{"id", "name", "remark", "created_at"},
		pks:     []string{"id"},
	},
	{
		name: "items",
		columns: []string{
			"id", "sku", "name", "brand", "model", "category",
			"unit", "warning_qty", "enabled", "created_at", "updated_at",
		},
		pks: []string{"id"},
	},
	{
		name:    "stock",
		columns: []string{"item_id", "warehouse_id", "qty", "updated_at"},
		pks:     []string{"item_id", "warehouse_id"},
	},
	{
		name: "stock_tx",
		columns: []string{
			"id", "tx_no", "type", "item_id", "warehouse_id", "qty",
			"delta_qty", "unit_price", "source", "target", "ref_type",
			"ref_id", "ref_no", "idempotency_key", "remark", "created_by",
			"created_at",
		},
		pks: []string{"id"},
	},
	{
		name:    "stocktakes",
		columns: []string{"id", "st_no", "warehouse_id", "status", "created_by", "created_at", "applied_at"},
		pks:     []string{"id"},
	},
	{
		name:    "stocktake_lines",
		columns: []string{"id", "stocktake_id", "item_id", "system_qty", "counted_qty", "diff_qty", "updated_at"},
		pks:     []string{"id"},
	},
	{
		name:    "audit_logs",
		columns: []string{"id", "actor", "role", "action", "entity", "entity_id", "detail", "ip", "created_at"},
		pks:     []string{"id"},
	},
}

// deleteOrder is the child-first order used by the replace policy's
// one-time destructive delete.
var deleteOrder = []string{
	"stock_tx",
	"stocktake_lines",
	"stocktakes",
	"stock",
	"audit_logs",
	"items",
	"warehouses",
}

var specByName = func() map[string]tableSpec {
	byName := make(map[string]tableSpec, len(registry))
	for _, spec := range registry {
		byName[spec.name] = spec
	}
	return byName
}()

func specFor(name string) (tableSpec, bool) {
	spec, ok := specByName[name]
	return spec, ok
}

// insertSQL builds the replay statement for one table under one policy.
// merge and replace insert-if-absent (any conflict is ignored, which also
// makes replayed slices safe); merge_upsert overwrites by primary key.
func insertSQL(spec tableSpec, mode enums.RestoreMode) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(spec.columns)), ", ")
	base := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		spec.name,
		strings.Join(spec.columns, ", "),
		placeholders,
	)

	if mode != enums.RestoreModeMergeUpsert {
		return base + " ON CONFLICT DO NOTHING"
	}

	var sets []string
	pk := make(map[string]bool, len(spec.pks))
	for _, col := range spec.pks {
		pk[col] = true
	}
	for _, col := range spec.columns {
		if pk[col] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	if len(sets) == 0 {
		return base + " ON CONFLICT DO NOTHING"
	}
	return fmt.Sprintf(
		"%s ON CONFLICT (%s) DO UPDATE SET %s",
		base,
		strings.Join(spec.pks, ", "),
		strings.Join(sets, ", "),
	)
}

// projectRow maps a backup row onto the table's column order. Unknown
// fields are dropped; missing columns become null. JSON numbers come back
// from the scanner as json.Number and are narrowed here so the SQL driver
// receives native types.
func projectRow(spec tableSpec, row map[string]any) []any {
	values := make([]any, len(spec.columns))
	for n, col := range spec.columns {
		values[n] = normalizeValue(row[col])
	}
	return values
}
