package ledger

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/stockloghq/stocklog-backend/pkg/enums"
)

// txNoPrefixes map each journal type to the short display prefix used in
// transaction numbers. The number itself is display-only; uniqueness is
// backed by the tx_no unique index plus regeneration on collision.
var txNoPrefixes = map[enums.TxType]string{
	enums.TxTypeIn:       "IN",
	enums.TxTypeOut:      "OUT",
	enums.TxTypeAdjust:   "ADJ",
	enums.TxTypeReversal: "RBK",
}

// NewTxNo builds a transaction number like OUT20260829-104417.
func NewTxNo(txType enums.TxType, now time.Time) string {
	prefix, ok := txNoPrefixes[txType]
	if !ok {
		prefix = "TX"
	}
	return fmt.Sprintf("%s%s-%06d", prefix, now.Format("20060102"), rand.IntN(1_000_000))
}

// NewStNo builds a stocktake number like ST20260829-104417.
func NewStNo(now time.Time) string {
	return fmt.Sprintf("ST%s-%06d", now.Format("20060102"), rand.IntN(1_000_000))
}
