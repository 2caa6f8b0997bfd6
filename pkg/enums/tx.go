package enums

import "fmt"

// TxType classifies a journal entry by the kind of movement it records.
type TxType string

const (
	TxTypeIn       TxType = "IN"
	TxTypeOut      TxType = "OUT"
	TxTypeAdjust   TxType = "ADJUST"
	TxTypeReversal TxType = "REVERSAL"
)

var validTxTypes = []TxType{
	TxTypeIn,
	TxTypeOut,
	TxTypeAdjust,
	TxTypeReversal,
}

// String implements fmt.Stringer.
func (t TxType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TxType.
func (t TxType) IsValid() bool {
	for _, candidate := range validTxTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTxType converts raw input into a TxType.
func ParseTxType(value string) (TxType, error) {
	for _, candidate := range validTxTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tx type %q", value)
}

// TxRefType names the business action a journal entry traces back to. It
// pairs with a reference id to support idempotency lookups and audit joins.
type TxRefType string

const (
	TxRefClientRequest     TxRefType = "CLIENT_REQUEST"
	TxRefBatchRequest      TxRefType = "BATCH_REQUEST"
	TxRefStocktakeApply    TxRefType = "STOCKTAKE_APPLY"
	TxRefStocktakeRollback TxRefType = "STOCKTAKE_ROLLBACK"
)

var validTxRefTypes = []TxRefType{
	TxRefClientRequest,
	TxRefBatchRequest,
	TxRefStocktakeApply,
	TxRefStocktakeRollback,
}

// String implements fmt.Stringer.
func (t TxRefType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TxRefType.
func (t TxRefType) IsValid() bool {
	for _, candidate := range validTxRefTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
