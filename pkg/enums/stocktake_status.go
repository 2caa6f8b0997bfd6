package enums

import "fmt"

// StocktakeStatus drives the count-and-reconcile state machine.
//
// Legal transitions:
//
//	DRAFT   -> APPLYING -> APPLIED   (apply)
//	APPLIED -> ROLLING  -> DRAFT    (rollback)
//
// APPLYING and ROLLING are transient: an interrupted apply/rollback is
// resumed by re-invoking the same operation.
type StocktakeStatus string

const (
	StocktakeStatusDraft    StocktakeStatus = "DRAFT"
	StocktakeStatusApplying StocktakeStatus = "APPLYING"
	StocktakeStatusApplied  StocktakeStatus = "APPLIED"
	StocktakeStatusRolling  StocktakeStatus = "ROLLING"
)

var validStocktakeStatuses = []StocktakeStatus{
	StocktakeStatusDraft,
	StocktakeStatusApplying,
	StocktakeStatusApplied,
	StocktakeStatusRolling,
}

// String implements fmt.Stringer.
func (s StocktakeStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StocktakeStatus.
func (s StocktakeStatus) IsValid() bool {
	for _, candidate := range validStocktakeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStocktakeStatus converts raw input into a StocktakeStatus.
func ParseStocktakeStatus(value string) (StocktakeStatus, error) {
	for _, candidate := range validStocktakeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stocktake status %q", value)
}
