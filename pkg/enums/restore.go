package enums

import "fmt"

// RestoreStatus is the lifecycle of a restore job.
type RestoreStatus string

const (
	RestoreStatusQueued   RestoreStatus = "QUEUED"
	RestoreStatusRunning  RestoreStatus = "RUNNING"
	RestoreStatusPaused   RestoreStatus = "PAUSED"
	RestoreStatusDone     RestoreStatus = "DONE"
	RestoreStatusFailed   RestoreStatus = "FAILED"
	RestoreStatusCanceled RestoreStatus = "CANCELED"
)

var validRestoreStatuses = []RestoreStatus{
	RestoreStatusQueued,
	RestoreStatusRunning,
	RestoreStatusPaused,
	RestoreStatusDone,
	RestoreStatusFailed,
	RestoreStatusCanceled,
}

// String implements fmt.Stringer.
func (s RestoreStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known RestoreStatus.
func (s RestoreStatus) IsValid() bool {
	for _, candidate := range validRestoreStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further slices may run for this status.
func (s RestoreStatus) Terminal() bool {
	return s == RestoreStatusDone || s == RestoreStatusFailed || s == RestoreStatusCanceled
}

// RestoreStage splits a running job into a dry counting pass and the
// mutating replay pass. Only meaningful while the job is RUNNING.
type RestoreStage string

const (
	RestoreStageScan    RestoreStage = "SCAN"
	RestoreStageRestore RestoreStage = "RESTORE"
)

// String implements fmt.Stringer.
func (s RestoreStage) String() string {
	return string(s)
}

// IsValid reports whether the value is a known RestoreStage.
func (s RestoreStage) IsValid() bool {
	return s == RestoreStageScan || s == RestoreStageRestore
}

// RestoreMode is the merge policy applied while replaying backup rows.
type RestoreMode string

const (
	// RestoreModeMerge inserts rows that do not exist yet.
	RestoreModeMerge RestoreMode = "merge"
	// RestoreModeMergeUpsert inserts or overwrites by primary key.
	RestoreModeMergeUpsert RestoreMode = "merge_upsert"
	// RestoreModeReplace deletes all recognized tables once, then inserts.
	RestoreModeReplace RestoreMode = "replace"
)

var validRestoreModes = []RestoreMode{
	RestoreModeMerge,
	RestoreModeMergeUpsert,
	RestoreModeReplace,
}

// String implements fmt.Stringer.
func (m RestoreMode) String() string {
	return string(m)
}

// IsValid reports whether the value is a known RestoreMode.
func (m RestoreMode) IsValid() bool {
	for _, candidate := range validRestoreModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseRestoreMode converts raw input into a RestoreMode.
func ParseRestoreMode(value string) (RestoreMode, error) {
	for _, candidate := range validRestoreModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid restore mode %q", value)
}
