package models

import "fmt"

// UnitStatus is the state of one (variable, timestep) unit. It is derived
// from file existence once at the stage boundary and then advanced by the
// stage itself.
type UnitStatus int

const (
	StatusPending UnitStatus = iota
	StatusFetched
	StatusTransformed
	StatusSkippedEmpty
	StatusSkippedFiltered
	StatusConflict
	StatusDisabled
)

// AllStatuses lists every status in declaration order
var AllStatuses = []UnitStatus{
	StatusPending,
	StatusFetched,
	StatusTransformed,
	StatusSkippedEmpty,
	StatusSkippedFiltered,
	StatusConflict,
	StatusDisabled,
}

// String returns the label used in logs, metrics and reports
func (s UnitStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFetched:
		return "fetched"
	case StatusTransformed:
		return "transformed"
	case StatusSkippedEmpty:
		return "skipped_empty"
	case StatusSkippedFiltered:
		return "skipped_filtered"
	case StatusConflict:
		return "conflict"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MarshalText lets statuses be used as JSON map keys
func (s UnitStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText
func (s *UnitStatus) UnmarshalText(text []byte) error {
	for _, status := range AllStatuses {
		if status.String() == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown unit status %q", text)
}

// StatusFromFiles maps the existence matrix onto a status.
//
//	ancillary  destination  status
//	no         no           Pending
//	yes        no           Fetched
//	no         yes          Transformed
//	yes        yes          Conflict
func StatusFromFiles(ancillaryExists, destinationExists bool) UnitStatus {
	switch {
	case !ancillaryExists && !destinationExists:
		return StatusPending
	case ancillaryExists && !destinationExists:
		return StatusFetched
	case !ancillaryExists && destinationExists:
		return StatusTransformed
	default:
		return StatusConflict
	}
}

// RunFlags are the per-run switches, fixed for the whole run
type RunFlags struct {
	UpdateAncillary   bool
	UpdateDestination bool
	CleanAncillary    bool
}
