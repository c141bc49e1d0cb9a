package offline

import "github.com/noah-isme/classmark-api/internal/dto"

// DisplayState is what the UI shows for one student's mark.
type DisplayState string

const (
	DisplayConfirmed       DisplayState = "CONFIRMED"
	DisplayPendingOffline  DisplayState = "PENDING_OFFLINE"
	DisplayFailedWillRetry DisplayState = "FAILED_WILL_RETRY"
)

// EffectiveEntry is the merged local-over-authoritative view of one mark.
type EffectiveEntry struct {
	Status string
	Notes  *string
	State  DisplayState
}

// Effective merges a pending mark with the authoritative entry for the same
// key: the local intent always wins while it exists. Returns nil when
// neither side has a value.
func Effective(pending *PendingMark, authoritative *dto.StatusEntry) *EffectiveEntry {
	if pending != nil {
		state := DisplayPendingOffline
		if pending.State == StateFailed {
			state = DisplayFailedWillRetry
		}
		return &EffectiveEntry{Status: string(pending.Status), Notes: pending.Notes, State: state}
	}
	if authoritative != nil {
		return &EffectiveEntry{Status: authoritative.Status, Notes: authoritative.Notes, State: DisplayConfirmed}
	}
	return nil
}
