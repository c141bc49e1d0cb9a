// Package offline implements the device-side half of attendance sync: a
// durable queue of not-yet-confirmed marks, a connectivity monitor, and a
// coordinator that drains the queue through the batch reconciliation
// endpoint when the device is online.
package offline

import (
	"fmt"
	"time"

	"github.com/noah-isme/classmark-api/internal/models"
)

// SyncState tracks a pending mark through its local lifecycle.
type SyncState string

const (
	StateQueued  SyncState = "QUEUED"
	StateSyncing SyncState = "SYNCING"
	StateFailed  SyncState = "FAILED"
)

// Key identifies an attendance mark. At most one pending mark exists per key;
// a later tap overwrites the earlier one.
type Key struct {
	ClassID   string
	StudentID string
	Date      string
}

// String renders the persisted key form.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.ClassID, k.StudentID, k.Date)
}

// PendingMark is a locally queued, not-yet-confirmed attendance intent.
type PendingMark struct {
	Key            Key
	Status         models.AttendanceStatus
	Notes          *string
	LocalTimestamp time.Time
	State          SyncState
}
