package dto

import "time"

// ReconcileItem is one queued mark submitted for reconciliation.
type ReconcileItem struct {
	ClassID        string    `json:"class_id" validate:"required"`
	StudentID      string    `json:"student_id" validate:"required"`
	Date           string    `json:"date" validate:"required"`
	Status         string    `json:"status" validate:"required,attendance_status"`
	Notes          *string   `json:"notes,omitempty"`
	LocalTimestamp time.Time `json:"local_timestamp" validate:"required"`
}

// ReconcileBatchRequest carries a snapshot of a device's pending queue.
// The actor is taken from the authenticated request, not the payload.
type ReconcileBatchRequest struct {
	Items []ReconcileItem `json:"items" validate:"required,min=1,dive"`
}

// ReconcileItemResult reports one item's outcome. Exactly one of the two
// variants is populated: RecordID on success, Error (a machine code from the
// reconciliation taxonomy) on failure.
type ReconcileItemResult struct {
	StudentID string `json:"student_id"`
	Success   bool   `json:"success"`
	RecordID  string `json:"record_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ReconcileBatchResponse preserves per-item correspondence with the request
// order and summarises counts for user-facing reporting.
type ReconcileBatchResponse struct {
	SyncedCount int                   `json:"synced_count"`
	FailedCount int                   `json:"failed_count"`
	Results     []ReconcileItemResult `json:"results"`
}

// MarkRequest is the immediate-path single mark payload.
type MarkRequest struct {
	ClassID   string  `json:"class_id" validate:"required"`
	StudentID string  `json:"student_id" validate:"required"`
	Date      string  `json:"date" validate:"required"`
	Status    string  `json:"status" validate:"required,attendance_status"`
	Notes     *string `json:"notes,omitempty"`
}

// MarkResponse reports the stored record and whether it was newly created.
type MarkResponse struct {
	RecordID string `json:"record_id"`
	Created  bool   `json:"created"`
}

// StatusEntry is the authoritative state for one student on the status map.
type StatusEntry struct {
	Status   string  `json:"status"`
	RecordID string  `json:"record_id"`
	Notes    *string `json:"notes,omitempty"`
}

// StatusMapResponse maps student IDs to their authoritative entry for a
// (class, date) pair. Students without a record are absent from the map.
type StatusMapResponse struct {
	ClassID  string                 `json:"class_id"`
	Date     string                 `json:"date"`
	Statuses map[string]StatusEntry `json:"statuses"`
}
