package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classmark-api/internal/dto"
	"github.com/noah-isme/classmark-api/internal/models"
)

func TestEffectivePendingWinsOverAuthoritative(t *testing.T) {
	pending := &PendingMark{
		Key:    testKey("s1"),
		Status: models.AttendanceStatusLate,
		State:  StateQueued,
	}
	authoritative := &dto.StatusEntry{Status: "PRESENT", RecordID: "rec-1"}

	entry := Effective(pending, authoritative)
	require.NotNil(t, entry)
	assert.Equal(t, "LATE", entry.Status)
	assert.Equal(t, DisplayPendingOffline, entry.State)
}

func TestEffectiveFailedMarkShowsRetryState(t *testing.T) {
	pending := &PendingMark{
		Key:    testKey("s1"),
		Status: models.AttendanceStatusAbsent,
		State:  StateFailed,
	}

	entry := Effective(pending, nil)
	require.NotNil(t, entry)
	assert.Equal(t, DisplayFailedWillRetry, entry.State)
}

func TestEffectiveAuthoritativeOnly(t *testing.T) {
	notes := "doctor's appointment"
	authoritative := &dto.StatusEntry{Status: "EXCUSED", RecordID: "rec-2", Notes: &notes}

	entry := Effective(nil, authoritative)
	require.NotNil(t, entry)
	assert.Equal(t, "EXCUSED", entry.Status)
	assert.Equal(t, DisplayConfirmed, entry.State)
	require.NotNil(t, entry.Notes)
	assert.Equal(t, notes, *entry.Notes)
}

func TestEffectiveNothingKnown(t *testing.T) {
	assert.Nil(t, Effective(nil, nil))
}
