package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classmark-api/internal/dto"
	"github.com/noah-isme/classmark-api/internal/models"
	appErrors "github.com/noah-isme/classmark-api/pkg/errors"
)

type mockAttendanceRepo struct {
	records map[string]models.AttendanceRecord
	nextID  int
	// panicOn triggers a panic when upserting this student, to exercise
	// the per-item fault containment.
	panicOn string
}

func recordKey(classID, studentID string, date time.Time) string {
	return fmt.Sprintf("%s|%s|%s", classID, studentID, date.Format("2006-01-02"))
}

func (m *mockAttendanceRepo) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error) {
	if record.StudentID == m.panicOn {
		panic("storage corrupted")
	}
	if m.records == nil {
		m.records = make(map[string]models.AttendanceRecord)
	}
	key := recordKey(record.ClassID, record.StudentID, record.Date)
	if existing, ok := m.records[key]; ok {
		existing.Status = record.Status
		existing.Notes = record.Notes
		existing.UpdatedAt = time.Now().UTC()
		m.records[key] = existing
		return &existing, false, nil
	}
	m.nextID++
	stored := *record
	stored.ID = fmt.Sprintf("rec-%d", m.nextID)
	m.records[key] = stored
	return &stored, true, nil
}

func (m *mockAttendanceRepo) StatusMap(ctx context.Context, classID string, date time.Time) ([]models.StatusMapRow, error) {
	var rows []models.StatusMapRow
	for _, record := range m.records {
		if record.ClassID == classID && record.Date.Equal(date) {
			rows = append(rows, models.StatusMapRow{
				StudentID: record.StudentID,
				RecordID:  record.ID,
				Status:    record.Status,
				Notes:     record.Notes,
			})
		}
	}
	return rows, nil
}

type mockClassRepo struct {
	classes map[string]models.Class
	members map[string]models.ClassMember
}

func (m *mockClassRepo) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if class, ok := m.classes[id]; ok {
		return &class, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockClassRepo) FindMember(ctx context.Context, classID, studentID string) (*models.ClassMember, error) {
	if member, ok := m.members[classID+"|"+studentID]; ok {
		return &member, nil
	}
	return nil, sql.ErrNoRows
}

func newTestFixture() (*ReconcileService, *mockAttendanceRepo, *mockClassRepo) {
	attendance := &mockAttendanceRepo{}
	classes := &mockClassRepo{
		classes: map[string]models.Class{
			"c1": {ID: "c1", Name: "10-A", TeacherID: "t1"},
		},
		members: map[string]models.ClassMember{
			"c1|s1": {ClassID: "c1", StudentID: "s1", FullName: "Student One"},
			"c1|s2": {ClassID: "c1", StudentID: "s2", FullName: "Student Two"},
			"c1|b1": {ClassID: "c1", StudentID: "b1", FullName: "Beadle One", IsBeadle: true},
		},
	}
	svc := NewReconcileService(attendance, classes, nil, nil, validator.New(), zap.NewNop(), ReconcileConfig{MaxBatchSize: 100, StatusMapCacheTTL: time.Minute})
	return svc, attendance, classes
}

func item(classID, studentID, date, status string) dto.ReconcileItem {
	return dto.ReconcileItem{
		ClassID:        classID,
		StudentID:      studentID,
		Date:           date,
		Status:         status,
		LocalTimestamp: time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC),
	}
}

func TestReconcileBatchAppliesMarks(t *testing.T) {
	svc, attendance, _ := newTestFixture()

	resp, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "PRESENT"),
		item("c1", "s2", "2024-03-01", "LATE"),
	}}, "t1")
	require.NoError(t, err)

	assert.Equal(t, 2, resp.SyncedCount)
	assert.Equal(t, 0, resp.FailedCount)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Success)
	assert.NotEmpty(t, resp.Results[0].RecordID)
	assert.Len(t, attendance.records, 2)
}

func TestReconcileBatchCreatedAtFromLocalTimestamp(t *testing.T) {
	svc, attendance, _ := newTestFixture()

	mark := item("c1", "s1", "2024-03-01", "PRESENT")
	_, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{mark}}, "t1")
	require.NoError(t, err)

	date, _ := time.Parse("2006-01-02", "2024-03-01")
	stored := attendance.records[recordKey("c1", "s1", date)]
	assert.Equal(t, mark.LocalTimestamp, stored.CreatedAt)
}

func TestReconcileBatchRejectsOversizedBatch(t *testing.T) {
	svc, _, _ := newTestFixture()

	items := make([]dto.ReconcileItem, 101)
	for i := range items {
		items[i] = item("c1", fmt.Sprintf("s%d", i), "2024-03-01", "PRESENT")
	}
	_, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: items}, "t1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReconcileBatchPermissionDenied(t *testing.T) {
	svc, attendance, _ := newTestFixture()

	// Random non-member actor: every item fails, nothing is stored.
	resp, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "PRESENT"),
	}}, "stranger")
	require.NoError(t, err)

	assert.Equal(t, 0, resp.SyncedCount)
	assert.Equal(t, 1, resp.FailedCount)
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].Success)
	assert.Equal(t, "s1", resp.Results[0].StudentID)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, resp.Results[0].Error)
	assert.Empty(t, attendance.records)

	statusMap, _, err := svc.GetStatusMap(context.Background(), "c1", "2024-03-01")
	require.NoError(t, err)
	assert.NotContains(t, statusMap.Statuses, "s1")
}

func TestReconcileBatchBeadleAuthorized(t *testing.T) {
	svc, _, _ := newTestFixture()

	resp, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "ABSENT"),
	}}, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SyncedCount)
}

func TestReconcileBatchNonBeadleMemberDenied(t *testing.T) {
	svc, _, _ := newTestFixture()

	resp, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "ABSENT"),
	}}, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.FailedCount)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, resp.Results[0].Error)
}

func TestReconcileBatchClassNotFound(t *testing.T) {
	svc, _, _ := newTestFixture()

	resp, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("missing", "s1", "2024-03-01", "PRESENT"),
	}}, "t1")
	require.NoError(t, err)
	assert.Equal(t, appErrors.ErrClassNotFound.Code, resp.Results[0].Error)
}

func TestReconcileBatchPartialFailureIsolation(t *testing.T) {
	svc, attendance, _ := newTestFixture()

	// Item for a missing class fails; siblings still succeed.
	resp, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "PRESENT"),
		item("missing", "s2", "2024-03-01", "PRESENT"),
		item("c1", "s2", "2024-03-01", "EXCUSED"),
	}}, "t1")
	require.NoError(t, err)

	assert.Equal(t, 2, resp.SyncedCount)
	assert.Equal(t, 1, resp.FailedCount)
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)
	assert.True(t, resp.Results[2].Success)
	assert.Len(t, attendance.records, 2)
}

func TestReconcileBatchItemFaultContained(t *testing.T) {
	svc, attendance, _ := newTestFixture()
	attendance.panicOn = "s1"

	resp, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "PRESENT"),
		item("c1", "s2", "2024-03-01", "PRESENT"),
	}}, "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, resp.SyncedCount)
	assert.Equal(t, 1, resp.FailedCount)
	assert.Equal(t, appErrors.ErrItemFault.Code, resp.Results[0].Error)
	assert.True(t, resp.Results[1].Success)
}

func TestReconcileBatchIdempotentResubmission(t *testing.T) {
	svc, attendance, _ := newTestFixture()

	req := dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "PRESENT"),
	}}
	_, err := svc.ReconcileBatch(context.Background(), req, "t1")
	require.NoError(t, err)

	date, _ := time.Parse("2006-01-02", "2024-03-01")
	first := attendance.records[recordKey("c1", "s1", date)]

	resp, err := svc.ReconcileBatch(context.Background(), req, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SyncedCount)

	second := attendance.records[recordKey("c1", "s1", date)]
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Len(t, attendance.records, 1)
}

func TestReconcileLastApplyWins(t *testing.T) {
	// Two devices submit conflicting marks for the same key; whichever
	// batch arrives last overwrites, with no merge or recency comparison.
	svc, _, _ := newTestFixture()

	_, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "PRESENT"),
	}}, "t1")
	require.NoError(t, err)

	_, err = svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "ABSENT"),
	}}, "b1")
	require.NoError(t, err)

	statusMap, _, err := svc.GetStatusMap(context.Background(), "c1", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, string(models.AttendanceStatusAbsent), statusMap.Statuses["s1"].Status)
}

func TestReconcileBatchSkipsEnrollmentCheck(t *testing.T) {
	// The batch path does not verify the target student's membership;
	// only the single-mark path does.
	svc, _, _ := newTestFixture()

	resp, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "not-enrolled", "2024-03-01", "PRESENT"),
	}}, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SyncedCount)
}

func TestMarkSingleRequiresEnrollment(t *testing.T) {
	svc, _, _ := newTestFixture()

	_, err := svc.MarkSingle(context.Background(), dto.MarkRequest{
		ClassID:   "c1",
		StudentID: "not-enrolled",
		Date:      "2024-03-01",
		Status:    "PRESENT",
	}, "t1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStudentNotEnrolled.Code, appErrors.FromError(err).Code)
}

func TestMarkSingleCreatesAndUpdates(t *testing.T) {
	svc, _, _ := newTestFixture()

	created, err := svc.MarkSingle(context.Background(), dto.MarkRequest{
		ClassID:   "c1",
		StudentID: "s1",
		Date:      "2024-03-01",
		Status:    "PRESENT",
	}, "t1")
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.NotEmpty(t, created.RecordID)

	updated, err := svc.MarkSingle(context.Background(), dto.MarkRequest{
		ClassID:   "c1",
		StudentID: "s1",
		Date:      "2024-03-01",
		Status:    "LATE",
	}, "t1")
	require.NoError(t, err)
	assert.False(t, updated.Created)
	assert.Equal(t, created.RecordID, updated.RecordID)
}

func TestGetStatusMapValidation(t *testing.T) {
	svc, _, _ := newTestFixture()

	_, _, err := svc.GetStatusMap(context.Background(), "", "2024-03-01")
	require.Error(t, err)

	_, _, err = svc.GetStatusMap(context.Background(), "c1", "01-03-2024")
	require.Error(t, err)
}

type fakeStatusCache struct {
	values map[string][]byte
	sets   int
	hits   int
}

func (f *fakeStatusCache) GetJSON(ctx context.Context, key string, target interface{}) (bool, error) {
	raw, ok := f.values[key]
	if !ok {
		return false, nil
	}
	f.hits++
	return true, json.Unmarshal(raw, target)
}

func (f *fakeStatusCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if f.values == nil {
		f.values = make(map[string][]byte)
	}
	f.values[key] = raw
	f.sets++
	return nil
}

func (f *fakeStatusCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func TestGetStatusMapUsesCache(t *testing.T) {
	attendance := &mockAttendanceRepo{}
	classes := &mockClassRepo{
		classes: map[string]models.Class{"c1": {ID: "c1", TeacherID: "t1"}},
		members: map[string]models.ClassMember{"c1|s1": {ClassID: "c1", StudentID: "s1"}},
	}
	cache := &fakeStatusCache{}
	svc := NewReconcileService(attendance, classes, cache, nil, validator.New(), zap.NewNop(), ReconcileConfig{StatusMapCacheTTL: time.Minute})

	_, err := svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "PRESENT"),
	}}, "t1")
	require.NoError(t, err)

	_, hit, err := svc.GetStatusMap(context.Background(), "c1", "2024-03-01")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, cache.sets)

	_, hit, err = svc.GetStatusMap(context.Background(), "c1", "2024-03-01")
	require.NoError(t, err)
	assert.True(t, hit)

	// A new write for the same (class, date) invalidates the cached map.
	_, err = svc.ReconcileBatch(context.Background(), dto.ReconcileBatchRequest{Items: []dto.ReconcileItem{
		item("c1", "s1", "2024-03-01", "ABSENT"),
	}}, "t1")
	require.NoError(t, err)

	statusMap, hit, err := svc.GetStatusMap(context.Background(), "c1", "2024-03-01")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, string(models.AttendanceStatusAbsent), statusMap.Statuses["s1"].Status)
}
