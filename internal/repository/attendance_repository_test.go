package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classmark-api/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestUpsertCreatesRecord(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	createdAt := time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO attendance_records`).
		WithArgs(sqlmock.AnyArg(), "c1", "s1", date, models.AttendanceStatusPresent, nil, createdAt, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "class_id", "student_id", "date", "status", "notes", "created_at", "updated_at", "inserted"}).
			AddRow("rec-1", "c1", "s1", date, "PRESENT", nil, createdAt, createdAt, true))

	stored, created, err := repo.Upsert(context.Background(), &models.AttendanceRecord{
		ClassID:   "c1",
		StudentID: "s1",
		Date:      date,
		Status:    models.AttendanceStatusPresent,
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "rec-1", stored.ID)
	assert.Equal(t, createdAt, stored.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOverwritesExisting(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	originalCreatedAt := time.Date(2024, 2, 28, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO attendance_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "class_id", "student_id", "date", "status", "notes", "created_at", "updated_at", "inserted"}).
			AddRow("rec-1", "c1", "s1", date, "ABSENT", nil, originalCreatedAt, time.Now().UTC(), false))

	stored, created, err := repo.Upsert(context.Background(), &models.AttendanceRecord{
		ClassID:   "c1",
		StudentID: "s1",
		Date:      date,
		Status:    models.AttendanceStatusAbsent,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "rec-1", stored.ID)
	assert.Equal(t, models.AttendanceStatusAbsent, stored.Status)
	// The conflict path keeps the original creation time.
	assert.Equal(t, originalCreatedAt, stored.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusMap(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	notes := "late bus"

	mock.ExpectQuery(`SELECT id, student_id, status, notes\s+FROM attendance_records`).
		WithArgs("c1", date).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "status", "notes"}).
			AddRow("rec-1", "s1", "PRESENT", nil).
			AddRow("rec-2", "s2", "LATE", notes))

	rows, err := repo.StatusMap(context.Background(), "c1", date)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s1", rows[0].StudentID)
	assert.Equal(t, models.AttendanceStatusPresent, rows[0].Status)
	require.NotNil(t, rows[1].Notes)
	assert.Equal(t, notes, *rows[1].Notes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDayReportIncludesUnmarkedStudents(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT m\.student_id, s\.full_name AS student_name,\s+COALESCE\(ar\.status, ''\) AS status, ar\.notes\s+FROM class_members m\s+JOIN students s ON s\.id = m\.student_id\s+LEFT JOIN attendance_records ar`).
		WithArgs("c1", date).
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "student_name", "status", "notes"}).
			AddRow("s1", "Anisa Putri", "PRESENT", nil).
			AddRow("s2", "Budi Santoso", "", nil))

	rows, err := repo.DayReport(context.Background(), "c1", date)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.AttendanceStatusPresent, rows[0].Status)
	assert.Empty(t, rows[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
