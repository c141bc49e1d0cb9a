package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classmark-api/internal/models"
)

// AttendanceRepository handles persistence for authoritative attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

type upsertRow struct {
	models.AttendanceRecord
	Inserted bool `db:"inserted"`
}

// Upsert inserts or updates the record for (class, student, date) and reports
// whether a new row was created. On insert created_at keeps the value provided
// by the caller; on conflict status and notes are overwritten unconditionally.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.UpdatedAt = time.Now().UTC()
	query := `INSERT INTO attendance_records (id, class_id, student_id, date, status, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (class_id, student_id, date)
DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
RETURNING id, class_id, student_id, date, status, notes, created_at, updated_at, (xmax = 0) AS inserted`
	var stored upsertRow
	if err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.ClassID, record.StudentID, record.Date,
		record.Status, record.Notes, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, false, fmt.Errorf("upsert attendance record: %w", err)
	}
	return &stored.AttendanceRecord, stored.Inserted, nil
}

// Find returns the record for a key, or sql.ErrNoRows.
func (r *AttendanceRepository) Find(ctx context.Context, classID, studentID string, date time.Time) (*models.AttendanceRecord, error) {
	query := `SELECT id, class_id, student_id, date, status, notes, created_at, updated_at
FROM attendance_records
WHERE class_id = $1 AND student_id = $2 AND date = $3`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, classID, studentID, date); err != nil {
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	return &record, nil
}

// StatusMap lists authoritative entries for a class on a date.
func (r *AttendanceRepository) StatusMap(ctx context.Context, classID string, date time.Time) ([]models.StatusMapRow, error) {
	query := `SELECT id, student_id, status, notes
FROM attendance_records
WHERE class_id = $1 AND date = $2`
	var rows []models.StatusMapRow
	if err := r.db.SelectContext(ctx, &rows, query, classID, date); err != nil {
		return nil, fmt.Errorf("status map: %w", err)
	}
	return rows, nil
}

// DayReport joins the class roster with the day's records so unmarked
// students still appear on the sheet.
func (r *AttendanceRepository) DayReport(ctx context.Context, classID string, date time.Time) ([]models.DayReportRow, error) {
	query := `SELECT m.student_id, s.full_name AS student_name,
COALESCE(ar.status, '') AS status, ar.notes
FROM class_members m
JOIN students s ON s.id = m.student_id
LEFT JOIN attendance_records ar
  ON ar.class_id = m.class_id AND ar.student_id = m.student_id AND ar.date = $2
WHERE m.class_id = $1
ORDER BY s.full_name`
	var rows []models.DayReportRow
	if err := r.db.SelectContext(ctx, &rows, query, classID, date); err != nil {
		return nil, fmt.Errorf("day report: %w", err)
	}
	return rows, nil
}
