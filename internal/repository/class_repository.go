package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classmark-api/internal/models"
)

// ClassRepository reads classes and their memberships. Roster management is
// owned elsewhere; the sync subsystem only consults these facts.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// FindByID returns a class or sql.ErrNoRows.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := `SELECT id, name, teacher_id, created_at, updated_at FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// FindMember returns a class membership row or sql.ErrNoRows.
func (r *ClassRepository) FindMember(ctx context.Context, classID, studentID string) (*models.ClassMember, error) {
	query := `SELECT m.class_id, m.student_id, s.full_name, m.is_beadle, m.joined_at
FROM class_members m
JOIN students s ON s.id = m.student_id
WHERE m.class_id = $1 AND m.student_id = $2`
	var member models.ClassMember
	if err := r.db.GetContext(ctx, &member, query, classID, studentID); err != nil {
		return nil, fmt.Errorf("find class member: %w", err)
	}
	return &member, nil
}
