package models

import "time"

// Class represents a classroom owned by a single teacher.
type Class struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ClassMember captures a student's membership in a class. Beadles are
// members granted delegated permission to mark attendance for the class.
type ClassMember struct {
	ClassID   string    `db:"class_id" json:"class_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	IsBeadle  bool      `db:"is_beadle" json:"is_beadle"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
}
