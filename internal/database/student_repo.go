package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"examkiosk/internal/models"
)

// ErrStudentNotFound is returned when no roster entry matches a card
var ErrStudentNotFound = errors.New("student not found")

// StudentRepo is the SQLite-backed exam roster
type StudentRepo struct {
	db *sql.DB
}

// NewStudentRepo creates a new roster repository
func NewStudentRepo(db *sql.DB) *StudentRepo {
	return &StudentRepo{db: db}
}

const studentColumns = "card_id, full_name, subject_name, login, password, exam_date, exam_time, room, photo_url"

// FindByCardID returns the roster entry whose card id equals cardID exactly
func (r *StudentRepo) FindByCardID(ctx context.Context, cardID string) (*models.Student, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+studentColumns+" FROM students WHERE card_id = ?", cardID)
	s, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// List returns the full roster ordered by name
func (r *StudentRepo) List(ctx context.Context) ([]*models.Student, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+studentColumns+" FROM students ORDER BY full_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []*models.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// Count returns the number of roster entries
func (r *StudentRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM students").Scan(&count)
	return count, err
}

// Upsert inserts or replaces roster entries in a single transaction
func (r *StudentRepo) Upsert(ctx context.Context, students []*models.Student) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO students (`+studentColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET
			full_name = excluded.full_name,
			subject_name = excluded.subject_name,
			login = excluded.login,
			password = excluded.password,
			exam_date = excluded.exam_date,
			exam_time = excluded.exam_time,
			room = excluded.room,
			photo_url = excluded.photo_url,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, s := range students {
		cardID := strings.TrimSpace(s.CardID)
		if cardID == "" {
			return fmt.Errorf("student %q: empty card id", s.FullName)
		}
		if _, err := stmt.ExecContext(ctx,
			cardID, s.FullName, s.SubjectName, s.Login, s.Password,
			s.ExamDate, s.ExamTime, s.Room, s.PhotoURL, now,
		); err != nil {
			return fmt.Errorf("upsert student %s: %w", cardID, err)
		}
	}

	return tx.Commit()
}

// ImportFile loads a JSON array of roster entries and upserts them.
// It returns the number of entries imported.
func (r *StudentRepo) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read roster file: %w", err)
	}

	var students []*models.Student
	if err := json.Unmarshal(data, &students); err != nil {
		return 0, fmt.Errorf("decode roster file: %w", err)
	}

	seen := make(map[string]struct{}, len(students))
	for _, s := range students {
		id := strings.TrimSpace(s.CardID)
		if _, dup := seen[id]; dup {
			return 0, fmt.Errorf("duplicate card id %q in roster file", id)
		}
		seen[id] = struct{}{}
	}

	if err := r.Upsert(ctx, students); err != nil {
		return 0, err
	}
	return len(students), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*models.Student, error) {
	s := &models.Student{}
	err := row.Scan(
		&s.CardID, &s.FullName, &s.SubjectName, &s.Login, &s.Password,
		&s.ExamDate, &s.ExamTime, &s.Room, &s.PhotoURL,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
