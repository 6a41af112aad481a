package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"examkiosk/internal/models"
)

// ActivityRepo handles the kiosk activity journal
type ActivityRepo struct {
	db *sql.DB
}

// NewActivityRepo creates a new activity repository
func NewActivityRepo(db *sql.DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

// Create inserts a journal entry
func (r *ActivityRepo) Create(ctx context.Context, a *models.Activity) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_log (timestamp, action, card_id, operator, details)
		VALUES (?, ?, ?, ?, ?)
	`, a.Timestamp, a.Action, nullString(a.CardID), nullString(a.Operator), nullString(a.Details))
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// Log is a convenience method to create an entry with the current timestamp
func (r *ActivityRepo) Log(ctx context.Context, action, cardID, operator string, details any) error {
	var detailsJSON string
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(b)
		}
	}

	return r.Create(ctx, &models.Activity{
		Timestamp: time.Now(),
		Action:    action,
		CardID:    cardID,
		Operator:  operator,
		Details:   detailsJSON,
	})
}

// List returns journal entries, newest first
func (r *ActivityRepo) List(ctx context.Context, filter models.ActivityFilter) ([]*models.Activity, error) {
	query := "SELECT id, timestamp, action, card_id, operator, details FROM activity_log WHERE 1=1"
	args := []any{}

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.CardID != "" {
		query += " AND card_id = ?"
		args = append(args, filter.CardID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.Activity
	for rows.Next() {
		a := &models.Activity{}
		var cardID, operator, details sql.NullString
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Action, &cardID, &operator, &details); err != nil {
			return nil, err
		}
		a.CardID = cardID.String
		a.Operator = operator.String
		a.Details = details.String
		entries = append(entries, a)
	}

	return entries, rows.Err()
}

// DeleteOlderThan prunes journal entries older than t
func (r *ActivityRepo) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM activity_log WHERE timestamp < ?", t)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
