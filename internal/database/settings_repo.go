package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// ErrSettingNotFound is returned when a setting key has no value
var ErrSettingNotFound = errors.New("setting not found")

// Common settings keys
const (
	SettingAccessToken = "auth.access_token"
	SettingAutoPrint   = "kiosk.auto_print"
)

// SettingsRepo handles settings database operations
type SettingsRepo struct {
	db *sql.DB
}

// NewSettingsRepo creates a new settings repository
func NewSettingsRepo(db *sql.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Get retrieves a setting value
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSettingNotFound
	}
	return value, err
}

// Set sets a setting value
func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?
	`, key, value, now, value, now)
	return err
}

// Delete removes a setting; deleting a missing key is not an error
func (r *SettingsRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key)
	return err
}

// GetBool retrieves a boolean setting
func (r *SettingsRepo) GetBool(ctx context.Context, key string) (bool, error) {
	value, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return value == "true" || value == "1", nil
}

// SetBool stores a boolean setting
func (r *SettingsRepo) SetBool(ctx context.Context, key string, value bool) error {
	return r.Set(ctx, key, strconv.FormatBool(value))
}

// LoadToken returns the persisted access token, or "" when none is stored.
func (r *SettingsRepo) LoadToken(ctx context.Context) (string, error) {
	token, err := r.Get(ctx, SettingAccessToken)
	if errors.Is(err, ErrSettingNotFound) {
		return "", nil
	}
	return token, err
}

// SaveToken persists the access token.
func (r *SettingsRepo) SaveToken(ctx context.Context, token string) error {
	return r.Set(ctx, SettingAccessToken, token)
}

// ClearToken removes the persisted access token.
func (r *SettingsRepo) ClearToken(ctx context.Context) error {
	return r.Delete(ctx, SettingAccessToken)
}

// LoadAutoPrint returns the persisted auto-print flag.
func (r *SettingsRepo) LoadAutoPrint(ctx context.Context) (bool, error) {
	v, err := r.GetBool(ctx, SettingAutoPrint)
	if errors.Is(err, ErrSettingNotFound) {
		return false, nil
	}
	return v, err
}

// SaveAutoPrint persists the auto-print flag.
func (r *SettingsRepo) SaveAutoPrint(ctx context.Context, enabled bool) error {
	return r.SetBool(ctx, SettingAutoPrint, enabled)
}
