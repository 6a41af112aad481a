package models

import "time"

// Activity is a journal entry for something the kiosk did.
type Activity struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	CardID    string    `json:"card_id,omitempty"`
	Operator  string    `json:"operator,omitempty"`
	Details   string    `json:"details,omitempty"` // JSON string
}

// ActivityFilter narrows a journal query.
type ActivityFilter struct {
	Action string
	CardID string
	Since  time.Time
	Limit  int
	Offset int
}

// Journal actions
const (
	ActionLogin        = "auth.login"
	ActionLoginFailed  = "auth.login_failed"
	ActionLogout       = "auth.logout"
	ActionScanMatched  = "scan.matched"
	ActionScanUnknown  = "scan.unknown"
	ActionPrintSuccess = "print.success"
	ActionPrintFailed  = "print.failed"
)
