package models

import (
	"encoding/json"
	"time"
)

// Profile is the operator record returned by the remote get-me endpoint.
// Only a few fields are interpreted; the full payload is kept in Raw.
type Profile struct {
	ID       any             `json:"id,omitempty"`
	Username string          `json:"username,omitempty"`
	FullName string          `json:"full_name,omitempty"`
	Email    string          `json:"email,omitempty"`
	Role     string          `json:"role,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the raw payload.
func (p *Profile) UnmarshalJSON(data []byte) error {
	type plain Profile
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Profile(v)
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// SessionState is a read-only snapshot of the operator session.
type SessionState struct {
	Authenticated bool      `json:"authenticated"`
	User          *Profile  `json:"user,omitempty"`
	Error         string    `json:"error,omitempty"`
	Loading       bool      `json:"loading"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}
