package models

// MessageKind tells success and error notices apart.
type MessageKind string

const (
	MessageSuccess MessageKind = "success"
	MessageError   MessageKind = "error"
)

// Message is a transient operator notice.
type Message struct {
	Kind MessageKind `json:"kind"`
	Text string      `json:"text"`
}

// Presentation is a snapshot of what the kiosk screen shows.
type Presentation struct {
	ActiveStudent *Student `json:"active_student,omitempty"`
	NotFound      bool     `json:"not_found"`
	Message       *Message `json:"message,omitempty"`
	AutoPrint     bool     `json:"auto_print"`
	Connected     bool     `json:"connected"`
	Printing      bool     `json:"printing"`
}
