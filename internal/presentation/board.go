// Package presentation holds what the kiosk screen shows: the active
// student and a single transient success or error notice.
package presentation

import (
	"sync"
	"time"

	"examkiosk/internal/models"
)

// Default display durations for transient messages.
const (
	DefaultErrorTTL   = 5 * time.Second
	DefaultSuccessTTL = 3 * time.Second
)

// Board is the presentation state shared by the scanner and the UI.
// Every mutation is broadcast to subscribers as a snapshot.
type Board struct {
	mu sync.Mutex

	active    *models.Student
	notFound  bool
	message   *models.Message
	gen       uint64 // bumped whenever message changes
	autoPrint bool
	connected bool
	printing  bool

	errorTTL   time.Duration
	successTTL time.Duration
	afterFunc  func(time.Duration, func()) *time.Timer

	subs   map[int]chan models.Presentation
	nextID int
}

// Option configures a Board.
type Option func(*Board)

// WithTTL overrides the error and success display durations.
func WithTTL(errorTTL, successTTL time.Duration) Option {
	return func(b *Board) {
		if errorTTL > 0 {
			b.errorTTL = errorTTL
		}
		if successTTL > 0 {
			b.successTTL = successTTL
		}
	}
}

// NewBoard returns an empty board.
func NewBoard(opts ...Option) *Board {
	b := &Board{
		errorTTL:   DefaultErrorTTL,
		successTTL: DefaultSuccessTTL,
		afterFunc:  time.AfterFunc,
		subs:       make(map[int]chan models.Presentation),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Snapshot returns a copy of the current state.
func (b *Board) Snapshot() models.Presentation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// ShowStudent makes s the active student and clears any message.
func (b *Board) ShowStudent(s *models.Student) {
	b.mu.Lock()
	cp := *s
	b.active = &cp
	b.notFound = false
	b.clearMessageLocked()
	b.publishLocked()
	b.mu.Unlock()
}

// ShowUnknown displays the placeholder for an unmatched card.
// The caller raises the matching error message.
func (b *Board) ShowUnknown(cardID string) {
	b.mu.Lock()
	b.active = models.UnknownStudent(cardID)
	b.notFound = true
	b.publishLocked()
	b.mu.Unlock()
}

// ActiveStudent returns a copy of the active student, or nil.
func (b *Board) ActiveStudent() *models.Student {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return nil
	}
	cp := *b.active
	return &cp
}

// ClearActive drops the active student and every message.
func (b *Board) ClearActive() {
	b.mu.Lock()
	b.active = nil
	b.notFound = false
	b.clearMessageLocked()
	b.publishLocked()
	b.mu.Unlock()
}

// SetError shows an error notice, replacing any success notice.
func (b *Board) SetError(text string) {
	b.setMessage(models.MessageError, text, b.errorTTL)
}

// SetSuccess shows a success notice, replacing any error notice.
func (b *Board) SetSuccess(text string) {
	b.setMessage(models.MessageSuccess, text, b.successTTL)
}

// ClearMessages removes the current notice.
func (b *Board) ClearMessages() {
	b.mu.Lock()
	b.clearMessageLocked()
	b.publishLocked()
	b.mu.Unlock()
}

// ClearError removes the current notice only if it is an error.
func (b *Board) ClearError() {
	b.mu.Lock()
	if b.message != nil && b.message.Kind == models.MessageError {
		b.clearMessageLocked()
		b.publishLocked()
	}
	b.mu.Unlock()
}

// SetAutoPrint records the auto-print flag.
func (b *Board) SetAutoPrint(enabled bool) {
	b.mu.Lock()
	b.autoPrint = enabled
	b.publishLocked()
	b.mu.Unlock()
}

// AutoPrint reports the auto-print flag.
func (b *Board) AutoPrint() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.autoPrint
}

// SetConnected records the scanner link state.
func (b *Board) SetConnected(connected bool) {
	b.mu.Lock()
	if b.connected != connected {
		b.connected = connected
		b.publishLocked()
	}
	b.mu.Unlock()
}

// SetPrinting records whether a print job is in flight.
func (b *Board) SetPrinting(printing bool) {
	b.mu.Lock()
	b.printing = printing
	b.publishLocked()
	b.mu.Unlock()
}

// Subscribe returns a channel of snapshots and a cancel func.
// Slow subscribers miss intermediate snapshots rather than block the board.
func (b *Board) Subscribe() (<-chan models.Presentation, func()) {
	ch := make(chan models.Presentation, 8)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	ch <- b.snapshotLocked()
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Board) setMessage(kind models.MessageKind, text string, ttl time.Duration) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.message = &models.Message{Kind: kind, Text: text}
	b.publishLocked()
	b.mu.Unlock()

	b.afterFunc(ttl, func() { b.expire(gen) })
}

// expire clears the message only if it is still the one that scheduled it.
func (b *Board) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen || b.message == nil {
		return
	}
	b.clearMessageLocked()
	b.publishLocked()
}

func (b *Board) clearMessageLocked() {
	if b.message != nil {
		b.gen++
	}
	b.message = nil
}

func (b *Board) snapshotLocked() models.Presentation {
	p := models.Presentation{
		NotFound:  b.notFound,
		AutoPrint: b.autoPrint,
		Connected: b.connected,
		Printing:  b.printing,
	}
	if b.active != nil {
		cp := *b.active
		p.ActiveStudent = &cp
	}
	if b.message != nil {
		m := *b.message
		p.Message = &m
	}
	return p
}

func (b *Board) publishLocked() {
	if len(b.subs) == 0 {
		return
	}
	snap := b.snapshotLocked()
	for _, ch := range b.subs {
		select {
		case ch <- snap:
		default:
			// drop the oldest snapshot so the latest state wins
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
