// Package scanner connects to the local RFID reader over WebSocket and
// turns each scanned card into a roster lookup and, optionally, a print job.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"examkiosk/internal/database"
	"examkiosk/internal/models"
	"examkiosk/internal/presentation"
)

// DefaultURL is the reader's event endpoint.
const DefaultURL = "ws://localhost:8000/ws"

var (
	// ErrConnection means the reader endpoint could not be reached.
	ErrConnection = errors.New("scanner connection failed")
	// ErrNoActiveStudent means there is no complete record to print.
	ErrNoActiveStudent = errors.New("no active student")
)

// Operator-facing messages.
const (
	msgConnection   = "При подключении к серверу произошла ошибка"
	msgNoStudent    = "Нет информации о студенте"
	msgPrinted      = "Данные успешно напечатаны!"
	msgPrintFailed  = "Ошибка при печати!"
	msgLookupFailed = "Ошибка поиска студента"
)

func notFoundMessage(cardID string) string {
	return fmt.Sprintf("RFID: %s - Студент не найден", cardID)
}

// Roster looks students up by card id.
type Roster interface {
	FindByCardID(ctx context.Context, cardID string) (*models.Student, error)
}

// Printer submits print jobs.
type Printer interface {
	Print(ctx context.Context, job models.PrintJob) error
}

// Journal records scan and print activity. Optional.
type Journal interface {
	Log(ctx context.Context, action, cardID, operator string, details any) error
}

// FlagStore persists the auto-print flag. Optional.
type FlagStore interface {
	SaveAutoPrint(ctx context.Context, enabled bool) error
}

// Options groups the dependencies of a Dispatcher.
type Options struct {
	URL     string
	Roster  Roster
	Printer Printer
	Board   *presentation.Board
	Journal Journal
	Flags   FlagStore
	Logger  *zap.Logger
	Dialer  *websocket.Dialer
	// Operator names the logged-in operator for the journal.
	Operator func() string
}

// Dispatcher owns the single reader connection and reacts to scans.
type Dispatcher struct {
	url      string
	roster   Roster
	printer  Printer
	board    *presentation.Board
	journal  Journal
	flags    FlagStore
	logger   *zap.Logger
	dialer   *websocket.Dialer
	operator func() string

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{} // closed when the reader goroutine of conn exits
	gen  uint64        // bumped on every connect and disconnect
}

// NewDispatcher builds a disconnected Dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Roster == nil || opts.Printer == nil || opts.Board == nil {
		return nil, errors.New("scanner: roster, printer and board are required")
	}
	d := &Dispatcher{
		url:      opts.URL,
		roster:   opts.Roster,
		printer:  opts.Printer,
		board:    opts.Board,
		journal:  opts.Journal,
		flags:    opts.Flags,
		logger:   opts.Logger,
		dialer:   opts.Dialer,
		operator: opts.Operator,
	}
	if d.url == "" {
		d.url = DefaultURL
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.Named("scanner")
	if d.dialer == nil {
		d.dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if d.operator == nil {
		d.operator = func() string { return "" }
	}
	return d, nil
}

// Connect replaces any existing connection with a new one. The reader
// goroutine outlives ctx; only Disconnect or a later Connect stop it.
func (d *Dispatcher) Connect(ctx context.Context) error {
	d.mu.Lock()
	prev, _ := d.detachLocked()
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	closeConn(prev)

	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		d.mu.Lock()
		if d.gen == gen {
			d.board.SetConnected(false)
			d.board.SetError(msgConnection)
		}
		d.mu.Unlock()
		d.logger.Warn("connect to reader failed", zap.String("url", d.url), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	d.mu.Lock()
	if d.gen != gen {
		// a newer Connect or a Disconnect ran while dialing
		d.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	done := make(chan struct{})
	d.conn = conn
	d.done = done
	d.board.SetConnected(true)
	d.board.ClearError()
	d.mu.Unlock()

	d.logger.Info("connected to reader", zap.String("url", d.url))
	go d.readLoop(context.WithoutCancel(ctx), conn, gen, done)
	return nil
}

// Disconnect closes the connection, if any, and waits for its reader to
// stop. Safe to call repeatedly.
func (d *Dispatcher) Disconnect() {
	d.mu.Lock()
	conn, done := d.detachLocked()
	d.gen++
	d.board.SetConnected(false)
	d.mu.Unlock()

	if conn == nil {
		return
	}
	closeConn(conn)
	<-done
	d.logger.Info("disconnected from reader")
}

// Connected reports whether a reader connection is open.
func (d *Dispatcher) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

func (d *Dispatcher) detachLocked() (*websocket.Conn, chan struct{}) {
	conn, done := d.conn, d.done
	d.conn, d.done = nil, nil
	return conn, done
}

func closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func (d *Dispatcher) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			d.connectionLost(gen, err)
			return
		}

		cardID, ok := ParseCardID(payload)
		if !ok {
			d.logger.Debug("ignoring reader message", zap.ByteString("payload", payload))
			continue
		}

		d.mu.Lock()
		current := d.gen == gen
		d.mu.Unlock()
		if !current {
			return
		}

		_, _ = d.ResolveCard(ctx, cardID)
	}
}

// connectionLost handles the end of a connection that was not closed by us.
func (d *Dispatcher) connectionLost(gen uint64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen {
		return
	}
	d.conn, d.done = nil, nil
	d.board.SetConnected(false)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		d.logger.Info("reader closed the connection")
		return
	}
	d.logger.Warn("reader connection error", zap.Error(err))
	d.board.SetError(msgConnection)
}

// ResolveCard looks the card up and shows the result. A match with
// auto-print enabled is printed right away.
func (d *Dispatcher) ResolveCard(ctx context.Context, rawID string) (*models.Student, error) {
	cardID := strings.TrimSpace(rawID)
	scanID := uuid.NewString()

	student, err := d.roster.FindByCardID(ctx, cardID)
	switch {
	case err == nil:
		d.board.ShowStudent(student)
		d.logger.Info("card matched", zap.String("scan_id", scanID), zap.String("card_id", cardID))
		d.record(ctx, models.ActionScanMatched, cardID, map[string]string{
			"scan_id": scanID,
			"student": student.FullName,
		})
		if d.board.AutoPrint() {
			_ = d.printStudent(ctx, student)
		}
		return student, nil

	case errors.Is(err, database.ErrStudentNotFound):
		d.board.ShowUnknown(cardID)
		d.board.SetError(notFoundMessage(cardID))
		d.logger.Info("card not in roster", zap.String("scan_id", scanID), zap.String("card_id", cardID))
		d.record(ctx, models.ActionScanUnknown, cardID, map[string]string{"scan_id": scanID})
		return nil, err

	default:
		d.board.SetError(msgLookupFailed)
		d.logger.Error("roster lookup failed", zap.String("card_id", cardID), zap.Error(err))
		return nil, fmt.Errorf("lookup card %q: %w", cardID, err)
	}
}

// PrintActive sends the active student to the printer once.
func (d *Dispatcher) PrintActive(ctx context.Context) error {
	student := d.board.ActiveStudent()
	if !student.Printable() {
		d.board.SetError(msgNoStudent)
		return ErrNoActiveStudent
	}
	return d.printStudent(ctx, student)
}

// printStudent prints the given record, whatever the board shows now.
func (d *Dispatcher) printStudent(ctx context.Context, student *models.Student) error {
	d.board.SetPrinting(true)
	err := d.printer.Print(ctx, models.NewPrintJob(student))
	d.board.SetPrinting(false)

	if err != nil {
		d.board.SetError(msgPrintFailed)
		d.record(ctx, models.ActionPrintFailed, student.CardID, map[string]string{"error": err.Error()})
		return fmt.Errorf("print %q: %w", student.CardID, err)
	}

	d.board.SetSuccess(msgPrinted)
	d.record(ctx, models.ActionPrintSuccess, student.CardID, nil)
	return nil
}

// ClearActive hides the active student and any notice.
func (d *Dispatcher) ClearActive() {
	d.board.ClearActive()
}

// SetAutoPrint sets the auto-print flag and persists it.
func (d *Dispatcher) SetAutoPrint(ctx context.Context, enabled bool) error {
	d.board.SetAutoPrint(enabled)
	if d.flags == nil {
		return nil
	}
	if err := d.flags.SaveAutoPrint(ctx, enabled); err != nil {
		d.logger.Warn("persist auto-print flag", zap.Error(err))
		return fmt.Errorf("save auto-print: %w", err)
	}
	return nil
}

// ToggleAutoPrint flips the auto-print flag and returns the new value.
func (d *Dispatcher) ToggleAutoPrint(ctx context.Context) (bool, error) {
	enabled := !d.board.AutoPrint()
	return enabled, d.SetAutoPrint(ctx, enabled)
}

func (d *Dispatcher) record(ctx context.Context, action, cardID string, details any) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Log(ctx, action, cardID, d.operator(), details); err != nil {
		d.logger.Warn("journal write failed", zap.String("action", action), zap.Error(err))
	}
}
