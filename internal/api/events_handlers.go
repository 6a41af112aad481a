package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"examkiosk/internal/models"
)

const (
	eventsWriteWait  = 5 * time.Second
	eventsPingPeriod = 30 * time.Second
)

// StateEvent is pushed to the kiosk page on every presentation change.
type StateEvent struct {
	Type  string              `json:"type"`
	State models.Presentation `json:"state"`
}

// events handles GET /api/kiosk/events. Browsers cannot set headers on a
// WebSocket handshake, so the CSRF token travels as ?csrf=.
func (h *Handler) events(c echo.Context) error {
	operator := h.operator(c)
	if !h.csrf.ValidateToken(c.QueryParam("csrf"), operator) {
		return echo.NewHTTPError(http.StatusForbidden, "invalid CSRF token")
	}

	ws, err := h.upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
	if err != nil {
		h.logger.Warn("events upgrade failed", zap.Error(err))
		return nil
	}
	defer ws.Close()

	h.logger.Debug("events stream opened", zap.String("operator", operator))

	updates, cancel := h.board.Subscribe()
	defer cancel()

	// the page never sends anything; reading only detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			_ = ws.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := ws.WriteJSON(StateEvent{Type: "state", State: snap}); err != nil {
				h.logger.Debug("events write failed", zap.Error(err))
				return nil
			}

		case <-ticker.C:
			if !h.manager.IsAuthenticated() {
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(eventsWriteWait))
				return nil
			}
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return nil
			}

		case <-closed:
			return nil

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
