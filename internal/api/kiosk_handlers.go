package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"examkiosk/internal/database"
	"examkiosk/internal/scanner"
)

type scanRequest struct {
	CardID string `json:"rfid" form:"rfid"`
}

type autoPrintRequest struct {
	// Enabled sets the flag; omitted toggles it.
	Enabled *bool `json:"enabled" form:"enabled"`
}

// state handles GET /api/kiosk/state
func (h *Handler) state(c echo.Context) error {
	return c.JSON(http.StatusOK, h.board.Snapshot())
}

// scan handles POST /api/kiosk/scan: manual card entry
func (h *Handler) scan(c echo.Context) error {
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if strings.TrimSpace(req.CardID) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "rfid is required",
		})
	}

	student, err := h.kiosk.ResolveCard(c.Request().Context(), req.CardID)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]interface{}{
			"found":   true,
			"student": student,
			"state":   h.board.Snapshot(),
		})
	case errors.Is(err, database.ErrStudentNotFound):
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"found": false,
			"state": h.board.Snapshot(),
		})
	default:
		h.logger.Error("manual scan failed", zap.String("operator", h.operator(c)), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "roster lookup failed",
			"state": h.board.Snapshot(),
		})
	}
}

// print handles POST /api/kiosk/print
func (h *Handler) print(c echo.Context) error {
	err := h.kiosk.PrintActive(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": true,
			"state":   h.board.Snapshot(),
		})
	case errors.Is(err, scanner.ErrNoActiveStudent):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"success": false,
			"error":   "no student to print",
			"state":   h.board.Snapshot(),
		})
	default:
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   "print failed",
			"state":   h.board.Snapshot(),
		})
	}
}

// clear handles POST /api/kiosk/clear
func (h *Handler) clear(c echo.Context) error {
	h.kiosk.ClearActive()
	return c.JSON(http.StatusOK, h.board.Snapshot())
}

// autoPrint handles POST /api/kiosk/autoprint
func (h *Handler) autoPrint(c echo.Context) error {
	var req autoPrintRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	ctx := c.Request().Context()
	var err error
	if req.Enabled == nil {
		_, err = h.kiosk.ToggleAutoPrint(ctx)
	} else {
		err = h.kiosk.SetAutoPrint(ctx, *req.Enabled)
	}
	if err != nil {
		// the flag is applied in memory even when persisting fails
		h.logger.Warn("auto-print not persisted", zap.Error(err))
	}

	return c.JSON(http.StatusOK, map[string]bool{
		"auto_print": h.board.AutoPrint(),
	})
}

// connectScanner handles POST /api/kiosk/scanner/connect
func (h *Handler) connectScanner(c echo.Context) error {
	if err := h.kiosk.Connect(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"connected": false,
			"error":     "scanner unreachable",
		})
	}
	return c.JSON(http.StatusOK, map[string]bool{
		"connected": h.kiosk.Connected(),
	})
}

// disconnectScanner handles POST /api/kiosk/scanner/disconnect
func (h *Handler) disconnectScanner(c echo.Context) error {
	h.kiosk.Disconnect()
	return c.JSON(http.StatusOK, map[string]bool{
		"connected": false,
	})
}
