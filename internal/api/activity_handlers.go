package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"examkiosk/internal/models"
)

// listActivity handles GET /api/kiosk/activity
func (h *Handler) listActivity(c echo.Context) error {
	filter := models.ActivityFilter{
		Limit:  50,
		Offset: 0,
	}

	// Parse query parameters
	if limit := c.QueryParam("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 && l <= 1000 {
			filter.Limit = l
		}
	}
	if offset := c.QueryParam("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			filter.Offset = o
		}
	}
	if action := c.QueryParam("action"); action != "" {
		filter.Action = action
	}
	if cardID := c.QueryParam("card_id"); cardID != "" {
		filter.CardID = cardID
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
		}
		filter.Since = t
	}

	entries, err := h.activity.List(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("list activity", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list activity",
		})
	}

	if entries == nil {
		entries = []*models.Activity{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}
