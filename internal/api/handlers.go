package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"examkiosk/internal/auth"
	"examkiosk/internal/models"
	"examkiosk/internal/presentation"
)

// Kiosk is the scan and print surface.
type Kiosk interface {
	Connect(ctx context.Context) error
	Disconnect()
	Connected() bool
	ResolveCard(ctx context.Context, cardID string) (*models.Student, error)
	PrintActive(ctx context.Context) error
	ClearActive()
	SetAutoPrint(ctx context.Context, enabled bool) error
	ToggleAutoPrint(ctx context.Context) (bool, error)
}

// ActivityLister reads the journal.
type ActivityLister interface {
	List(ctx context.Context, filter models.ActivityFilter) ([]*models.Activity, error)
}

// Deps groups what the handlers need.
type Deps struct {
	Manager        *auth.Manager
	Kiosk          Kiosk
	Board          *presentation.Board
	Activity       ActivityLister
	CSRF           *auth.CSRFProtection
	Limiter        *auth.RateLimiter
	Logger         *zap.Logger
	AllowedOrigins []string
}

// Handler serves the local kiosk UI backend.
type Handler struct {
	manager  *auth.Manager
	kiosk    Kiosk
	board    *presentation.Board
	activity ActivityLister
	csrf     *auth.CSRFProtection
	limiter  *auth.RateLimiter
	logger   *zap.Logger
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewHandler wires the handlers to their dependencies.
func NewHandler(d Deps) (*Handler, error) {
	if d.Manager == nil || d.Kiosk == nil || d.Board == nil || d.Activity == nil {
		return nil, errors.New("api: manager, kiosk, board and activity are required")
	}
	h := &Handler{
		manager:  d.Manager,
		kiosk:    d.Kiosk,
		board:    d.Board,
		activity: d.Activity,
		csrf:     d.CSRF,
		limiter:  d.Limiter,
		logger:   d.Logger,
		origins:  make(map[string]struct{}, len(d.AllowedOrigins)),
	}
	if h.csrf == nil {
		h.csrf = auth.NewCSRFProtection(0)
	}
	if h.limiter == nil {
		h.limiter = auth.DefaultRateLimiter()
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.logger = h.logger.Named("api")
	for _, o := range d.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			h.origins[o] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h, nil
}

// checkOrigin admits non-browser clients, same-host pages and the
// configured UI origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := h.origins[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Health check
func healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// homePage handles GET / behind the session guard
func (h *Handler) homePage(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"page":  "home",
		"user":  auth.GetUserFromContext(c),
		"state": h.board.Snapshot(),
	})
}

// loginPage handles GET /login behind the guest guard
func (h *Handler) loginPage(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"page":  "login",
		"error": h.manager.Snapshot().Error,
	})
}

func (h *Handler) operator(c echo.Context) string {
	if u := auth.GetUserFromContext(c); u != nil {
		return u.Username
	}
	return ""
}
