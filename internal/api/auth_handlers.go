package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"examkiosk/internal/auth"
)

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// login handles POST /api/auth/login
func (h *Handler) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "username and password are required",
		})
	}

	res := h.manager.Login(c.Request().Context(), req.Username, req.Password)
	if !res.Success {
		return c.JSON(loginFailureStatus(res.Err), res)
	}

	user := h.manager.User()
	if user == nil {
		// logged out concurrently
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}
	token, err := h.csrf.GenerateToken(user.Username)
	if err != nil {
		h.logger.Error("generate csrf token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to start session",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"user":       user,
		"csrf_token": token,
	})
}

// logout handles POST /api/auth/logout. It always succeeds locally.
func (h *Handler) logout(c echo.Context) error {
	h.manager.LogoutRemote(c.Request().Context())
	h.csrf.Reset()

	return c.JSON(http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// me handles GET /api/auth/me and hands out a fresh CSRF token
func (h *Handler) me(c echo.Context) error {
	token, err := h.csrf.GenerateToken(h.operator(c))
	if err != nil {
		h.logger.Error("generate csrf token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to issue csrf token",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session":    h.manager.Snapshot(),
		"user":       auth.GetUserFromContext(c),
		"csrf_token": token,
	})
}

// loginFailureStatus keeps 401 for rejected credentials only, so the
// login limiter does not count upstream outages.
func loginFailureStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrConnection):
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}
