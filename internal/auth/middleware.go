package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"examkiosk/internal/models"
)

// Context keys for storing session data
const (
	ContextKeyUser = "user"
)

// Page paths the guards redirect between
const (
	HomePath  = "/"
	LoginPath = "/login"
)

// RequireSession admits requests only while the operator holds a token
// whose profile has been resolved. A missing profile is fetched once.
func RequireSession(m *Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.IsAuthenticated() {
				return deny(c)
			}

			if m.User() == nil {
				if err := m.FetchProfile(c.Request().Context()); err != nil {
					c.Logger().Warn("session guard: profile unavailable: ", err)
					return deny(c)
				}
			}

			user := m.User()
			if user == nil {
				return deny(c)
			}

			c.Set(ContextKeyUser, user)
			return next(c)
		}
	}
}

// RequireGuest admits requests only while no operator is logged in.
func RequireGuest(m *Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m.IsAuthenticated() {
				if wantsJSON(c) {
					return c.JSON(http.StatusConflict, map[string]string{
						"error": "already authenticated",
					})
				}
				return c.Redirect(http.StatusFound, HomePath)
			}
			return next(c)
		}
	}
}

// GetUserFromContext retrieves the operator profile set by RequireSession
func GetUserFromContext(c echo.Context) *models.Profile {
	user, ok := c.Get(ContextKeyUser).(*models.Profile)
	if !ok {
		return nil
	}
	return user
}

func deny(c echo.Context) error {
	if wantsJSON(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}
	return c.Redirect(http.StatusFound, LoginPath)
}

// wantsJSON tells API calls apart from page navigations
func wantsJSON(c echo.Context) bool {
	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}
