package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// HeaderCSRFToken carries the token on state-changing kiosk requests
const HeaderCSRFToken = "X-CSRF-Token"

// maxTokensPerOperator bounds how many live tokens one operator can hold.
// Each page load or /api/auth/me call issues a new one.
const maxTokensPerOperator = 16

// CSRFProtection issues per-operator tokens that the kiosk page must echo
// back on state-changing requests. Only SHA-256 digests are kept.
type CSRFProtection struct {
	mu     sync.Mutex
	issued map[string][]issuedToken // operator -> tokens, oldest first
	ttl    time.Duration
	now    func() time.Time
}

type issuedToken struct {
	digest  [sha256.Size]byte
	expires time.Time
}

// NewCSRFProtection creates a token store whose tokens live for ttl
// (12h when ttl is not positive).
func NewCSRFProtection(ttl time.Duration) *CSRFProtection {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &CSRFProtection{
		issued: make(map[string][]issuedToken),
		ttl:    ttl,
		now:    time.Now,
	}
}

// GenerateToken issues a new token for operator, evicting the operator's
// oldest token once the cap is reached.
func (c *CSRFProtection) GenerateToken(operator string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	live := c.liveLocked(operator, now)
	if len(live) >= maxTokensPerOperator {
		live = live[len(live)-maxTokensPerOperator+1:]
	}
	c.issued[operator] = append(live, issuedToken{
		digest:  sha256.Sum256([]byte(token)),
		expires: now.Add(c.ttl),
	})
	return token, nil
}

// ValidateToken reports whether token was issued to operator and has not expired.
func (c *CSRFProtection) ValidateToken(token, operator string) bool {
	if token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.liveLocked(operator, c.now()) {
		if t.digest == digest {
			return true
		}
	}
	return false
}

// Reset drops every issued token (operator logged out)
func (c *CSRFProtection) Reset() {
	c.mu.Lock()
	c.issued = make(map[string][]issuedToken)
	c.mu.Unlock()
}

// liveLocked drops operator's expired tokens and returns the rest.
func (c *CSRFProtection) liveLocked(operator string, now time.Time) []issuedToken {
	tokens := c.issued[operator]
	i := 0
	for i < len(tokens) && !now.Before(tokens[i].expires) {
		i++
	}
	tokens = tokens[i:]
	if len(tokens) == 0 {
		delete(c.issued, operator)
		return nil
	}
	c.issued[operator] = tokens
	return tokens
}

// Middleware validates the token on every unsafe method.
// Must be used after RequireSession.
func (c *CSRFProtection) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			switch ctx.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(ctx)
			}

			user := GetUserFromContext(ctx)
			if user == nil {
				return ctx.JSON(http.StatusUnauthorized, map[string]string{
					"error": "authentication required",
				})
			}

			token := ctx.Request().Header.Get(HeaderCSRFToken)
			if token == "" {
				token = ctx.FormValue("_csrf")
			}
			switch {
			case token == "":
				return ctx.JSON(http.StatusForbidden, map[string]string{
					"error": "CSRF token required",
				})
			case !c.ValidateToken(token, user.Username):
				return ctx.JSON(http.StatusForbidden, map[string]string{
					"error": "invalid CSRF token",
				})
			}
			return next(ctx)
		}
	}
}
