package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "pondwatch_session"

	sessionKey       = "session"
	maxSessionLength = 128
	sessionCookieAge = 30 * 24 * time.Hour
)

// sessionMiddleware resolves the display session of a request from the
// X-Session-ID header, then the session cookie. Requests without either get a
// new session id set as a cookie.
func sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		if id := req.Header.Get(SessionHeader); id != "" {
			if len(id) > maxSessionLength {
				return badRequest("session id is too long", errors.New("invalid "+SessionHeader+" header"))
			}
			c.Set(sessionKey, id)
			return next(c)
		}

		if cookie, err := req.Cookie(SessionCookie); err == nil && validSession(cookie.Value) {
			c.Set(sessionKey, cookie.Value)
			return next(c)
		}

		id := uuid.NewString()
		c.SetCookie(&http.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			MaxAge:   int(sessionCookieAge.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		c.Set(sessionKey, id)
		return next(c)
	}
}

func validSession(id string) bool {
	return id != "" && len(id) <= maxSessionLength
}

func sessionID(c echo.Context) string {
	id, _ := c.Get(sessionKey).(string)
	return id
}
