package api

import (
	"crypto/subtle"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo"
	"go.uber.org/zap"
)

const callerKey = "caller"

// callerIdentity takes the caller id from the subject of an HS256 bearer
// token. Without a configured secret the request body names the caller.
func (s *Server) callerIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.jwtSecret == nil {
			return next(c)
		}
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == "" || raw == header {
			return Unauthorized.Build(c)
		}
		token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			s.logger.Debug("rejected bearer token", zap.Error(err))
			return Unauthorized.Build(c)
		}
		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return Unauthorized.Build(c)
		}
		c.Set(callerKey, sub)
		return next(c)
	}
}

// callerOr returns the authenticated caller, or fallback when tokens are off.
func callerOr(c echo.Context, fallback string) string {
	if v, ok := c.Get(callerKey).(string); ok && v != "" {
		return v
	}
	return fallback
}

func (s *Server) privateOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		got := c.Request().Header.Get(echo.HeaderAuthorization)
		if s.authorizationSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.authorizationSecret)) != 1 {
			s.logger.Warn("Cannot authorization request", zap.String("path", c.Path()))
			return Unauthorized.Build(c)
		}
		return next(c)
	}
}
