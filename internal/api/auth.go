package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

// ErrSessionExpired is returned when the session token carries an exp claim
// in the past.
var ErrSessionExpired = errors.New("api: session expired")

// TokenInfo is what the client can learn from its own session cookie.
type TokenInfo struct {
	JWT       bool
	Subject   string
	ExpiresAt time.Time
}

// InspectToken decodes a JWT session token without verifying it; the server
// remains the authority. Opaque tokens yield a zero TokenInfo with JWT false.
func InspectToken(raw string) TokenInfo {
	if strings.Count(raw, ".") != 2 {
		return TokenInfo{}
	}

	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(raw, claims); err != nil {
		return TokenInfo{}
	}

	info := TokenInfo{JWT: true}
	if sub, ok := claims["sub"].(string); ok {
		info.Subject = sub
	}
	if info.Subject == "" {
		switch uid := claims["user_id"].(type) {
		case string:
			info.Subject = uid
		case float64:
			info.Subject = strconv.FormatInt(int64(uid), 10)
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		info.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return info
}

// Expired reports whether the token is known to have expired at now.
func (t TokenInfo) Expired(now time.Time) bool {
	return t.JWT && !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// CheckSession returns ErrSessionExpired when the current session cookie is a
// JWT past its expiry, so the caller can skip dialing the socket.
func (c *Client) CheckSession(now time.Time) (TokenInfo, error) {
	raw, err := c.SessionToken()
	if err != nil {
		return TokenInfo{}, err
	}
	info := InspectToken(raw)
	if info.Expired(now) {
		return info, ErrSessionExpired
	}
	return info, nil
}
