package deadbolt

import (
	"time"

	"github.com/aussiebroadwan/deadbolt/pkg/serialx"
)

// Session is a server-issued proof of authentication. The token is opaque.
type Session struct {
	ID      int64             `json:"id,omitempty"`
	UserID  int64             `json:"userId,omitempty"`
	Created serialx.Timestamp `json:"created,omitzero"`
	Expires serialx.Timestamp `json:"expires,omitzero"`
	Token   string            `json:"token"`
}

var sessionMapping = serialx.Mapping{
	"created": serialx.Time,
	"expires": serialx.Time,
}

// DecodeSession builds a session from a wire payload.
func DecodeSession(payload any) (*Session, error) {
	return serialx.Decode[Session](payload, sessionMapping)
}

// Valid reports whether the session was well formed when issued: it has a
// token and expires after it was created.
func (s *Session) Valid() bool {
	if s == nil || s.Token == "" {
		return false
	}
	return s.Created.Valid && s.Expires.Valid && s.Expires.After(s.Created.Time)
}

// Expired reports whether the session has lapsed at now. Sessions without a
// known expiry never lapse on the client side.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return s.Expires.Valid && !now.Before(s.Expires.Time)
}
