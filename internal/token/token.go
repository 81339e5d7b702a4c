// Package token decodes the session credentials issued by the chat server.
// Signatures are never verified here; the server is the only authority.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned for credentials that are not a three-part JWT
// with a numeric subject.
var ErrMalformed = errors.New("malformed credential")

// Pair is an access credential plus the refresh credential used to renew it.
type Pair struct {
	Access  string
	Refresh string
}

// Claims is the subset of the credential payload the client relies on.
type Claims struct {
	Subject   string
	UserID    int64
	ExpiresAt time.Time
}

var parser = jwt.NewParser()

// Parse decodes the payload segment of raw.
func Parse(raw string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(raw, &rc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	c := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	if rc.Subject != "" {
		id, err := strconv.ParseInt(rc.Subject, 10, 64)
		if err != nil {
			return Claims{}, fmt.Errorf("%w: subject %q is not numeric", ErrMalformed, rc.Subject)
		}
		c.UserID = id
	}
	return c, nil
}

// ValidAt reports whether the credential is still usable at now with the
// given safety margin. A credential without exp never expires.
func (c Claims) ValidAt(now time.Time, leeway time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return c.ExpiresAt.After(now.Add(leeway))
}

// Usable reports whether raw decodes and is still valid at now.
func Usable(raw string, now time.Time, leeway time.Duration) bool {
	if raw == "" {
		return false
	}
	c, err := Parse(raw)
	if err != nil {
		return false
	}
	return c.ValidAt(now, leeway)
}
