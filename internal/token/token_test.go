package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mint(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: sub}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestParse(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	c, err := Parse(mint(t, "42", exp))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.UserID != 42 || c.Subject != "42" {
		t.Errorf("subject = %q/%d, want 42", c.Subject, c.UserID)
	}
	if !c.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", c.ExpiresAt, exp)
	}
}

func TestParseIgnoresExpiry(t *testing.T) {
	c, err := Parse(mint(t, "1", time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("Parse() of expired credential error = %v", err)
	}
	if c.ValidAt(time.Now(), 0) {
		t.Error("expired credential reported valid")
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"two parts", "abc.def"},
		{"garbage payload", "a.!!!.c"},
		{"non numeric subject", mint(t, "alice", time.Now().Add(time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestValidAt(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		exp    time.Time
		leeway time.Duration
		want   bool
	}{
		{"well ahead", now.Add(time.Hour), 30 * time.Second, true},
		{"inside leeway", now.Add(10 * time.Second), 30 * time.Second, false},
		{"exactly at margin", now.Add(30 * time.Second), 30 * time.Second, false},
		{"expired", now.Add(-time.Second), 0, false},
		{"no exp", time.Time{}, time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Claims{ExpiresAt: tt.exp}
			if got := c.ValidAt(now, tt.leeway); got != tt.want {
				t.Errorf("ValidAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUsable(t *testing.T) {
	now := time.Now()
	if Usable("", now, 0) {
		t.Error("empty credential usable")
	}
	if Usable("x.y.z", now, 0) {
		t.Error("garbage credential usable")
	}
	if !Usable(mint(t, "7", now.Add(time.Hour)), now, time.Minute) {
		t.Error("fresh credential not usable")
	}
}
