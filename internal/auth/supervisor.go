// Package auth keeps the session credential valid: it renews the access
// credential before use, coalesces concurrent renewals and ends the session
// when the server rejects the refresh credential.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/msgr/internal/bus"
	"github.com/matheus3301/msgr/internal/store"
	"github.com/matheus3301/msgr/internal/token"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionEnded means the user must log in again.
	ErrSessionEnded = errors.New("session ended")
	// ErrRejected is returned by an Issuer when the server refuses the
	// presented credential outright.
	ErrRejected = errors.New("credential rejected")
	// ErrNotLoggedIn is returned when no access credential is stored.
	ErrNotLoggedIn = errors.New("not logged in")
)

// Session event kinds published on the bus.
const (
	KindSessionStarted = bus.NamespaceSession + "started"
	KindSessionEnded   = bus.NamespaceSession + "ended"
)

// SessionEnded is the payload of KindSessionEnded.
type SessionEnded struct {
	Reason string
}

// CredentialStore persists the credential pair.
type CredentialStore interface {
	LoadCredentials(ctx context.Context) (store.Credentials, error)
	SaveCredentials(ctx context.Context, c store.Credentials) error
	ClearCredentials(ctx context.Context) error
}

// Issuer talks to the server's credential endpoints.
type Issuer interface {
	Refresh(ctx context.Context, refresh string) (token.Pair, error)
	Login(ctx context.Context, username, password string) (token.Pair, error)
}

// Supervisor owns the session lifecycle. The store is read on every call.
type Supervisor struct {
	store  CredentialStore
	issuer Issuer
	bus    *bus.Bus
	leeway time.Duration
	logger *zap.Logger
	flight singleflight.Group
	now    func() time.Time
}

// NewSupervisor creates a Supervisor. Access credentials expiring within
// leeway are renewed before use.
func NewSupervisor(st CredentialStore, issuer Issuer, b *bus.Bus, leeway time.Duration, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		store:  st,
		issuer: issuer,
		bus:    b,
		leeway: leeway,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureValid returns an access credential that is valid for at least the
// configured leeway, renewing it if needed.
func (s *Supervisor) EnsureValid(ctx context.Context) (string, error) {
	creds, err := s.store.LoadCredentials(ctx)
	if err != nil {
		return "", err
	}
	if token.Usable(creds.Access, s.now(), s.leeway) {
		return creds.Access, nil
	}
	return s.exchange(ctx, creds.Access)
}

// Refresh renews the access credential regardless of its expiry, for use
// after the server refused the current one.
func (s *Supervisor) Refresh(ctx context.Context) (string, error) {
	creds, err := s.store.LoadCredentials(ctx)
	if err != nil {
		return "", err
	}
	return s.exchange(ctx, creds.Access)
}

// exchange renews the credential pair. Concurrent callers share one
// in-flight exchange. stale is the access credential the caller found
// unusable; a different usable one in the store is returned as is.
func (s *Supervisor) exchange(ctx context.Context, stale string) (string, error) {
	ch := s.flight.DoChan("refresh", func() (any, error) {
		return s.doExchange(context.WithoutCancel(ctx), stale)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Supervisor) doExchange(ctx context.Context, stale string) (string, error) {
	creds, err := s.store.LoadCredentials(ctx)
	if err != nil {
		return "", err
	}
	if creds.Access != stale && token.Usable(creds.Access, s.now(), s.leeway) {
		return creds.Access, nil
	}
	if creds.Refresh == "" {
		s.end(ctx, "no refresh credential")
		return "", ErrSessionEnded
	}

	pair, err := s.issuer.Refresh(ctx, creds.Refresh)
	if errors.Is(err, ErrRejected) {
		s.end(ctx, "refresh credential rejected")
		return "", ErrSessionEnded
	}
	if err != nil {
		s.logger.Warn("credential refresh failed", zap.Error(err))
		return "", fmt.Errorf("refresh credential: %w", err)
	}
	if pair.Access == "" {
		return "", errors.New("refresh credential: issuer returned no access credential")
	}
	if pair.Refresh == "" {
		pair.Refresh = creds.Refresh
	}

	if err := s.store.SaveCredentials(ctx, store.Credentials{Access: pair.Access, Refresh: pair.Refresh}); err != nil {
		return "", fmt.Errorf("save credentials: %w", err)
	}
	s.logger.Info("credential refreshed")
	return pair.Access, nil
}

// Login exchanges a username and password for a credential pair.
func (s *Supervisor) Login(ctx context.Context, username, password string) error {
	pair, err := s.issuer.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		return errors.New("login: issuer returned an incomplete credential pair")
	}
	if err := s.store.SaveCredentials(ctx, store.Credentials{Access: pair.Access, Refresh: pair.Refresh}); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	s.logger.Info("logged in", zap.String("username", username))
	s.publish(KindSessionStarted, nil)
	return nil
}

// Logout clears the stored credentials and ends the session.
func (s *Supervisor) Logout(ctx context.Context) error {
	if err := s.store.ClearCredentials(ctx); err != nil {
		return err
	}
	s.logger.Info("logged out")
	s.publish(KindSessionEnded, SessionEnded{Reason: "logout"})
	return nil
}

// Subject returns the numeric user id of the stored access credential.
// Expiry is not checked.
func (s *Supervisor) Subject(ctx context.Context) (int64, error) {
	creds, err := s.store.LoadCredentials(ctx)
	if err != nil {
		return 0, err
	}
	if creds.Access == "" {
		return 0, ErrNotLoggedIn
	}
	c, err := token.Parse(creds.Access)
	if err != nil {
		return 0, err
	}
	return c.UserID, nil
}

func (s *Supervisor) end(ctx context.Context, reason string) {
	if err := s.store.ClearCredentials(ctx); err != nil {
		s.logger.Error("clear credentials", zap.Error(err))
	}
	s.logger.Warn("session ended", zap.String("reason", reason))
	s.publish(KindSessionEnded, SessionEnded{Reason: reason})
}

func (s *Supervisor) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Emit(kind, payload)
	}
}

// LoggedIn reports whether a refresh credential is stored.
func (s *Supervisor) LoggedIn(ctx context.Context) (bool, error) {
	creds, err := s.store.LoadCredentials(ctx)
	if err != nil {
		return false, err
	}
	return creds.Refresh != "", nil
}
