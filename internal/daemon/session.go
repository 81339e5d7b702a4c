package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/msgr/internal/auth"
	"go.uber.org/zap"
)

const defaultLoginPoll = 2 * time.Second

type runner interface {
	Run(ctx context.Context) error
}

type sessionChecker interface {
	LoggedIn(ctx context.Context) (bool, error)
}

// sessionLoop keeps the client running across logouts. While no session
// is stored it polls the store, which msgrctl login writes directly.
type sessionLoop struct {
	runner  runner
	session sessionChecker
	poll    time.Duration
	logger  *zap.Logger
}

func (l *sessionLoop) run(ctx context.Context) error {
	poll := l.poll
	if poll <= 0 {
		poll = defaultLoginPoll
	}
	logger := l.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for {
		err := l.runner.Run(ctx)
		if !errors.Is(err, auth.ErrSessionEnded) {
			return err
		}
		logger.Info("no session, waiting for login")
		if err := l.waitForLogin(ctx, poll, logger); err != nil {
			return err
		}
		logger.Info("session found, connecting")
	}
}

func (l *sessionLoop) waitForLogin(ctx context.Context, poll time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		ok, err := l.session.LoggedIn(ctx)
		if err != nil {
			logger.Warn("check session", zap.Error(err))
			continue
		}
		if ok {
			return nil
		}
	}
}
