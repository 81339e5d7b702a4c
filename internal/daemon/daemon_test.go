package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/msgr/internal/auth"
	"github.com/matheus3301/msgr/internal/config"
	"github.com/matheus3301/msgr/internal/control"
	"github.com/matheus3301/msgr/internal/lock"
	"github.com/matheus3301/msgr/internal/profile"
	"github.com/matheus3301/msgr/internal/status"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

type fakeRunner struct {
	calls atomic.Int32
	// results are returned in order; once exhausted Run blocks until ctx ends.
	results []error
}

func (r *fakeRunner) Run(ctx context.Context) error {
	n := int(r.calls.Add(1))
	if n <= len(r.results) {
		return r.results[n-1]
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeChecker struct {
	checks  atomic.Int32
	loginAt int32
}

func (c *fakeChecker) LoggedIn(context.Context) (bool, error) {
	return c.checks.Add(1) >= c.loginAt, nil
}

func TestSessionLoopWaitsForLogin(t *testing.T) {
	r := &fakeRunner{results: []error{auth.ErrSessionEnded}}
	c := &fakeChecker{loginAt: 3}
	loop := &sessionLoop{runner: r, session: c, poll: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- loop.run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("runner was not restarted after login")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.checks.Load(); got < 3 {
		t.Errorf("checks = %d, want >= 3", got)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("run() error = %v, want context.Canceled", err)
	}
}

func TestSessionLoopReturnsOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	loop := &sessionLoop{runner: &fakeRunner{results: []error{boom}}, session: &fakeChecker{}}
	if err := loop.run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("run() error = %v, want %v", err, boom)
	}
}

func TestSessionLoopStopsWhileWaiting(t *testing.T) {
	r := &fakeRunner{results: []error{auth.ErrSessionEnded}}
	loop := &sessionLoop{runner: r, session: &fakeChecker{loginAt: 1 << 30}, poll: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := loop.run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("run() error = %v, want DeadlineExceeded", err)
	}
	if got := r.calls.Load(); got != 1 {
		t.Errorf("runner calls = %d, want 1", got)
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	p := Params{Profile: "fxtest", Config: config.Default()}
	if err := fx.ValidateApp(Module(p)); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to stay under the Unix socket path limit.
	home, err := os.MkdirTemp("/tmp", "msgr-d-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(home) }()
	t.Setenv(profile.HomeEnv, home)

	cfg := config.Default()
	// Nothing listens here; with no stored session the daemon must not dial.
	cfg.Server.BaseURL = "http://127.0.0.1:1"
	cfg.Server.WebSocketURL = "ws://127.0.0.1:1/ws"
	cfg.Log.Level = "warn"

	socketPath := filepath.Join(home, "d.sock")
	var machine *status.Machine
	app := fxtest.New(t,
		Module(Params{Profile: "t", SocketPath: socketPath, Config: cfg}),
		fx.Populate(&machine),
	)
	app.RequireStart()

	deadline := time.Now().Add(3 * time.Second)
	for machine.Current() != status.LoggedOut {
		if time.Now().After(deadline) {
			t.Fatalf("status = %v, want LoggedOut", machine.Current())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, held, err := lock.Inspect(profile.Dir("t")); err != nil || !held {
		t.Errorf("Inspect() held = %v, err = %v; want lock held while running", held, err)
	}

	cli, err := control.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	// Health follows the bus asynchronously.
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		serving, err := cli.Serving(ctx, control.ServiceSession)
		cancel()
		if err != nil {
			t.Fatalf("Serving() error = %v", err)
		}
		if !serving {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session service SERVING without a stored session")
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = cli.Close()

	app.RequireStop()

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	if _, held, _ := lock.Inspect(profile.Dir("t")); held {
		t.Error("lock still held after stop")
	}
	if _, err := os.Stat(profile.DBPath("t")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}
