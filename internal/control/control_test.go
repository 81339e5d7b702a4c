package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/msgr/internal/bus"
	"github.com/matheus3301/msgr/internal/status"
	"go.uber.org/zap"
)

func startServer(t *testing.T) (*status.Machine, *Client) {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "msgr-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	socketPath := filepath.Join(tmpDir, "d.sock")

	b := bus.New()
	machine := status.NewMachine(b)
	logger, _ := zap.NewDevelopment()
	srv, err := NewServer(socketPath, b, logger)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return machine, client
}

func waitServing(t *testing.T, c *Client, service string, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		got, err := c.Serving(ctx, service)
		cancel()
		if err == nil && got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s serving = %v (err %v), want %v", service, got, err, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthFollowsStatus(t *testing.T) {
	machine, client := startServer(t)

	waitServing(t, client, ServiceSync, false)

	_ = machine.Transition(status.Connecting)
	_ = machine.Transition(status.Open)
	waitServing(t, client, ServiceSync, true)
	waitServing(t, client, ServiceSession, true)

	_ = machine.Transition(status.Reconnecting)
	waitServing(t, client, ServiceSync, false)

	_ = machine.Transition(status.LoggedOut)
	waitServing(t, client, ServiceSession, false)
}

func TestStaleSocketReplaced(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "msgr-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	socketPath := filepath.Join(tmpDir, "d.sock")
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(socketPath, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() over stale socket error = %v", err)
	}
	go func() { _ = srv.Start() }()
	srv.Stop(context.Background())

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed on stop: %v", err)
	}
}
