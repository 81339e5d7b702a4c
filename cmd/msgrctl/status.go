package main

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/msgr/internal/control"
	"github.com/matheus3301/msgr/internal/lock"
	"github.com/matheus3301/msgr/internal/profile"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and connection status",
	RunE:  runStatus,
}

type statusReport struct {
	Profile  string `json:"profile"`
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	LoggedIn bool   `json:"logged_in"`
	Open     bool   `json:"open"`
}

func (r statusReport) describe() string {
	switch {
	case !r.Running:
		return "daemon not running"
	case !r.LoggedIn:
		return "logged out"
	case r.Open:
		return "connected"
	default:
		return "connecting"
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	_, name, err := resolve()
	if err != nil {
		return err
	}

	report := statusReport{Profile: name}
	pid, held, err := lock.Inspect(profile.Dir(name))
	if err != nil {
		return err
	}
	report.Running, report.PID = held, pid

	if held {
		c, err := control.Dial(profile.SocketPath(name))
		if err != nil {
			return fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
		}
		defer func() { _ = c.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if report.LoggedIn, err = c.Serving(ctx, control.ServiceSession); err != nil {
			return err
		}
		if report.Open, err = c.Serving(ctx, control.ServiceSync); err != nil {
			return err
		}
	}

	if flagJSON {
		outputJSON(report)
		return nil
	}
	fmt.Printf("Profile: %s\n", report.Profile)
	if report.Running {
		fmt.Printf("PID:     %d\n", report.PID)
	}
	fmt.Printf("Status:  %s\n", report.describe())
	return nil
}
