package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/msgr/internal/auth"
	"github.com/matheus3301/msgr/internal/config"
	"github.com/matheus3301/msgr/internal/profile"
	"github.com/matheus3301/msgr/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	flagUsername      string
	flagPasswordStdin bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session for the profile",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the user id of the stored session",
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&flagUsername, "username", "u", "", "account username")
	loginCmd.Flags().BoolVar(&flagPasswordStdin, "password-stdin", false, "read the password from stdin")
	_ = loginCmd.MarkFlagRequired("username")
}

// openSupervisor opens the profile's credential store directly. The
// daemon, if running, picks up the change on its next read.
func openSupervisor(cfg *config.Config, name string) (*auth.Supervisor, *store.DB, error) {
	if err := profile.EnsureDir(name); err != nil {
		return nil, nil, err
	}
	db, err := store.OpenMigrated(profile.DBPath(name))
	if err != nil {
		return nil, nil, err
	}
	srv := cfg.Server
	issuer := auth.NewHTTPIssuer(srv.BaseURL, srv.LoginPath, srv.RefreshPath, srv.RequestTimeout.Duration)
	return auth.NewSupervisor(db, issuer, nil, cfg.Sync.RefreshLeeway.Duration, nil), db, nil
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !flagPasswordStdin && term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cfg, name, err := resolve()
	if err != nil {
		return err
	}
	password, err := readPassword()
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("empty password")
	}

	sup, db, err := openSupervisor(cfg, name)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := sup.Login(ctx, flagUsername, password); err != nil {
		if errors.Is(err, auth.ErrRejected) {
			return errors.New("login refused: wrong username or password")
		}
		return err
	}
	fmt.Printf("Logged in as %s (profile %s)\n", flagUsername, name)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cfg, name, err := resolve()
	if err != nil {
		return err
	}
	sup, db, err := openSupervisor(cfg, name)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := sup.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Logged out (profile %s)\n", name)
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cfg, name, err := resolve()
	if err != nil {
		return err
	}
	sup, db, err := openSupervisor(cfg, name)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	id, err := sup.Subject(cmd.Context())
	if errors.Is(err, auth.ErrNotLoggedIn) {
		return fmt.Errorf("profile %s is not logged in", name)
	}
	if err != nil {
		return err
	}
	if flagJSON {
		outputJSON(map[string]any{"profile": name, "user_id": id})
		return nil
	}
	fmt.Printf("Profile: %s\n", name)
	fmt.Printf("User ID: %d\n", id)
	return nil
}
