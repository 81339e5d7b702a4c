package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/msgr/internal/config"
	"github.com/matheus3301/msgr/internal/daemon"
	"github.com/matheus3301/msgr/internal/profile"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var rootCmd = &cobra.Command{
	Use:          "msgrd",
	Short:        "Chat sync daemon for one profile",
	SilenceUsage: true,
	RunE:         runDaemon,
}

var (
	flagProfile string
	flagConfig  string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagProfile, "profile", "", "profile name (overrides config default)")
	flags.StringVar(&flagConfig, "config", "", "config file (default $MSGR_HOME/config.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(_ *cobra.Command, _ []string) error {
	path := flagConfig
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	name := profile.ResolveWith(flagProfile, cfg)
	if err := profile.ValidateName(name); err != nil {
		return err
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, Config: cfg}),
	)
	app.Run()
	return nil
}
