package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/matheus3301/msgr/internal/config"
	"github.com/matheus3301/msgr/internal/profile"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "msgrctl",
	Short:        "Control a msgr profile",
	SilenceUsage: true,
}

var (
	flagProfile string
	flagConfig  string
	flagJSON    bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagProfile, "profile", "", "profile name (overrides config default)")
	flags.StringVar(&flagConfig, "config", "", "config file (default $MSGR_HOME/config.toml)")
	flags.BoolVar(&flagJSON, "json", false, "output in JSON format")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, statusCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolve loads the config and returns it with the validated profile name.
func resolve() (*config.Config, string, error) {
	path := flagConfig
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	name := profile.ResolveWith(flagProfile, cfg)
	if err := profile.ValidateName(name); err != nil {
		return nil, "", err
	}
	return cfg, name, nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
