package profile

import "github.com/matheus3301/msgr/internal/config"

const DefaultName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
func Resolve(flagOverride string) string {
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		cfg = nil
	}
	return ResolveWith(flagOverride, cfg)
}

// ResolveWith is Resolve with an already loaded config, which may be nil.
func ResolveWith(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
