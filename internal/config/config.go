package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for QuizForge.
type Config struct {
	DatabaseURL         string
	SecretKey           string
	AllowedOrigins      []string
	RegistrationEnabled bool
	HostLANIP           string
	Port                int
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/quizforge). The signing
// key has no default: a missing key is a startup failure.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         viper.GetString("database_url"),
		SecretKey:           viper.GetString("secret_key"),
		RegistrationEnabled: viper.GetBool("registration_enabled"),
		HostLANIP:           viper.GetString("host_lan_ip"),
		Port:                viper.GetInt("port"),
	}
	for _, origin := range strings.Split(viper.GetString("allowed_origins"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("QUIZFORGE_SECRET_KEY is required")
	}
	return cfg, nil
}
