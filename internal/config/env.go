package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvAPIToken     = "CRMCHAT_API_TOKEN"
	EnvAPIBaseURL   = "CRMCHAT_API_BASE_URL"
	EnvPushKey      = "CRMCHAT_PUSH_KEY"
	EnvPushHost     = "CRMCHAT_PUSH_HOST"
	EnvPushPort     = "CRMCHAT_PUSH_PORT"
	EnvPushTLS      = "CRMCHAT_PUSH_TLS"
	EnvLocale       = "CRMCHAT_LOCALE"
	EnvSessionName  = "CRMCHAT_SESSION"
	EnvHomeOverride = "CRMCHAT_HOME"
)

// ApplyEnv overlays environment variables onto cfg. Files listed in
// envFiles are loaded first when they exist; variables already set in the
// process environment win over them.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvPushKey); v != "" {
		cfg.Push.Key = v
	}
	if v := os.Getenv(EnvPushHost); v != "" {
		cfg.Push.Host = v
	}
	if v := os.Getenv(EnvPushPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPushPort, err)
		}
		cfg.Push.Port = port
	}
	if v := os.Getenv(EnvPushTLS); v != "" {
		tls, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPushTLS, err)
		}
		cfg.Push.TLS = tls
	}
	if v := os.Getenv(EnvLocale); v != "" {
		cfg.Locale = v
	}
	if v := os.Getenv(EnvSessionName); v != "" && cfg.DefaultSession == "" {
		cfg.DefaultSession = v
	}
	return nil
}
