package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// EnvToken overrides telegram.token when set.
	EnvToken = "RELAYBOT_TOKEN"
	// EnvDebugToken overrides debug.token when set.
	EnvDebugToken = "RELAYBOT_DEBUG_TOKEN"
)

// LoadEnv reads KEY=VALUE pairs from path (a missing file is not an error)
// and overlays the process environment on top.
func LoadEnv(path string) (map[string]string, error) {
	env := map[string]string{}
	if p := strings.TrimSpace(path); p != "" {
		m, err := godotenv.Read(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		for k, v := range m {
			env[k] = v
		}
	}
	for _, k := range []string{EnvToken, EnvDebugToken} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

func applyEnv(cfg *Config, env map[string]string) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(env[EnvToken]); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(env[EnvDebugToken]); v != "" {
		cfg.Debug.Token = v
	}
}
