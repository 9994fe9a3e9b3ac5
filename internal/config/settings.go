// Package config loads the tool's own settings: which daemon to talk to,
// where state lives and how patient to be with the daemon.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/picklr-io/dockstate/internal/state"
)

// DefaultFile is the settings file looked up in the working directory.
const DefaultFile = ".dockstate.yaml"

const envPrefix = "DOCKSTATE_"

// Settings configures a run.
type Settings struct {
	LogLevel string        `yaml:"log_level"`
	Daemon   string        `yaml:"daemon"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  *int          `yaml:"retries"`
	State    state.Config  `yaml:"state"`
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() Settings {
	retries := 2
	return Settings{
		LogLevel: "info",
		Daemon:   "docker",
		Timeout:  30 * time.Second,
		Retries:  &retries,
		State:    state.Config{Type: "local"},
	}
}

// Load reads the settings file at path, then applies the .env file and
// DOCKSTATE_* environment overrides. A missing file is not an error unless
// it was named explicitly.
func Load(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	var s Settings
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	// Existing environment variables win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := s.applyEnv(); err != nil {
		return nil, err
	}

	if err := mergo.Merge(&s, Defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply default settings: %w", err)
	}
	return &s, nil
}

func (s *Settings) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	str("LOG_LEVEL", &s.LogLevel)
	str("DAEMON", &s.Daemon)
	str("STATE_TYPE", &s.State.Type)
	str("STATE_PATH", &s.State.Path)
	str("STATE_BUCKET", &s.State.Bucket)
	str("STATE_KEY", &s.State.Key)
	str("STATE_REGION", &s.State.Region)
	str("STATE_PROFILE", &s.State.Profile)

	if v, ok := os.LookupEnv(envPrefix + "TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sTIMEOUT %q: %w", envPrefix, v, err)
		}
		s.Timeout = d
	}
	if v, ok := os.LookupEnv(envPrefix + "RETRIES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return fmt.Errorf("invalid %sRETRIES %q", envPrefix, v)
		}
		s.Retries = &n
	}
	return nil
}

// RetryCount returns the configured retry count.
func (s *Settings) RetryCount() int {
	if s.Retries == nil {
		return *Defaults().Retries
	}
	return *s.Retries
}
