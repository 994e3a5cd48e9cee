package logging

import (
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// ApplyEnv overlays LOG_LEVEL, LOG_FORMAT, ENVIRONMENT and LOG_ADD_SOURCE on
// top of config.
func ApplyEnv(config Config) Config {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}

	envSet := false
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
		envSet = true
	}

	addSource := os.Getenv("LOG_ADD_SOURCE")
	if addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	if !envSet {
		return config
	}

	switch config.Environment {
	case EnvProduction:
		if os.Getenv("LOG_FORMAT") == "" {
			config.Format = "json"
		}
		if addSource == "" {
			config.AddSource = false
		}
	case EnvTest:
		if os.Getenv("LOG_FORMAT") == "" {
			config.Format = "text"
		}
		if os.Getenv("LOG_LEVEL") == "" {
			config.Level = "debug"
		}
	case EnvDevelopment:
		if os.Getenv("LOG_FORMAT") == "" {
			config.Format = "text"
		}
		if os.Getenv("LOG_LEVEL") == "" {
			config.Level = "debug"
		}
		if addSource == "" {
			config.AddSource = true
		}
	}

	return config
}
