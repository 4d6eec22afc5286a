package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "QUARK_MIRROR_CONFIG"
	EnvCookie   = "QUARK_COOKIE"
	EnvDBPath   = "QUARK_MIRROR_DB"
	EnvLogLevel = "QUARK_MIRROR_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // QUARK_MIRROR_CONFIG: override config file path
	Cookie     string // QUARK_COOKIE: session cookie
	DBPath     string // QUARK_MIRROR_DB: database path
	LogLevel   string // QUARK_MIRROR_LOG_LEVEL: log level
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// It does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Cookie:     os.Getenv(EnvCookie),
		DBPath:     os.Getenv(EnvDBPath),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
