// Package config implements TOML configuration loading, validation, and
// override resolution for quark-mirror.
//
// Values are layered: built-in defaults, then the config file, then
// environment variables, then CLI flags. Each section of the file maps to
// one struct below.
package config

import "time"

// Config is the top-level configuration.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Share   ShareConfig   `toml:"share"`
	Worker  WorkerConfig  `toml:"worker"`
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
}

// RemoteConfig controls the Quark API endpoints and the session credential.
type RemoteConfig struct {
	BaseURL      string   `toml:"base_url"`
	ShareBaseURL string   `toml:"share_base_url"`
	SaveHosts    []string `toml:"save_hosts"`
	SaveField    string   `toml:"save_field"`
	UseSafeHost  bool     `toml:"use_safe_host"`

	// Cookie is the session cookie. CookieFile, when set, takes precedence
	// over Cookie and is watched for changes by the worker.
	Cookie     string `toml:"cookie"`
	CookieFile string `toml:"cookie_file"`

	HTTPTimeout                  string `toml:"http_timeout"`
	CredentialValidationInterval string `toml:"credential_validation_interval"`
}

// ShareConfig controls share discovery and destination layout.
type ShareConfig struct {
	PageSize           int    `toml:"page_size"`
	VirtualRoot        string `toml:"virtual_root"`
	LargeFileThreshold string `toml:"large_file_threshold"`
	DestPattern        string `toml:"dest_pattern"`
}

// WorkerConfig controls the transfer worker loop.
type WorkerConfig struct {
	Queue        string `toml:"queue"`
	DeadQueue    string `toml:"dead_queue"`
	MaxRetries   int    `toml:"max_retries"`
	Yield        string `toml:"yield"`
	PollInterval string `toml:"poll_interval"`
	NotifyURL    string `toml:"notify_url"`
	MetricsAddr  string `toml:"metrics_addr"`
}

// StoreConfig locates the SQLite database holding records and queues.
type StoreConfig struct {
	DBPath string `toml:"db_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from command-line flags. Empty strings mean
// the flag was not given.
type CLIOverrides struct {
	ConfigPath string
	DBPath     string
}

// Timeout returns the per-request HTTP timeout.
func (r *RemoteConfig) Timeout() time.Duration {
	return durationOrZero(r.HTTPTimeout)
}

// ValidationInterval returns how often the credential is re-checked.
func (r *RemoteConfig) ValidationInterval() time.Duration {
	return durationOrZero(r.CredentialValidationInterval)
}

// LargeFileBytes returns the size above which non-video files are stored.
func (s *ShareConfig) LargeFileBytes() int64 {
	n, err := parseSize(s.LargeFileThreshold)
	if err != nil {
		return 0
	}

	return n
}

// YieldDuration returns the pause between worker iterations.
func (w *WorkerConfig) YieldDuration() time.Duration {
	return durationOrZero(w.Yield)
}

// Poll returns the interval between queue polls while the queue is empty.
func (w *WorkerConfig) Poll() time.Duration {
	return durationOrZero(w.PollInterval)
}

// durationOrZero parses a duration that Validate has already checked.
func durationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
