package config

import "path/filepath"

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file.
const (
	defaultBaseURL            = "https://drive.quark.cn"
	defaultShareBaseURL       = "https://drive-h.quark.cn"
	defaultSaveField          = "fid_list"
	defaultHTTPTimeout        = "30s"
	defaultValidationInterval = "1h"
	defaultPageSize           = 200
	defaultVirtualRoot        = "/Movies"
	defaultLargeFileThreshold = "1GiB"
	defaultDestPattern        = "/QuarkMedia/{type}/{year}/{title}({year})"
	defaultQueue              = "queue:transfer"
	defaultDeadQueue          = "queue:transfer:dead"
	defaultMaxRetries         = 3
	defaultYield              = "100ms"
	defaultQueuePoll          = "500ms"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	dbFileName                = "quark-mirror.db"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:                      defaultBaseURL,
			ShareBaseURL:                 defaultShareBaseURL,
			SaveField:                    defaultSaveField,
			UseSafeHost:                  true,
			HTTPTimeout:                  defaultHTTPTimeout,
			CredentialValidationInterval: defaultValidationInterval,
		},
		Share: ShareConfig{
			PageSize:           defaultPageSize,
			VirtualRoot:        defaultVirtualRoot,
			LargeFileThreshold: defaultLargeFileThreshold,
			DestPattern:        defaultDestPattern,
		},
		Worker: WorkerConfig{
			Queue:        defaultQueue,
			DeadQueue:    defaultDeadQueue,
			MaxRetries:   defaultMaxRetries,
			Yield:        defaultYield,
			PollInterval: defaultQueuePoll,
		},
		Store: StoreConfig{
			DBPath: DefaultDBPath(),
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

// DefaultDBPath returns the database path inside the platform data
// directory, or a relative file name when no home directory is known.
func DefaultDBPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return dbFileName
	}

	return filepath.Join(dir, dbFileName)
}
