package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	maxPageSize           = 200
	minHTTPTimeout        = 1 * time.Second
	minValidationInterval = 1 * time.Minute
	minQueuePoll          = 10 * time.Millisecond
	maxRetriesUpperBound  = 100
	titlePlaceholder      = "{title}"
	notifySchemesReadable = "http, https, ws, wss"
	remoteSchemesReadable = "http, https"
)

var (
	remoteSchemes = map[string]bool{"http": true, "https": true}
	notifySchemes = map[string]bool{"http": true, "https": true, "ws": true, "wss": true}
)

// Validate checks all configuration values and returns every error found,
// joined, so a user can fix the whole file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateShare(&cfg.Share)...)
	errs = append(errs, validateWorker(&cfg.Worker)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	errs = append(errs, validateURL("remote.base_url", r.BaseURL, remoteSchemes, remoteSchemesReadable, true)...)
	errs = append(errs, validateURL("remote.share_base_url", r.ShareBaseURL, remoteSchemes, remoteSchemesReadable, true)...)

	for i, h := range r.SaveHosts {
		if strings.TrimSpace(h) == "" {
			errs = append(errs, fmt.Errorf("remote.save_hosts[%d]: must not be empty", i))
		}
	}

	if strings.TrimSpace(r.SaveField) == "" {
		errs = append(errs, errors.New("remote.save_field: must not be empty"))
	}

	errs = append(errs, validateDurationMin("remote.http_timeout", r.HTTPTimeout, minHTTPTimeout)...)
	errs = append(errs, validateDurationMin(
		"remote.credential_validation_interval", r.CredentialValidationInterval, minValidationInterval)...)

	return errs
}

func validateShare(s *ShareConfig) []error {
	var errs []error

	if s.PageSize < 1 || s.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("share.page_size: must be between 1 and %d, got %d", maxPageSize, s.PageSize))
	}

	if !strings.HasPrefix(s.VirtualRoot, "/") {
		errs = append(errs, fmt.Errorf("share.virtual_root: must be an absolute path, got %q", s.VirtualRoot))
	}

	if _, err := parseSize(s.LargeFileThreshold); err != nil {
		errs = append(errs, fmt.Errorf("share.large_file_threshold: %w", err))
	}

	if !strings.HasPrefix(s.DestPattern, "/") {
		errs = append(errs, fmt.Errorf("share.dest_pattern: must be an absolute path, got %q", s.DestPattern))
	} else if !strings.Contains(s.DestPattern, titlePlaceholder) {
		errs = append(errs, fmt.Errorf("share.dest_pattern: must contain %s", titlePlaceholder))
	}

	return errs
}

func validateWorker(w *WorkerConfig) []error {
	var errs []error

	if w.Queue == "" {
		errs = append(errs, errors.New("worker.queue: must not be empty"))
	}

	if w.DeadQueue == "" {
		errs = append(errs, errors.New("worker.dead_queue: must not be empty"))
	}

	if w.Queue != "" && w.Queue == w.DeadQueue {
		errs = append(errs, fmt.Errorf("worker.dead_queue: must differ from worker.queue (%q)", w.Queue))
	}

	if w.MaxRetries < 0 || w.MaxRetries > maxRetriesUpperBound {
		errs = append(errs, fmt.Errorf("worker.max_retries: must be between 0 and %d, got %d",
			maxRetriesUpperBound, w.MaxRetries))
	}

	errs = append(errs, validateDurationMin("worker.yield", w.Yield, 0)...)
	errs = append(errs, validateDurationMin("worker.poll_interval", w.PollInterval, minQueuePoll)...)
	errs = append(errs, validateURL("worker.notify_url", w.NotifyURL, notifySchemes, notifySchemesReadable, false)...)

	return errs
}

func validateStore(s *StoreConfig) []error {
	if strings.TrimSpace(s.DBPath) == "" {
		return []error{errors.New("store.db_path: must not be empty")}
	}

	return nil
}

// validateDurationMin checks that a duration string parses and meets a minimum.
func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateURL(field, value string, schemes map[string]bool, readable string, required bool) []error {
	if value == "" {
		if required {
			return []error{fmt.Errorf("%s: must not be empty", field)}
		}

		return nil
	}

	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if !schemes[strings.ToLower(u.Scheme)] || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute %s URL, got %q", field, readable, value)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
