package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated TOML
// summary to w. Cookie values are never printed, only their presence.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[remote]\n")
	ew.printf("  base_url                       = %q\n", cfg.Remote.BaseURL)
	ew.printf("  share_base_url                 = %q\n", cfg.Remote.ShareBaseURL)
	ew.printf("  save_hosts                     = %s\n", formatList(cfg.Remote.SaveHosts))
	ew.printf("  save_field                     = %q\n", cfg.Remote.SaveField)
	ew.printf("  use_safe_host                  = %t\n", cfg.Remote.UseSafeHost)
	ew.printf("  cookie                         = %s\n", redact(cfg.Remote.Cookie))
	ew.printf("  cookie_file                    = %q\n", cfg.Remote.CookieFile)
	ew.printf("  http_timeout                   = %q\n", cfg.Remote.HTTPTimeout)
	ew.printf("  credential_validation_interval = %q\n\n", cfg.Remote.CredentialValidationInterval)

	ew.printf("[share]\n")
	ew.printf("  page_size            = %d\n", cfg.Share.PageSize)
	ew.printf("  virtual_root         = %q\n", cfg.Share.VirtualRoot)
	ew.printf("  large_file_threshold = %q\n", cfg.Share.LargeFileThreshold)
	ew.printf("  dest_pattern         = %q\n\n", cfg.Share.DestPattern)

	ew.printf("[worker]\n")
	ew.printf("  queue         = %q\n", cfg.Worker.Queue)
	ew.printf("  dead_queue    = %q\n", cfg.Worker.DeadQueue)
	ew.printf("  max_retries   = %d\n", cfg.Worker.MaxRetries)
	ew.printf("  yield         = %q\n", cfg.Worker.Yield)
	ew.printf("  poll_interval = %q\n", cfg.Worker.PollInterval)
	ew.printf("  notify_url    = %q\n", cfg.Worker.NotifyURL)
	ew.printf("  metrics_addr  = %q\n\n", cfg.Worker.MetricsAddr)

	ew.printf("[store]\n")
	ew.printf("  db_path = %q\n\n", cfg.Store.DBPath)

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format = %q\n", cfg.Logging.LogFormat)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func formatList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return "[" + strings.Join(quoted, ", ") + "]"
}

func redact(secret string) string {
	if secret == "" {
		return `""`
	}

	return fmt.Sprintf("# set (%d chars)", len(secret))
}
