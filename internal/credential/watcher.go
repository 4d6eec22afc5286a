package credential

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ReadFile returns the trimmed contents of a cookie file.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("credential: reading %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// WatchFile reloads the cookie into guard whenever the file at path is
// written or recreated. The parent directory is watched so editors that
// replace the file atomically are still seen. Blocks until ctx is canceled.
func WatchFile(ctx context.Context, path string, guard *Guard, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credential: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("credential: watching %s: %w", filepath.Dir(path), err)
	}

	logger.Info("watching cookie file", slog.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}

			reload(path, guard, logger)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("cookie watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func reload(path string, guard *Guard, logger *slog.Logger) {
	cookie, err := ReadFile(path)
	if err != nil {
		logger.Warn("cookie file unreadable", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	// Truncate-then-write shows up as an empty intermediate file.
	if cookie == "" {
		return
	}

	if current, _ := guard.Cookie(); current == cookie {
		return
	}

	guard.Update(cookie)
}
