package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tonimelisma/quark-mirror/internal/config"
	"github.com/tonimelisma/quark-mirror/internal/credential"
	"github.com/tonimelisma/quark-mirror/internal/quark"
	"github.com/tonimelisma/quark-mirror/internal/share"
	"github.com/tonimelisma/quark-mirror/internal/store"
	"github.com/tonimelisma/quark-mirror/internal/transfer"
)

// dataDirPermissions is the mode for the database directory.
const dataDirPermissions = 0o700

// app bundles the long-lived collaborators every command shares.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpClient *http.Client

	db      *sql.DB
	records *store.MediaStore
	queue   *store.Queue

	guard   *credential.Guard
	client  *quark.Client
	service *transfer.Service
}

// openApp opens the database and builds the remote client with its
// credential guard. The caller must Close the app.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	cfg, logger := cc.Cfg, cc.Logger

	cookie, err := loadCookie(&cfg.Remote)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := store.Open(ctx, cfg.Store.DBPath, logger)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Remote.Timeout()}
	guard := credential.NewGuard(cookie, cfg.Remote.ValidationInterval(), nil, logger)

	client := quark.NewClient(quark.Options{
		BaseURL:      cfg.Remote.BaseURL,
		ShareBaseURL: cfg.Remote.ShareBaseURL,
		SaveHosts:    cfg.Remote.SaveHosts,
		SaveField:    cfg.Remote.SaveField,
		UseSafeHost:  cfg.Remote.UseSafeHost,
	}, httpClient, guard, logger)

	guard.SetValidator(func(ctx context.Context) error {
		_, err := client.FetchConfig(ctx)
		return err
	})

	records := store.NewMediaStore(db, logger)
	queue := store.NewQueue(db, cfg.Worker.Poll(), logger)

	service := transfer.NewService(transfer.ServiceConfig{
		QueueList:      cfg.Worker.Queue,
		DeadList:       cfg.Worker.DeadQueue,
		VirtualRoot:    cfg.Share.VirtualRoot,
		LargeFileBytes: cfg.Share.LargeFileBytes(),
	}, records, queue, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		httpClient: httpClient,
		db:         db,
		records:    records,
		queue:      queue,
		guard:      guard,
		client:     client,
		service:    service,
	}, nil
}

// resolver returns a share resolver over the app's client.
func (a *app) resolver() *share.Resolver {
	return share.NewResolver(a.client, a.cfg.Share.PageSize, a.logger)
}

// Close releases the database.
func (a *app) Close() error {
	return a.db.Close()
}

// loadCookie returns the cookie from cookie_file when set, else the inline
// cookie. A missing cookie is not an error here; the guard reports it.
func loadCookie(rc *config.RemoteConfig) (string, error) {
	if rc.CookieFile == "" {
		return rc.Cookie, nil
	}

	cookie, err := credential.ReadFile(rc.CookieFile)
	if err != nil {
		return "", err
	}

	return cookie, nil
}
