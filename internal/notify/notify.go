// Package notify tells a downstream file-listing service that the mirrored
// tree changed so it can drop its cached listing.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// DefaultTimeout bounds a single notification.
const DefaultTimeout = 10 * time.Second

// ErrUnsupportedScheme is returned by New for URLs that are neither HTTP
// nor websocket.
var ErrUnsupportedScheme = errors.New("notify: unsupported URL scheme")

// Invalidation is the message sent downstream.
type Invalidation struct {
	Path string `json:"path"`
}

// Notifier delivers cache invalidations. The zero URL disables it.
type Notifier struct {
	endpoint string
	ws       bool
	client   *http.Client
	logger   *slog.Logger
}

// New creates a Notifier for endpoint. http(s) endpoints receive a JSON
// POST; ws(s) endpoints receive one JSON text message per notification. An
// empty endpoint yields a Notifier whose Notify does nothing.
func New(endpoint string, client *http.Client, logger *slog.Logger) (*Notifier, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	if logger == nil {
		logger = slog.Default()
	}

	n := &Notifier{endpoint: endpoint, client: client, logger: logger}
	if endpoint == "" {
		return n, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("notify: parsing %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "http", "https":
	case "ws", "wss":
		n.ws = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	return n, nil
}

// Enabled reports whether notifications are sent anywhere.
func (n *Notifier) Enabled() bool {
	return n != nil && n.endpoint != ""
}

// Notify sends an invalidation for path. Callers treat failure as
// non-fatal.
func (n *Notifier) Notify(ctx context.Context, path string) error {
	if !n.Enabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	msg := Invalidation{Path: path}

	var err error
	if n.ws {
		err = n.sendWebsocket(ctx, msg)
	} else {
		err = n.post(ctx, msg)
	}

	if err != nil {
		return err
	}

	n.logger.Debug("cache invalidation sent", slog.String("path", path))

	return nil
}

func (n *Notifier) post(ctx context.Context, msg Invalidation) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: posting to %s: %w", n.endpoint, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: %s returned HTTP %d", n.endpoint, resp.StatusCode)
	}

	return nil
}

func (n *Notifier) sendWebsocket(ctx context.Context, msg Invalidation) error {
	conn, _, err := websocket.Dial(ctx, n.endpoint, &websocket.DialOptions{HTTPClient: n.client})
	if err != nil {
		return fmt.Errorf("notify: dialing %s: %w", n.endpoint, err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("notify: writing to %s: %w", n.endpoint, err)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		n.logger.Debug("websocket close failed", slog.String("error", err.Error()))
	}

	return nil
}
