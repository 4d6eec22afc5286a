package quark

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
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Default endpoints and retry constants.
const (
	DefaultBaseURL      = "https://drive.quark.cn"
	DefaultShareBaseURL = "https://drive-h.quark.cn"
	DefaultSaveField    = "fid_list"

	webOrigin   = "https://pan.quark.cn"
	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) quark-cloud-drive/2.5.20 Chrome/100.0.4896.160 Electron/18.3.5.4-b478491100 Safari/537.36 Channel/pckk_other_ch"
	maxAttempts = 3
	backoffBase = 1 * time.Second
	backoffCap  = 8 // multiples of the base
	maxBodySize = 8 << 20
)

// CookieSource provides the session cookie for every request. Defined at
// the consumer (quark package) so the credential guard can satisfy it.
type CookieSource interface {
	Cookie() (string, error)
}

// Options tunes endpoints and the share save fallback order. Zero values
// select the defaults.
type Options struct {
	BaseURL      string
	ShareBaseURL string

	// SaveHosts are tried before the safe host and the defaults.
	SaveHosts []string
	// SaveField is the save token field name tried first on the direct endpoint.
	SaveField string
	// UseSafeHost adds the share_safe_host from FetchConfig to the host list.
	UseSafeHost bool

	// BackoffBase is the first retry delay; it doubles up to 8x.
	BackoffBase time.Duration
}

// Client is an HTTP client for the Quark drive API. It handles request
// construction, cookie authentication, retry with exponential backoff on
// network failures, and error classification.
type Client struct {
	baseURL      string
	shareBaseURL string
	saveHosts    []string
	saveField    string
	useSafeHost  bool
	backoffBase  time.Duration

	httpClient *http.Client
	cookies    CookieSource
	logger     *slog.Logger
	nowFunc    func() time.Time

	safeHostMu     sync.Mutex
	safeHost       string
	safeHostLoaded bool
}

// NewClient creates a Quark API client. The http.Client's Timeout bounds
// every single request; timeouts are classified as network failures.
func NewClient(opts Options, httpClient *http.Client, cookies CookieSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:      DefaultBaseURL,
		shareBaseURL: DefaultShareBaseURL,
		saveField:    DefaultSaveField,
		useSafeHost:  opts.UseSafeHost,
		backoffBase:  backoffBase,
		httpClient:   httpClient,
		cookies:      cookies,
		logger:       logger,
		nowFunc:      time.Now,
	}

	if opts.BaseURL != "" {
		c.baseURL = normalizeHost(opts.BaseURL)
	}

	if opts.ShareBaseURL != "" {
		c.shareBaseURL = normalizeHost(opts.ShareBaseURL)
	}

	if opts.SaveField != "" {
		c.saveField = opts.SaveField
	}

	if opts.BackoffBase > 0 {
		c.backoffBase = opts.BackoffBase
	}

	for _, h := range opts.SaveHosts {
		if h = normalizeHost(h); h != "" {
			c.saveHosts = append(c.saveHosts, h)
		}
	}

	return c
}

// response is a completed HTTP exchange. Every status code yields a
// response; only transport failures are errors.
type response struct {
	StatusCode int
	Body       []byte
	Env        envelope
	Decoded    bool
}

// requestSpec describes one API call.
type requestSpec struct {
	op     string
	method string
	url    string
	query  url.Values
	body   any
}

// FetchConfig returns the account configuration. It is the cheapest
// authenticated call and doubles as a credential check.
func (c *Client) FetchConfig(ctx context.Context) (*Config, error) {
	const op = "fetch config"

	env, err := c.call(ctx, requestSpec{
		op: op, method: http.MethodGet, url: c.baseURL + "/1/clouddrive/config", query: c.baseParams(),
	})
	if err != nil {
		return nil, err
	}

	cfg := &Config{Raw: map[string]any{}}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &cfg.Raw); err != nil {
			return nil, apiError(op, http.StatusOK, 0, "decoding config: "+err.Error())
		}
	}

	return cfg, nil
}

// safeShareHost returns the share_safe_host, fetching it once. Failures are
// logged and memoized as "no safe host".
func (c *Client) safeShareHost(ctx context.Context) string {
	c.safeHostMu.Lock()
	defer c.safeHostMu.Unlock()

	if c.safeHostLoaded {
		return c.safeHost
	}

	cfg, err := c.FetchConfig(ctx)
	if err != nil {
		c.logger.Warn("share safe host unavailable", slog.String("error", err.Error()))
	} else {
		c.safeHost = cfg.ShareSafeHost()
	}

	c.safeHostLoaded = true

	return c.safeHost
}

// call sends a request and requires a 2xx status with an OK envelope.
// Login-required messages and HTTP 401 become auth errors; everything else
// becomes an API error.
func (c *Client) call(ctx context.Context, rs requestSpec) (*envelope, error) {
	resp, err := c.send(ctx, rs)
	if err != nil {
		return nil, err
	}

	if err := resp.check(rs.op); err != nil {
		return nil, err
	}

	return &resp.Env, nil
}

// check converts a non-successful response into a classified error.
func (r *response) check(op string) error {
	msg := r.message()

	if r.StatusCode == http.StatusUnauthorized || isLoginRequired(msg) {
		return &Error{Op: op, StatusCode: r.StatusCode, Code: r.Env.Code.Value, Message: msg, Err: ErrAuth}
	}

	if r.StatusCode < http.StatusOK || r.StatusCode >= http.StatusMultipleChoices {
		return apiError(op, r.StatusCode, r.Env.Code.Value, msg)
	}

	if !r.Decoded {
		return apiError(op, r.StatusCode, 0, "expected JSON response body")
	}

	if !r.Env.ok() {
		return apiError(op, r.StatusCode, r.Env.Code.Value, msg)
	}

	return nil
}

// message returns the envelope message, or a body excerpt when the body
// was not JSON.
func (r *response) message() string {
	if r.Decoded {
		return r.Env.message()
	}

	const maxExcerpt = 200

	if len(r.Body) > maxExcerpt {
		return string(r.Body[:maxExcerpt])
	}

	return string(r.Body)
}

// send executes a request with bounded retry. Only network failures are
// retried; the context error is returned as-is on cancellation.
func (c *Client) send(ctx context.Context, rs requestSpec) (*response, error) {
	var payload []byte

	if rs.body != nil {
		b, err := json.Marshal(rs.body)
		if err != nil {
			return nil, fmt.Errorf("quark: %s: encoding request: %w", rs.op, err)
		}

		payload = b
	}

	backoff := retry.NewExponential(c.backoffBase)
	backoff = retry.WithCappedDuration(c.backoffBase*backoffCap, backoff)
	backoff = retry.WithMaxRetries(maxAttempts-1, backoff)

	var (
		resp    *response
		attempt int
	)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		r, err := c.sendOnce(ctx, rs, payload)
		if err == nil {
			resp = r
			return nil
		}

		if ctx.Err() != nil || !errors.Is(err, ErrNetwork) {
			return err
		}

		c.logger.Warn("retrying after network error",
			slog.String("op", rs.op),
			slog.String("method", rs.method),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		return retry.RetryableError(err)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("quark: %s: request canceled: %w", rs.op, ctxErr)
		}

		if attempt > 1 {
			c.logger.Error("request failed after retries",
				slog.String("op", rs.op),
				slog.Int("attempts", attempt),
			)
		}

		return nil, err
	}

	return resp, nil
}

// sendOnce executes a single HTTP request (no retry).
func (c *Client) sendOnce(ctx context.Context, rs requestSpec, payload []byte) (*response, error) {
	target := rs.url
	if len(rs.query) > 0 {
		target += "?" + rs.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, rs.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("quark: %s: creating request: %w", rs.op, err)
	}

	cookie, err := c.cookies.Cookie()
	if err != nil {
		return nil, authError(rs.op, "obtaining cookie: "+err.Error())
	}

	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", webOrigin)
	req.Header.Set("Referer", webOrigin+"/")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: rs.op, Message: transportMessage(err), Err: ErrNetwork}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{Op: rs.op, StatusCode: httpResp.StatusCode, Message: "reading body: " + err.Error(), Err: ErrNetwork}
	}

	resp := &response{StatusCode: httpResp.StatusCode, Body: raw}
	if len(raw) > 0 && json.Unmarshal(raw, &resp.Env) == nil {
		resp.Decoded = true
	}

	c.logger.Debug("request completed",
		slog.String("op", rs.op),
		slog.String("method", rs.method),
		slog.String("url", rs.url),
		slog.Int("status", httpResp.StatusCode),
	)

	return resp, nil
}

// transportMessage describes a failed round trip without the request URL,
// whose query carries the share stoken on listing calls.
func transportMessage(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Op + ": " + ue.Err.Error()
	}

	return err.Error()
}

// baseParams returns the query parameters every call carries.
func (c *Client) baseParams() url.Values {
	q := url.Values{}
	q.Set("pr", "ucpro")
	q.Set("fr", "pc")
	q.Set("uc_param_str", "")

	return q
}

// stampedParams returns baseParams plus the __dt and __t markers the web
// client sends on share endpoints.
func (c *Client) stampedParams(dt string) url.Values {
	q := c.baseParams()
	q.Set("__dt", dt)
	q.Set("__t", strconv.FormatInt(c.nowFunc().UnixMilli(), 10))

	return q
}
