package quark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// MaxPageSize is the largest page the listing endpoints accept.
const MaxPageSize = 200

// ErrInvalidShareURL is returned when a share reference cannot be parsed.
var ErrInvalidShareURL = errors.New("quark: invalid share reference")

var shareCodePattern = regexp.MustCompile(`/s/([A-Za-z0-9_-]+)`)

// passcodeParams are the query parameter names that may carry the passcode,
// in priority order.
var passcodeParams = []string{"pwd", "passcode", "password", "p"}

// stokenPatterns extract a session token from share page HTML, tried in
// order when the token API fails.
var stokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"stoken"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`stoken\s*[:=]\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`\\"stoken\\"\s*:\s*\\"([^\\"]+)\\"`),
}

// ParseShareURL normalizes a raw share reference into a share code and
// passcode. A bare code (no scheme, no slash) is returned as-is with an empty
// passcode. Host-only forms such as "pan.quark.cn/s/abc" are accepted.
func ParseShareURL(raw string) (code, passcode string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidShareURL)
	}

	if !strings.Contains(raw, "://") && !strings.Contains(raw, "/") {
		return raw, "", nil
	}

	candidate := raw
	if strings.HasPrefix(raw, "pan.quark.cn") || strings.HasPrefix(raw, "drive.quark.cn") {
		candidate = "https://" + raw
	}

	m := shareCodePattern.FindStringSubmatch(candidate)
	if m == nil {
		return "", "", fmt.Errorf("%w: no share code in %q", ErrInvalidShareURL, raw)
	}

	if u, parseErr := url.Parse(candidate); parseErr == nil {
		q := u.Query()
		for _, name := range passcodeParams {
			if v := q.Get(name); v != "" {
				passcode = v
				break
			}
		}
	}

	return m[1], passcode, nil
}

// ShareWebURL returns the browser URL of a share reference, used for the
// HTML token fallback.
func ShareWebURL(raw, code, passcode string) string {
	raw = strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://"):
		return raw
	case strings.Contains(raw, "/"):
		return "https://" + raw
	}

	u := webOrigin + "/s/" + code
	if passcode != "" {
		u += "?pwd=" + url.QueryEscape(passcode)
	}

	return u
}

// ExchangeShareToken trades a share code and passcode for a session token.
// Passcode rejections and login-required responses are auth errors; every
// other rejection, including a response without a token, is an API error.
func (c *Client) ExchangeShareToken(ctx context.Context, code, passcode string) (string, error) {
	const op = "exchange share token"

	resp, err := c.send(ctx, requestSpec{
		op:     op,
		method: http.MethodPost,
		url:    c.shareBaseURL + "/1/clouddrive/share/sharepage/token",
		query:  c.stampedParams("994"),
		body:   map[string]string{"pwd_id": code, "passcode": passcode},
	})
	if err != nil {
		return "", err
	}

	if err := resp.check(op); err != nil {
		var qe *Error
		if errors.As(err, &qe) && isPasscodeFailure(qe.Message) {
			qe.Err = ErrAuth
		}

		return "", err
	}

	var data struct {
		Stoken string `json:"stoken"`
	}

	if len(resp.Env.Data) > 0 {
		if err := json.Unmarshal(resp.Env.Data, &data); err != nil {
			return "", apiError(op, resp.StatusCode, 0, "decoding token: "+err.Error())
		}
	}

	if data.Stoken == "" {
		return "", apiError(op, resp.StatusCode, 0, "missing stoken in share token response")
	}

	return data.Stoken, nil
}

// ShareToken resolves a share reference to a ShareContext. When the token
// API rejects the request with an API error, the share page HTML is fetched
// and searched for an embedded token. Auth and network failures never fall
// back.
func (c *Client) ShareToken(ctx context.Context, shareURL string) (*ShareContext, error) {
	code, passcode, err := ParseShareURL(shareURL)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("exchanging share token",
		slog.String("share_code", code),
		slog.Bool("has_passcode", passcode != ""),
	)

	stoken, err := c.ExchangeShareToken(ctx, code, passcode)
	if err == nil {
		return &ShareContext{ShareCode: code, Passcode: passcode, SessionToken: stoken}, nil
	}

	if !errors.Is(err, ErrAPI) {
		return nil, err
	}

	c.logger.Warn("share token API failed, falling back to share page",
		slog.String("share_code", code),
		slog.String("error", err.Error()),
	)

	stoken, pageErr := c.stokenFromSharePage(ctx, ShareWebURL(shareURL, code, passcode))
	if pageErr != nil {
		return nil, pageErr
	}

	return &ShareContext{ShareCode: code, Passcode: passcode, SessionToken: stoken}, nil
}

// stokenFromSharePage scans the share page HTML for a session token.
func (c *Client) stokenFromSharePage(ctx context.Context, pageURL string) (string, error) {
	const op = "share page token"

	resp, err := c.send(ctx, requestSpec{op: op, method: http.MethodGet, url: pageURL})
	if err != nil {
		return "", err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", apiError(op, resp.StatusCode, 0, "share page unavailable")
	}

	for _, re := range stokenPatterns {
		if m := re.FindSubmatch(resp.Body); m != nil {
			return string(m[1]), nil
		}
	}

	return "", apiError(op, resp.StatusCode, 0, "stoken not found in share page HTML")
}

// ListSharePage returns one page of a directory inside a share.
func (c *Client) ListSharePage(ctx context.Context, sc *ShareContext, parentID string, page, size int) (Page, error) {
	const op = "list share page"

	q := c.stampedParams("1589")
	q.Set("pwd_id", sc.ShareCode)
	q.Set("stoken", sc.SessionToken)
	q.Set("pdir_fid", parentID)
	q.Set("force", "0")
	q.Set("_page", strconv.Itoa(page))
	q.Set("_size", strconv.Itoa(clampPageSize(size)))
	q.Set("_fetch_banner", "0")
	q.Set("_fetch_share", "1")
	q.Set("_fetch_total", "1")
	q.Set("_sort", "file_type:asc,updated_at:desc")

	env, err := c.call(ctx, requestSpec{
		op: op, method: http.MethodGet, url: c.shareBaseURL + "/1/clouddrive/share/sharepage/detail", query: q,
	})
	if err != nil {
		return Page{}, err
	}

	p, err := decodePage(env)
	if err != nil {
		return Page{}, apiError(op, http.StatusOK, 0, err.Error())
	}

	return p, nil
}

func clampPageSize(size int) int {
	switch {
	case size < 1:
		return 1
	case size > MaxPageSize:
		return MaxPageSize
	default:
		return size
	}
}
