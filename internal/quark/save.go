package quark

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// tokenMismatchCode is the remote code for a fid / share_fid_token pair that
// does not match or has expired. It disqualifies the page-scoped endpoint.
const tokenMismatchCode = 41020

// saveFieldFallbacks are the save token field names accepted by the direct
// endpoint, tried after the configured field.
var saveFieldFallbacks = []string{"fid_list", "share_fid_token_list", "fid_token_list"}

// retryableSaveHints mark a failure message as parameter-related, so the next
// request shape is worth trying.
var retryableSaveHints = []string{"fid_list", "share_fid_token_list", "fid_token_list", "param", "missing", "required"}

// SaveRequest describes one share item to copy into the user's drive.
// ShareURL and SourceFID are optional; without a share code the page-scoped
// endpoint is skipped.
type SaveRequest struct {
	SaveToken        string
	SessionToken     string
	DestinationDirID string
	ShareURL         string
	SourceFID        string
}

type saveEndpoint int

const (
	endpointPage saveEndpoint = iota
	endpointDirect
)

func (e saveEndpoint) String() string {
	if e == endpointPage {
		return "sharepage/save"
	}

	return "share_save"
}

// saveCandidate is one row of the save decision table.
type saveCandidate struct {
	host     string
	endpoint saveEndpoint
	field    string
}

// saveOutcome is the verdict of one attempt.
type saveOutcome int

const (
	outcomeSuccess      saveOutcome = iota
	outcomeNext                     // parameter-shaped failure, try the next candidate
	outcomeSkipHost                 // host cannot serve this endpoint
	outcomeSkipEndpoint             // endpoint unusable for this item
	outcomeFail                     // definitive rejection, stop
)

// saveTarget carries the resolved identifiers shared by every attempt.
type saveTarget struct {
	req       SaveRequest
	shareCode string
	fid       string
	fidToken  string
}

// SaveShareItem copies a share item into DestinationDirID. It walks an
// ordered table of (host, endpoint, field) candidates: the page-scoped
// endpoint on every host first, then the direct endpoint with each save
// token field name on every host. Returns true on the first success and
// false on a definitive rejection or exhaustion. Login-required responses
// are returned as auth errors; transport failures as network errors.
func (c *Client) SaveShareItem(ctx context.Context, req SaveRequest) (bool, error) {
	target := saveTarget{req: req, fid: req.SourceFID, fidToken: req.SaveToken}

	if req.ShareURL != "" {
		code, _, err := ParseShareURL(req.ShareURL)
		if err != nil {
			c.logger.Warn("share code unavailable, skipping page-scoped save",
				slog.String("error", err.Error()),
			)
		}

		target.shareCode = code
	}

	if target.shareCode != "" && target.fid == "" && req.SaveToken != "" {
		target.fid, target.fidToken = c.resolveShareFID(ctx, target.shareCode, req.SessionToken, req.SaveToken)
	}

	candidates := buildSaveCandidates(c.saveHostOrder(ctx), c.saveFields(), target.shareCode != "" && target.fid != "")

	return c.runSaveCandidates(ctx, candidates, func(ctx context.Context, cand saveCandidate) (saveOutcome, error) {
		return c.attemptSave(ctx, cand, &target)
	})
}

// runSaveCandidates iterates the decision table until success, a definitive
// failure, a fatal error, or exhaustion.
func (c *Client) runSaveCandidates(
	ctx context.Context,
	candidates []saveCandidate,
	attempt func(context.Context, saveCandidate) (saveOutcome, error),
) (bool, error) {
	type hostKey struct {
		endpoint saveEndpoint
		host     string
	}

	skippedHosts := make(map[hostKey]bool)
	skippedEndpoints := make(map[saveEndpoint]bool)

	for _, cand := range candidates {
		if skippedEndpoints[cand.endpoint] || skippedHosts[hostKey{cand.endpoint, cand.host}] {
			continue
		}

		outcome, err := attempt(ctx, cand)
		if err != nil {
			return false, err
		}

		switch outcome {
		case outcomeSuccess:
			c.logger.Info("share item saved",
				slog.String("endpoint", cand.endpoint.String()),
				slog.String("host", cand.host),
				slog.String("field", cand.field),
			)

			return true, nil
		case outcomeSkipHost:
			skippedHosts[hostKey{cand.endpoint, cand.host}] = true
		case outcomeSkipEndpoint:
			skippedEndpoints[cand.endpoint] = true
		case outcomeFail:
			return false, nil
		case outcomeNext:
		}
	}

	c.logger.Warn("share save candidates exhausted", slog.Int("candidates", len(candidates)))

	return false, nil
}

// buildSaveCandidates lays out the decision table. Page-scoped rows are only
// included when the share code and source fid are known.
func buildSaveCandidates(hosts, fields []string, pageScoped bool) []saveCandidate {
	var out []saveCandidate

	if pageScoped {
		for _, h := range hosts {
			out = append(out, saveCandidate{host: h, endpoint: endpointPage, field: "fid_list"})
		}
	}

	for _, h := range hosts {
		for _, f := range fields {
			out = append(out, saveCandidate{host: h, endpoint: endpointDirect, field: f})
		}
	}

	return out
}

// saveHostOrder returns configured hosts, then the safe host when enabled,
// then the share and main API hosts, deduplicated.
func (c *Client) saveHostOrder(ctx context.Context) []string {
	candidates := append([]string{}, c.saveHosts...)

	if c.useSafeHost {
		candidates = append(candidates, c.safeShareHost(ctx))
	}

	candidates = append(candidates, c.shareBaseURL, c.baseURL)

	return dedupe(candidates, func(s string) string { return strings.TrimRight(s, "/") })
}

// saveFields returns the configured save field followed by the fallbacks.
func (c *Client) saveFields() []string {
	return dedupe(append([]string{c.saveField}, saveFieldFallbacks...), strings.TrimSpace)
}

func dedupe(in []string, norm func(string) string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))

	for _, s := range in {
		s = norm(s)
		if s == "" || seen[s] {
			continue
		}

		seen[s] = true
		out = append(out, s)
	}

	return out
}

// attemptSave issues one candidate request and classifies the reply.
func (c *Client) attemptSave(ctx context.Context, cand saveCandidate, t *saveTarget) (saveOutcome, error) {
	rs := requestSpec{op: "save share item", method: http.MethodPost}

	switch cand.endpoint {
	case endpointPage:
		rs.url = cand.host + "/1/clouddrive/share/sharepage/save"
		rs.query = c.stampedParams("208097")

		body := map[string]any{
			"fid_list":    []string{t.fid},
			"to_pdir_fid": t.req.DestinationDirID,
			"pwd_id":      t.shareCode,
			"stoken":      t.req.SessionToken,
			"pdir_fid":    RootID,
			"scene":       "link",
		}
		if t.fidToken != "" {
			body["share_fid_token_list"] = []string{t.fidToken}
		}

		rs.body = body
	case endpointDirect:
		rs.url = cand.host + "/1/clouddrive/share/share_save"
		rs.query = c.baseParams()
		rs.body = map[string]any{
			cand.field:    []string{t.req.SaveToken},
			"stoken":      t.req.SessionToken,
			"to_pdir_fid": t.req.DestinationDirID,
		}
	}

	resp, err := c.send(ctx, rs)
	if err != nil {
		return outcomeFail, err
	}

	outcome, err := classifySave(resp, cand, rs.op)

	if outcome != outcomeSuccess {
		c.logger.Warn("share save attempt rejected",
			slog.String("endpoint", cand.endpoint.String()),
			slog.String("host", cand.host),
			slog.String("field", cand.field),
			slog.Int("status", resp.StatusCode),
			slog.Int("code", resp.Env.Code.Value),
			slog.String("message", resp.message()),
		)
	}

	return outcome, err
}

// classifySave maps one save reply to an outcome.
func classifySave(resp *response, cand saveCandidate, op string) (saveOutcome, error) {
	msg := resp.message()
	success := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return outcomeFail, &Error{Op: op, StatusCode: resp.StatusCode, Message: msg, Err: ErrAuth}
	case resp.StatusCode == http.StatusNotFound:
		return outcomeSkipHost, nil
	case cand.endpoint == endpointPage && resp.Decoded && resp.Env.Code.Set && resp.Env.Code.Value == tokenMismatchCode:
		return outcomeSkipEndpoint, nil
	case resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(msg), "csrf"):
		return outcomeSkipHost, nil
	case isLoginRequired(msg):
		return outcomeFail, &Error{Op: op, StatusCode: resp.StatusCode, Code: resp.Env.Code.Value, Message: msg, Err: ErrAuth}
	case !success:
		return outcomeFail, apiError(op, resp.StatusCode, resp.Env.Code.Value, msg)
	case !resp.Decoded:
		return outcomeFail, apiError(op, resp.StatusCode, 0, "expected JSON response body")
	case resp.Env.ok():
		return outcomeSuccess, nil
	case isParameterFailure(msg):
		return outcomeNext, nil
	default:
		return outcomeFail, nil
	}
}

func isParameterFailure(msg string) bool {
	lower := strings.ToLower(msg)
	for _, hint := range retryableSaveHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}

	return false
}

// resolveShareFID finds the source fid whose share_fid_token matches token
// in the share root listing. Lookup failures are logged, not returned: the
// direct endpoint does not need the fid.
func (c *Client) resolveShareFID(ctx context.Context, code, stoken, token string) (fid, fidToken string) {
	page, err := c.ListSharePage(ctx, &ShareContext{ShareCode: code, SessionToken: stoken}, RootID, 1, MaxPageSize)
	if err != nil {
		c.logger.Warn("resolving share fid failed", slog.String("error", err.Error()))
		return "", token
	}

	for i := range page.Items {
		item := &page.Items[i]
		if item.ShareFIDToken == token && item.ID != "" {
			c.logger.Debug("share fid resolved", slog.String("fid", item.ID))
			return item.ID, item.ShareFIDToken
		}
	}

	c.logger.Warn("share fid not found in share root listing", slog.String("token_prefix", tokenPrefix(token)))

	return "", token
}

// tokenPrefix returns a loggable prefix of a secret token.
func tokenPrefix(token string) string {
	const keep = 6
	if len(token) <= keep {
		return strings.Repeat("*", len(token))
	}

	return token[:keep] + "..."
}
