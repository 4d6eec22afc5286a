package quark

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RootID is the remote id of the drive root and of a share's virtual root.
const RootID = "0"

// fileTypeDir is the file_type value the remote uses for folders.
const fileTypeDir = 0

// Item is a clean representation of a remote listing entry, decoupled from
// the API's JSON shape.
type Item struct {
	ID            string
	Name          string
	ParentID      string
	IsDir         bool
	FileType      int
	Size          int64
	ShareFIDToken string
}

// Page is one page of a directory listing. HasTotal is false when the
// remote did not report a total count.
type Page struct {
	Items    []Item
	Total    int
	HasTotal bool
}

// ShareContext holds the per-resolution share identity and session token.
// It is never persisted or reused across share URLs.
type ShareContext struct {
	ShareCode    string
	Passcode     string
	SessionToken string
}

// Config is the account configuration blob returned by FetchConfig.
type Config struct {
	Raw map[string]any
}

// ShareSafeHost returns the normalized share_safe_host entry, or "" when the
// remote did not provide one.
func (c *Config) ShareSafeHost() string {
	if c == nil || c.Raw == nil {
		return ""
	}

	host, ok := c.Raw["share_safe_host"].(string)
	if !ok {
		return ""
	}

	return normalizeHost(host)
}

// normalizeHost prefixes a scheme when missing and trims the trailing slash.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}

	return strings.TrimRight(host, "/")
}

// optInt is an integer field whose presence matters. The remote sends
// status and code as numbers, numeric strings, or not at all.
type optInt struct {
	Value int
	Set   bool
}

func (o *optInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decoding numeric string: %w", err)
		}

		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			// Non-numeric codes carry no status meaning.
			return nil //nolint:nilerr // tolerated remote quirk
		}

		o.Value, o.Set = n, true

		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("decoding number: %w", err)
	}

	o.Value, o.Set = int(f), true

	return nil
}

// envelope is the common response wrapper of every API call.
type envelope struct {
	Status   optInt          `json:"status"`
	Code     optInt          `json:"code"`
	Message  string          `json:"message"`
	ErrorMsg string          `json:"error"`
	Data     json.RawMessage `json:"data"`
	Metadata json.RawMessage `json:"metadata"`
}

// ok reports the canonical success shape: status 200 or code 0.
func (e *envelope) ok() bool {
	return (e.Status.Set && e.Status.Value == 200) || (e.Code.Set && e.Code.Value == 0)
}

// message returns the most descriptive failure text available.
func (e *envelope) message() string {
	if e.Message != "" {
		return e.Message
	}

	if e.ErrorMsg != "" {
		return e.ErrorMsg
	}

	return "unknown error"
}

// itemResponse mirrors one JSON entry of a listing.
type itemResponse struct {
	FID           string `json:"fid"`
	FileID        string `json:"file_id"`
	FileName      string `json:"file_name"`
	PdirFID       string `json:"pdir_fid"`
	Dir           bool   `json:"dir"`
	FileType      *int   `json:"file_type"`
	Size          int64  `json:"size"`
	ShareFIDToken string `json:"share_fid_token"`
}

func (r *itemResponse) toItem() Item {
	id := r.FID
	if id == "" {
		id = r.FileID
	}

	fileType := -1
	if r.FileType != nil {
		fileType = *r.FileType
	}

	return Item{
		ID:            id,
		Name:          r.FileName,
		ParentID:      r.PdirFID,
		IsDir:         r.Dir || fileType == fileTypeDir,
		FileType:      fileType,
		Size:          r.Size,
		ShareFIDToken: r.ShareFIDToken,
	}
}

// totalKeys are the names the remote has used for the listing total.
var totalKeys = []string{"_total", "total", "_count", "count"}

// decodePage converts a listing envelope into a Page. The total is searched
// in data, then the envelope metadata, then data.metadata.
func decodePage(env *envelope) (Page, error) {
	var data struct {
		List     []itemResponse  `json:"list"`
		Metadata json.RawMessage `json:"metadata"`
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Page{}, fmt.Errorf("decoding listing: %w", err)
		}
	}

	page := Page{Items: make([]Item, 0, len(data.List))}
	for i := range data.List {
		page.Items = append(page.Items, data.List[i].toItem())
	}

	for _, raw := range []json.RawMessage{env.Data, env.Metadata, data.Metadata} {
		if total, ok := findTotal(raw); ok {
			page.Total, page.HasTotal = total, true
			break
		}
	}

	return page, nil
}

// findTotal looks for an integer total under any of totalKeys.
func findTotal(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, false
	}

	for _, key := range totalKeys {
		v, ok := m[key]
		if !ok {
			continue
		}

		var n int
		if err := json.Unmarshal(v, &n); err == nil {
			return n, true
		}
	}

	return 0, false
}
