package share

import (
	"net/url"
	"path"
	"strings"

	"github.com/tonimelisma/quark-mirror/internal/quark"
)

// LargeFileBytes is the default size at which a non-video file is still
// considered media.
const LargeFileBytes int64 = 1 << 30

// DefaultVirtualRoot is the logical root under which discovered files are
// recorded.
const DefaultVirtualRoot = "/Movies"

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".mpg": true,
	".mpeg": true, ".m4v": true, ".ts": true, ".rmvb": true,
}

// IsVideo reports whether name has a known video extension.
func IsVideo(name string) bool {
	return videoExtensions[strings.ToLower(path.Ext(name))]
}

// IsStorable reports whether a node should become a media record: a named
// file that is a video or at least threshold bytes. A non-positive threshold
// disables the size rule.
func IsStorable(n FileNode, threshold int64) bool {
	if n.IsDirectory || n.Name == "" {
		return false
	}

	if IsVideo(n.Name) {
		return true
	}

	return threshold > 0 && n.Size >= threshold
}

// Title names a share: the single top-level entry when there is exactly one,
// otherwise the share code.
func Title(nodes []FileNode, shareURL string) string {
	top := make(map[string]bool)

	for _, n := range nodes {
		p := strings.Trim(n.LogicalPath, "/")
		if p == "" {
			continue
		}

		top[strings.SplitN(p, "/", 2)[0]] = true
	}

	if len(top) == 1 {
		for name := range top {
			return SanitizeSegment(name, "share")
		}
	}

	code, _, err := quark.ParseShareURL(shareURL)
	if err != nil {
		code = ""
	}

	return SanitizeSegment(code, "share")
}

// VirtualPath builds root/title/file with both segments sanitized.
func VirtualPath(root, title, fileName string) string {
	root = strings.TrimRight(root, "/")

	return root + "/" + SanitizeSegment(title, "share") + "/" + SanitizeSegment(fileName, "file")
}

// SanitizeSegment trims whitespace and slashes and replaces path separators,
// returning fallback when nothing is left.
func SanitizeSegment(value, fallback string) string {
	cleaned := strings.Trim(strings.TrimSpace(value), "/")
	cleaned = strings.NewReplacer(`\`, "_", "/", "_").Replace(cleaned)

	if cleaned == "" {
		return fallback
	}

	return cleaned
}

// ApplyPasscode sets the pwd query parameter on a share URL. A bare code is
// expanded to a full share URL first.
func ApplyPasscode(shareURL, passcode string) string {
	if passcode == "" {
		return shareURL
	}

	if !strings.Contains(shareURL, "://") && !strings.Contains(shareURL, "/") {
		return "https://pan.quark.cn/s/" + shareURL + "?pwd=" + url.QueryEscape(passcode)
	}

	u, err := url.Parse(shareURL)
	if err != nil {
		return shareURL
	}

	q := u.Query()
	q.Set("pwd", passcode)
	u.RawQuery = q.Encode()

	return u.String()
}
