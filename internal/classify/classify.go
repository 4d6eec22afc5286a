// Package classify derives a destination folder for a media file from its
// title and file name.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultPattern lays files out by category, year and title.
const DefaultPattern = "/QuarkMedia/{type}/{year}/{title}({year})"

// UnknownYear fills {year} when no year can be found in the title.
const UnknownYear = "Unknown"

// Category is a coarse media type.
type Category string

// Categories, checked in the order documentary, anime, series, music, with
// movie as the fallback. Others is never inferred.
const (
	Movies        Category = "Movies"
	Series        Category = "Series"
	Documentaries Category = "Documentaries"
	Anime         Category = "Anime"
	Music         Category = "Music"
	Others        Category = "Others"
)

var (
	documentaryKeywords = []string{"纪录片", "documentary", "docu"}
	animeKeywords       = []string{"动漫", "anime", "动画", "cartoon", "番剧"}
	musicKeywords       = []string{"音乐", "music", "歌曲", "album", "soundtrack"}

	seriesPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)s\d+e\d+`),
		regexp.MustCompile(`第\d+集`),
		regexp.MustCompile(`(?i)ep\d+`),
		regexp.MustCompile(`(?i)season\s*\d+`),
	}

	yearPattern = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)

	// Bracketed annotations such as [1080p], (2020), {tag}, 【字幕】, <x>.
	bracketPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[.*?\]`),
		regexp.MustCompile(`\(.*?\)`),
		regexp.MustCompile(`\{.*?\}`),
		regexp.MustCompile(`【.*?】`),
		regexp.MustCompile(`<.*?>`),
	}

	spaceRun      = regexp.MustCompile(`\s+`)
	reservedChars = regexp.MustCompile(`[\\/:*?"<>|]`)
)

// Classifier maps (title, filename) to a destination path. It is pure and
// safe for concurrent use.
type Classifier struct {
	pattern string
}

// New returns a Classifier using pattern, or DefaultPattern when empty.
// Placeholders: {type}, {year}, {title}, {filename}.
func New(pattern string) *Classifier {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}

	return &Classifier{pattern: pattern}
}

// Pattern returns the destination pattern in use.
func (c *Classifier) Pattern() string {
	return c.pattern
}

// Classify returns the destination directory for a file and the category it
// was filed under.
func (c *Classifier) Classify(title, filename string) (string, Category) {
	title = norm.NFC.String(title)
	filename = norm.NFC.String(filename)

	cat := Detect(title, filename)

	year := UnknownYear
	if y, ok := ExtractYear(title); ok {
		year = strconv.Itoa(y)
	}

	path := strings.NewReplacer(
		"{type}", string(cat),
		"{year}", year,
		"{title}", CleanTitle(title),
		"{filename}", reservedChars.ReplaceAllString(filename, "_"),
	).Replace(c.pattern)

	return path, cat
}

// Detect picks a category from keywords and episode markers in the title and
// file name.
func Detect(title, filename string) Category {
	text := strings.ToLower(title + " " + filename)

	switch {
	case containsAny(text, documentaryKeywords):
		return Documentaries
	case containsAny(text, animeKeywords):
		return Anime
	case isSeries(text):
		return Series
	case containsAny(text, musicKeywords):
		return Music
	default:
		return Movies
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}

	return false
}

func isSeries(text string) bool {
	for _, re := range seriesPatterns {
		if re.MatchString(text) {
			return true
		}
	}

	return false
}

// ExtractYear returns the first standalone 19xx or 20xx year in title.
func ExtractYear(title string) (int, bool) {
	m := yearPattern.FindString(title)
	if m == "" {
		return 0, false
	}

	y, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}

	return y, true
}

// CleanTitle strips bracketed annotations, collapses whitespace and replaces
// characters that are unsafe in a path segment.
func CleanTitle(title string) string {
	title = strings.TrimSpace(title)

	for _, re := range bracketPatterns {
		title = re.ReplaceAllString(title, "")
	}

	title = spaceRun.ReplaceAllString(title, " ")
	title = reservedChars.ReplaceAllString(title, "_")

	return strings.TrimSpace(title)
}
