package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of every section.
var knownKeys = map[string][]string{
	"remote": {
		"base_url", "share_base_url", "save_hosts", "save_field", "use_safe_host",
		"cookie", "cookie_file", "http_timeout", "credential_validation_interval",
	},
	"share": {"page_size", "virtual_root", "large_file_threshold", "dest_pattern"},
	"worker": {
		"queue", "dead_queue", "max_retries", "yield", "poll_interval",
		"notify_url", "metrics_addr",
	},
	"store":   {"db_path"},
	"logging": {"log_level", "log_format"},
}

// knownSections is sorted for deterministic suggestions when two
// candidates have the same edit distance.
var knownSections = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	sort.Strings(sections)

	return sections
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An
// unknown section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section := key[0]

		if _, ok := knownKeys[section]; !ok {
			if !reported[section] {
				reported[section] = true
				errs = append(errs, unknownError("config section", section, knownSections))
			}

			continue
		}

		if len(key) < 2 {
			continue
		}

		keys := append([]string(nil), knownKeys[section]...)
		sort.Strings(keys)
		errs = append(errs, unknownError(fmt.Sprintf("key in [%s]", section), key[1], keys))
	}

	return errors.Join(errs...)
}

func unknownError(what, name string, known []string) error {
	if suggestion := closestMatch(name, known); suggestion != "" {
		return fmt.Errorf("unknown %s %q; did you mean %q?", what, name, suggestion)
	}

	return fmt.Errorf("unknown %s %q", what, name)
}

// closestMatch finds the closest known name by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings using two
// rolling rows.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
