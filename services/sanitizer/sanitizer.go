// Package sanitizer reduces free-form model output to child ids that exist
// in the current request.
package sanitizer

import (
	"regexp"
	"sort"
	"strings"
)

// childIDPattern matches the <gridId>c<index> shape the extension emits
var childIDPattern = regexp.MustCompile(`g\d+c\d+`)

// numericGridID is a grid id childIDPattern already covers
var numericGridID = regexp.MustCompile(`^g\d+$`)

// Report describes what was found in a raw response
type Report struct {
	IDs       []string // valid, deduplicated, first-seen order
	Extracted int      // id-shaped tokens found
	Unknown   []string // id-shaped tokens absent from the request
	Repeated  int
}

// Sanitize extracts child ids from raw, keeps only those in valid and
// removes duplicates while preserving first-seen order. The result is never nil.
func Sanitize(raw string, valid map[string]struct{}) []string {
	return Inspect(raw, valid).IDs
}

// Inspect is Sanitize with counters for logging
func Inspect(raw string, valid map[string]struct{}) Report {
	report := Report{IDs: []string{}}
	pattern := patternFor(valid)
	if raw == "" || len(valid) == 0 {
		report.Extracted = len(pattern.FindAllStringIndex(raw, -1))
		return report
	}

	seen := make(map[string]struct{})
	for _, id := range pattern.FindAllString(raw, -1) {
		report.Extracted++
		if _, ok := valid[id]; !ok {
			report.Unknown = append(report.Unknown, id)
			continue
		}
		if _, dup := seen[id]; dup {
			report.Repeated++
			continue
		}
		seen[id] = struct{}{}
		report.IDs = append(report.IDs, id)
	}
	return report
}

// patternFor extends childIDPattern with the grid ids in valid that do not
// have the g<n> shape. Longer prefixes come first so the leftmost match is
// the most specific one.
func patternFor(valid map[string]struct{}) *regexp.Regexp {
	prefixes := make(map[string]struct{})
	for id := range valid {
		grid, ok := gridOf(id)
		if !ok || numericGridID.MatchString(grid) {
			continue
		}
		prefixes[grid] = struct{}{}
	}
	if len(prefixes) == 0 {
		return childIDPattern
	}

	alternatives := make([]string, 0, len(prefixes)+1)
	for grid := range prefixes {
		alternatives = append(alternatives, regexp.QuoteMeta(grid))
	}
	sort.Slice(alternatives, func(i, j int) bool {
		if len(alternatives[i]) != len(alternatives[j]) {
			return len(alternatives[i]) > len(alternatives[j])
		}
		return alternatives[i] < alternatives[j]
	})
	alternatives = append(alternatives, `g\d+`)
	return regexp.MustCompile(`(?:` + strings.Join(alternatives, "|") + `)c\d+`)
}

// gridOf strips the trailing c<index> from a child id
func gridOf(id string) (string, bool) {
	i := strings.LastIndexByte(id, 'c')
	if i <= 0 || i == len(id)-1 {
		return "", false
	}
	for _, r := range id[i+1:] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id[:i], true
}
