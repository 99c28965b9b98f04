// Package keywords implements the deterministic rule-based filter used when
// the model cannot be consulted.
package keywords

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sanoy-si/doom-blocker-backend/models"
)

// DefaultRelatedTerms expands common blacklist topics to names and places
// that headlines use instead of the topic word itself.
func DefaultRelatedTerms() map[string][]string {
	return map[string][]string{
		"russia":   {"russian", "putin", "kremlin", "moscow"},
		"ukraine":  {"ukrainian", "zelensky", "kyiv", "kiev"},
		"politics": {"election", "senate", "congress", "parliament", "president"},
		"war":      {"missile", "airstrike", "invasion", "troops", "nuke", "nuclear"},
		"crypto":   {"bitcoin", "ethereum", "btc", "nft", "blockchain"},
		"trump":    {"maga", "donald"},
		"israel":   {"gaza", "hamas", "idf", "netanyahu"},
	}
}

// wholeWordMaxLen is the longest related term matched only as a whole word.
// Short expansions such as "idf" or "nft" appear inside unrelated words.
const wholeWordMaxLen = 4

// Rules hides children whose text contains a blacklist term. A child whose
// text contains any whitelist term is always kept.
type Rules struct {
	related map[string][]string
}

// NewRules builds rules with the given related-term table. Keys and values
// are matched case-insensitively. A nil table disables expansion.
func NewRules(related map[string][]string) *Rules {
	table := make(map[string][]string, len(related))
	for term, extra := range related {
		key := strings.ToLower(strings.TrimSpace(term))
		if key == "" {
			continue
		}
		for _, e := range extra {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
				table[key] = append(table[key], e)
			}
		}
	}
	return &Rules{related: table}
}

// term is a blacklist entry and how it must appear in text
type term struct {
	text      string
	wholeWord bool
}

// Expand returns the lowercased blacklist plus related terms, sorted and unique
func (r *Rules) Expand(blacklist []string) []string {
	terms := r.expand(blacklist)
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.text
	}
	return out
}

// expand marks short related terms as whole-word matches. A term the caller
// listed directly is always a substring match.
func (r *Rules) expand(blacklist []string) []term {
	listed := lowerAll(blacklist)
	set := make(map[string]bool)
	for _, t := range listed {
		for _, extra := range r.related[t] {
			set[extra] = utf8.RuneCountInString(extra) <= wholeWordMaxLen
		}
	}
	for _, t := range listed {
		set[t] = false
	}

	terms := make([]term, 0, len(set))
	for text, whole := range set {
		terms = append(terms, term{text: text, wholeWord: whole})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].text < terms[j].text })
	return terms
}

// Filter applies the rules to every child of the request, grouped by grid in
// child order. An empty blacklist hides nothing.
func (r *Rules) Filter(req *models.FilterRequest) models.Decision {
	blacklist := r.expand(req.Blacklist)
	if len(blacklist) == 0 || req.Grid == nil {
		return models.Decision{}
	}
	whitelist := lowerAll(req.Whitelist)

	var hidden []string
	for _, grid := range req.Grid.Grids {
		for _, child := range grid.Children {
			if hides(child.Text, whitelist, blacklist) {
				hidden = append(hidden, child.ID)
			}
		}
	}
	return models.NewDecision(req.Grid, hidden)
}

// Hides reports whether text should be hidden, matching every term as a
// substring. Both term lists must already be lowercased.
func (r *Rules) Hides(text string, whitelist, blacklist []string) bool {
	terms := make([]term, len(blacklist))
	for i, t := range blacklist {
		terms[i] = term{text: t}
	}
	return hides(text, whitelist, terms)
}

func hides(text string, whitelist []string, blacklist []term) bool {
	text = strings.ToLower(text)
	if text == "" {
		return false
	}
	for _, w := range whitelist {
		if w != "" && strings.Contains(text, w) {
			return false
		}
	}
	for _, t := range blacklist {
		if t.text == "" {
			continue
		}
		if t.wholeWord && containsWord(text, t.text) {
			return true
		}
		if !t.wholeWord && strings.Contains(text, t.text) {
			return true
		}
	}
	return false
}

// containsWord reports whether word occurs in text with no letter or digit
// directly before or after it
func containsWord(text, word string) bool {
	for offset := 0; offset <= len(text)-len(word); {
		i := strings.Index(text[offset:], word)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(word)

		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
