package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/sanoy-si/doom-blocker-backend/services"
)

// MaxTermLength bounds a single whitelist or blacklist term, in characters
const MaxTermLength = 100

// disallowedRunes would let a term break out of the list it is inserted into
const disallowedRunes = "<>{}`\\|"

// Terms are inserted verbatim into the system prompt, so phrases that try to
// steer the model are refused.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|all|above|prior)\s+(instructions?|prompts?|rules)`),
	regexp.MustCompile(`(?i)disregard\s+(all|previous|above|any)\s+(instructions?|rules)`),
	regexp.MustCompile(`(?i)(system|original|initial)\s+prompt`),
	regexp.MustCompile(`(?i)valid_child_ids|strict\s+output\s+rules`),
	regexp.MustCompile(`(?i)\[/?(system|user|assistant)\]`),
	regexp.MustCompile(`(?i)###\s*(system|user|assistant|instruction)`),
}

// CheckTerm reports whether term is safe to place in a prompt
func CheckTerm(term string) error {
	if len([]rune(term)) > MaxTermLength {
		return fmt.Errorf("%w: term exceeds %d characters", services.ErrDisallowedTerm, MaxTermLength)
	}
	for _, r := range term {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character in %q", services.ErrDisallowedTerm, term)
		}
		if strings.ContainsRune(disallowedRunes, r) {
			return fmt.Errorf("%w: %q is not allowed", services.ErrDisallowedTerm, r)
		}
	}
	for _, re := range injectionPatterns {
		if re.MatchString(term) {
			return fmt.Errorf("%w: term looks like an instruction", services.ErrDisallowedTerm)
		}
	}
	return nil
}

// IsSafeTerm is CheckTerm as a predicate, for validator tags
func IsSafeTerm(term string) bool {
	return CheckTerm(term) == nil
}
