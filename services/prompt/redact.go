package prompt

import (
	"regexp"
	"strings"
)

// Contact details copied off a page are replaced before text leaves the
// process. Only high-confidence patterns are used so ordinary numbers in
// titles (years, view counts, timestamps) survive.
var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(?:\+?1[-.\s])?\(?\b[0-9]{3}\)?[-.\s][0-9]{3}[-.\s][0-9]{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:[0-9][ -]?){12,18}[0-9]\b`)
)

const (
	emailRedaction = "[EMAIL_REDACTED]"
	phoneRedaction = "[PHONE_REDACTED]"
	cardRedaction  = "[CC_REDACTED]"
)

// RedactContactData replaces email addresses, phone numbers and card numbers
// that pass the Luhn check
func RedactContactData(text string) string {
	if text == "" {
		return text
	}
	text = cardPattern.ReplaceAllStringFunc(text, func(m string) string {
		if luhnValid(m) {
			return cardRedaction
		}
		return m
	})
	text = emailPattern.ReplaceAllString(text, emailRedaction)
	return phonePattern.ReplaceAllString(text, phoneRedaction)
}

// luhnValid validates a card number, ignoring spaces and dashes
func luhnValid(number string) bool {
	number = strings.NewReplacer(" ", "", "-", "").Replace(number)
	if len(number) < 13 || len(number) > 19 {
		return false
	}

	sum := 0
	second := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if second {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		second = !second
	}
	return sum%10 == 0
}
