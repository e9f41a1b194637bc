// Package export turns a capture result into things that leave the app:
// dial links, a PDF report, clipboard text and shared text.
package export

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	phoneCandidate = regexp.MustCompile(`[+\d(][\d\s\p{Zs}().-]{6,}`)
	phoneTrailing  = regexp.MustCompile(`[.,\s\p{Zs}-]$`)
)

// PhoneNumbers finds likely phone numbers in text, in order of appearance.
// A candidate is trimmed, loses one trailing separator and is kept when it
// has between 7 and 15 digits.
func PhoneNumbers(text string) []string {
	var numbers []string
	for _, match := range phoneCandidate.FindAllString(text, -1) {
		candidate := phoneTrailing.ReplaceAllString(strings.TrimSpace(match), "")
		if n := countDigits(candidate); n >= 7 && n <= 15 {
			numbers = append(numbers, candidate)
		}
	}
	return numbers
}

// TelURI is the dial link for a number found by PhoneNumbers.
func TelURI(number string) string {
	return "tel:" + strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, number)
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
