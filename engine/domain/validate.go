package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxQueryRunes bounds the text sent to the embedding generator.
const MaxQueryRunes = 1000

// ValidateQuery checks a search query and returns it trimmed.
func ValidateQuery(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", NewValidationError("q", text, ErrInvalidQuery)
	}
	if !utf8.ValidString(trimmed) {
		return "", NewValidationError("q", trimmed, ErrInvalidQuery)
	}
	if utf8.RuneCountInString(trimmed) > MaxQueryRunes {
		return "", NewValidationError("q", string([]rune(trimmed)[:32])+"...", ErrQueryTooLong)
	}
	return trimmed, nil
}
