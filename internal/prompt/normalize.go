// Package prompt prepares user text for the MusicGen text encoder.
package prompt

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrEmpty is returned when the prompt is empty or whitespace-only.
var ErrEmpty = errors.New("prompt is empty")

// Normalize applies NFC, normalizes line endings to \n, trims surrounding
// whitespace, and rejects empty or whitespace-only input.
func Normalize(s string) (string, error) {
	s = norm.NFC.String(s)

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	s = strings.TrimSpace(s)

	if s == "" {
		return "", ErrEmpty
	}

	return s, nil
}
