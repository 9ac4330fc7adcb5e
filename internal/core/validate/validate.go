// Package validate provides shared validation functions.
package validate

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Required validates a value is non-empty after trimming whitespace.
func Required(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

// Email validates a single email address.
func Email(s string) error {
	if err := Required(s); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return fmt.Errorf("is not a valid address")
	}
	return nil
}

// MinLength validates s has at least n characters, ignoring surrounding whitespace.
func MinLength(s string, n int) error {
	if utf8.RuneCountInString(strings.TrimSpace(s)) < n {
		return fmt.Errorf("must be at least %d characters", n)
	}
	return nil
}

// Content validates message content: not blank and at most limit characters.
func Content(s string, limit int) error {
	switch n := utf8.RuneCountInString(s); {
	case strings.TrimSpace(s) == "":
		return fmt.Errorf("cannot be empty")
	case n > limit:
		return fmt.Errorf("is %d characters, the limit is %d", n, limit)
	}
	return nil
}
