package utils

import (
	"fmt"
	"regexp"
)

const maxIdentifierLength = 128

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]*$`)
)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// ValidateIdentifier checks an entity or principal ID taken from a request
func ValidateIdentifier(field, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("%s must be at most %d characters", field, maxIdentifierLength)
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters: %q", field, id)
	}
	return nil
}
