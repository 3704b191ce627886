package policy

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxDisplayNameRunes = 64
	identityIDPrefix    = "umb1"
	minIdentityIDLen    = 12
)

// ValidateDisplayName normalizes a user-chosen name before it enters an
// identity or a signed card. Control characters are rejected rather than
// stripped; a name that needs stripping was not typed by a person.
func ValidateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("display name is required")
	}
	if utf8.RuneCountInString(name) > maxDisplayNameRunes {
		return "", errors.New("display name exceeds maximum length")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7F {
			return "", errors.New("display name contains control characters")
		}
	}
	return name, nil
}

func ValidateContactID(contactID string) (string, error) {
	contactID = strings.TrimSpace(contactID)
	if !strings.HasPrefix(contactID, identityIDPrefix) || len(contactID) < minIdentityIDLen {
		return "", errors.New("invalid contact id")
	}
	return contactID, nil
}
