package web

import (
	"strings"
	"unicode"
)

// ValidUsername reports whether a username is acceptable: 1-50 characters,
// only letters, digits, spaces, underscores and hyphens, not all whitespace.
func ValidUsername(username string) bool {
	if strings.TrimSpace(username) == "" || len(username) > 50 {
		return false
	}
	for _, r := range username {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// ValidRoomName reports whether a room name is acceptable: 1-50 characters,
// not all whitespace.
func ValidRoomName(name string) bool {
	return strings.TrimSpace(name) != "" && len(name) <= 50
}
