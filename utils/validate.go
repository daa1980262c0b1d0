package utils

import (
	"regexp"
	"strings"
)

var addressRe = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

// IsValidAddress reports whether v looks like a hex account address.
func IsValidAddress(v string) bool {
	return addressRe.MatchString(v)
}

// IsNonEmpty accepts any destination with visible characters.
func IsNonEmpty(v string) bool {
	return strings.TrimSpace(v) != ""
}
