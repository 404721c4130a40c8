package domain

import (
	"fmt"
	"strings"
)

// ParseHandle splits a "@name@host" or "name@host" handle into its parts.
// Upstream protocol object formatting occasionally leaks trailing punctuation
// into handles, so the host part is trimmed before use.
func ParseHandle(handle string) (name string, host string, err error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	parts := strings.Split(trimmed, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &ValidationError{Reason: fmt.Sprintf("malformed handle: %q", handle)}
	}
	return parts[0], strings.TrimRight(parts[1], ").,]"), nil
}

// IsLocalHandle reports whether the handle's host matches the local domain.
// Comparison is case-insensitive and ignores ports on either side.
func IsLocalHandle(handle, localDomain string) bool {
	_, host, err := ParseHandle(handle)
	if err != nil {
		return false
	}
	return strings.EqualFold(stripPort(host), stripPort(localDomain))
}

func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

// FullHandle formats the canonical "@name@host" form.
func FullHandle(name, host string) string {
	return fmt.Sprintf("@%s@%s", name, host)
}
