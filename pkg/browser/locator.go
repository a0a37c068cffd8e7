package browser

import (
	"fmt"
	"regexp"
	"strings"
)

// ARIA roles the engine locates by.
const (
	RoleButton  = "button"
	RoleHeading = "heading"
)

// Locator identifies elements either by CSS selector or by ARIA role plus
// accessible name (exact string or pattern).
type Locator struct {
	CSS         string
	Role        string
	Name        string
	NamePattern *regexp.Regexp
}

// CSS locates by CSS selector.
func CSS(selector string) Locator {
	return Locator{CSS: selector}
}

// Role locates by ARIA role and exact accessible name.
func Role(role, name string) Locator {
	return Locator{Role: role, Name: name}
}

// RolePattern locates by ARIA role and an accessible-name pattern.
func RolePattern(role string, pattern *regexp.Regexp) Locator {
	return Locator{Role: role, NamePattern: pattern}
}

// IsRole reports whether the locator is role-based.
func (l Locator) IsRole() bool {
	return l.Role != ""
}

// MatchesName reports whether an accessible name satisfies the locator.
// A plain name matches as a case-insensitive substring, the way playwright
// matches role names by default. CSS locators match any name.
func (l Locator) MatchesName(name string) bool {
	switch {
	case !l.IsRole():
		return true
	case l.NamePattern != nil:
		return l.NamePattern.MatchString(name)
	default:
		return strings.Contains(strings.ToLower(name), strings.ToLower(l.Name))
	}
}

// String renders the locator in playwright selector notation, e.g.
// `role=button[name="Add Hypothesis"]`. It is also the key replay scenarios use.
func (l Locator) String() string {
	if !l.IsRole() {
		return l.CSS
	}
	switch {
	case l.NamePattern != nil:
		source, flags := JSPattern(l.NamePattern)
		return fmt.Sprintf("role=%s[name=/%s/%s]", l.Role, source, flags)
	case l.Name != "":
		return fmt.Sprintf("role=%s[name=%q]", l.Role, l.Name)
	default:
		return "role=" + l.Role
	}
}

// JSPattern splits a Go regexp into a JavaScript-compatible source and flags.
// Only a leading (?i) is translated.
func JSPattern(re *regexp.Regexp) (source, flags string) {
	source = re.String()
	if rest, ok := strings.CutPrefix(source, "(?i)"); ok {
		return rest, "i"
	}
	return source, ""
}
