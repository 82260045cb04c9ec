package graph

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	labelPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	suffixPattern = regexp.MustCompile(`^(.*)_([0-9]+)$`)
)

var reservedLabels = []string{string(KindInput), string(KindOutput)}

// IsReservedLabel reports whether label is one of the names held by the I/O nodes.
func IsReservedLabel(label string) bool {
	for _, r := range reservedLabels {
		if strings.EqualFold(label, r) {
			return true
		}
	}
	return false
}

// SanitizeLabel maps label onto the allowed character class.
// Whitespace becomes '_' and every other disallowed rune is dropped.
func SanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ', r == '\t':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// checkLabel applies the static label rules for a node of the given kind.
func checkLabel(kind Kind, label string) error {
	if strings.TrimSpace(label) == "" {
		return ErrEmptyLabel
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	if !kind.Singleton() && IsReservedLabel(label) {
		return fmt.Errorf("%w: %q", ErrReservedLabel, label)
	}
	return nil
}

// uniqueLabel returns the lowest-numbered free label derived from want.
// An existing "_<n>" suffix is incremented instead of restarting at 1.
func uniqueLabel(want string, taken func(string) bool) string {
	candidate := want
	if !taken(candidate) && !IsReservedLabel(candidate) {
		return candidate
	}

	stem, n := candidate, 1
	if m := suffixPattern.FindStringSubmatch(candidate); m != nil {
		if v, err := strconv.Atoi(m[2]); err == nil {
			stem, n = m[1], v+1
		}
	}
	for {
		candidate = stem + "_" + strconv.Itoa(n)
		if !taken(candidate) {
			return candidate
		}
		n++
	}
}
