package reconcile

import (
	"strings"

	"golang.org/x/text/cases"
)

const (
	// MaxNameLength is the platform's display name limit, in characters
	MaxNameLength = 32

	// CosmeticMarker is prefixed to the base name of members with the cosmetic flag
	CosmeticMarker = "🦀 "

	ellipsis = "..."
)

// CleanName strips the cosmetic marker and any "(account)" suffix from a display name.
// The suffix starts at the earlier of the last '(' and the last ')', and only when
// both are present.
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSpace(strings.TrimPrefix(name, strings.TrimSpace(CosmeticMarker)))

	open := strings.LastIndex(name, "(")
	closing := strings.LastIndex(name, ")")
	if first := min(open, closing); first >= 0 {
		name = name[:first]
	}
	return strings.TrimSpace(name)
}

// BaseName cleans a display name and applies the cosmetic marker
func BaseName(name string, cosmetic bool) string {
	base := CleanName(name)
	if cosmetic {
		base = CosmeticMarker + base
	}
	return base
}

// CombineName builds "base (nick)" within MaxNameLength. The nickname is kept verbatim
// when possible; the base is shortened first and dropped when nothing of it fits.
func CombineName(base, nick string) string {
	if nick == "" {
		return truncate(base, MaxNameLength)
	}
	if base == "" || equalFold(base, nick) {
		return truncate(nick, MaxNameLength)
	}

	base = truncate(base, MaxNameLength)
	nick = truncate(nick, MaxNameLength)

	baseRunes := []rune(base)
	total := len(baseRunes) + len([]rune(nick)) + len(" ()")
	if total > MaxNameLength {
		overhead := total - MaxNameLength + len(ellipsis)
		if len(baseRunes) <= overhead {
			return nick
		}
		base = string(baseRunes[:len(baseRunes)-overhead]) + ellipsis
	}
	return base + " (" + nick + ")"
}

// PlanName returns the display name a member should have
func PlanName(current, nickname string, cosmetic bool) string {
	return CombineName(BaseName(current, cosmetic), nickname)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-len(ellipsis)]) + ellipsis
}

func equalFold(a, b string) bool {
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}
