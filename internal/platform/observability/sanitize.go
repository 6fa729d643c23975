package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rune limits for request attributes copied into log entries and metric labels.
const (
	routeLimit  = 180
	methodLimit = 10
	actorLimit  = 64
	addrLimit   = 64
)

// clip masks control and invalid runes with '?' and keeps at most limit runes. A cut value ends
// in '~' so truncated identifiers are not mistaken for whole ones.
func clip(value string, limit int) string {
	masked := strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return '?'
		}
		return r
	}, value)
	if limit <= 0 || utf8.RuneCountInString(masked) <= limit {
		return masked
	}
	return string([]rune(masked)[:limit-1]) + "~"
}

// SanitizeRoute bounds a chi route pattern; an unmatched request logs as "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return clip(strings.ToUpper(method), methodLimit)
}

// SanitizeActorID bounds the operator identifier taken from the actor header.
func SanitizeActorID(actor string) string {
	return clip(actor, actorLimit)
}
