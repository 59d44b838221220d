package control

import (
	"strings"
	"unicode/utf8"
)

// splitMessage splits a message into chunks that fit within maxLen bytes,
// trying to split on newlines when possible and never inside a rune.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// allowList is a set of user IDs. An empty list allows nobody unless
// the caller adds an implicit owner.
type allowList map[string]struct{}

func newAllowList(ids ...string) allowList {
	a := make(allowList, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a[id] = struct{}{}
		}
	}
	return a
}

func (a allowList) allows(id string) bool {
	_, ok := a[id]
	return ok
}
