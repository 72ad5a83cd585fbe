package session

import "strings"

// maxOutboundRunes caps outbound text so it fits a single chat message.
const maxOutboundRunes = 4000

// Sanitize neutralizes characters the sink's lightweight markup would
// otherwise interpret and truncates the result to the outbound cap. It is
// applied to untrusted text (model output, stored user content), never to
// the bot's own formatted notices.
func Sanitize(text string) string {
	return truncate(escapeMarkup(text))
}

func escapeMarkup(s string) string {
	return strings.ReplaceAll(s, "*", "\\*")
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxOutboundRunes {
		return s
	}
	runes = runes[:maxOutboundRunes]
	// Truncation can orphan an escape backslash.
	if runes[len(runes)-1] == '\\' {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}
