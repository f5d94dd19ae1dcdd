// Package markdown formats text for Telegram's legacy Markdown parse mode.
package markdown

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Escape makes s safe to place outside an entity.
func Escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// Bold renders s in bold. Legacy Markdown has no escapes inside an entity, so reserved
// characters are emitted escaped between separate bold runs.
func Bold(s string) string {
	var b, run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			b.WriteByte('*')
			b.WriteString(run.String())
			b.WriteByte('*')
			run.Reset()
		}
	}
	for _, r := range s {
		if isReserved(r) {
			flush()
			b.WriteByte('\\')
			b.WriteRune(r)
			continue
		}
		run.WriteRune(r)
	}
	flush()
	return b.String()
}

func isReserved(r rune) bool {
	return r == '_' || r == '*' || r == '`' || r == '['
}
