package notifier

import (
	"fmt"
	"strings"

	"noticebot/internal/storage"
)

// ParseMode is Telegram's legacy Markdown.
const ParseMode = "Markdown"

const DefaultWelcome = "Welcome to the notice board bot! You are now registered."

var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

// linkEscaper keeps a URL from terminating the (...) part of a Markdown link.
var linkEscaper = strings.NewReplacer(`)`, `%29`, ` `, `%20`)

// EscapeMarkdown escapes free text for legacy Markdown.
func EscapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// FormatNotice renders the broadcast text for one notice.
func FormatNotice(n storage.Notice) string {
	var b strings.Builder
	b.WriteString("*New Notice*\n")
	b.WriteString(EscapeMarkdown(n.Title))
	b.WriteString("\n*Date:* ")
	b.WriteString(EscapeMarkdown(n.Date))
	b.WriteString("\n[View Notice](")
	b.WriteString(linkEscaper.Replace(n.Link))
	b.WriteString(")")
	return b.String()
}

// FormatAdminAlert tells the operator about a new inbound registration.
func FormatAdminAlert(name, address string) string {
	return fmt.Sprintf("👤 New subscriber registered:\nName: %s\nChat ID: `%s`", EscapeMarkdown(name), strings.ReplaceAll(address, "`", ""))
}

// FormatWelcome returns text, or DefaultWelcome when text is blank.
func FormatWelcome(text string) string {
	if strings.TrimSpace(text) == "" {
		return DefaultWelcome
	}
	return text
}
