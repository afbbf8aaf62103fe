// Package format renders agent output into transport-safe Telegram
// messages: MarkdownV2 escaping, size-bounded chunking, and menu
// pagination. Everything here is stateless.
package format

import "strings"

// TelegramMessageLimit is Telegram's hard cap on outbound message size.
const TelegramMessageLimit = 4096

// markdownV2Reserved is the set of characters MarkdownV2 reserves.
// A backslash must also be escaped so literal backslashes survive.
const markdownV2Reserved = `\_*[]()~` + "`" + `>#+-=|{}.!`

// Escape escapes MarkdownV2-reserved characters in a literal text span.
// Apply only to raw text; markup emitted by the bot itself (Bold, Code,
// Blockquote) wraps already-escaped content and must not be re-escaped.
func Escape(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/8)
	for _, r := range text {
		if r < 128 && strings.ContainsRune(markdownV2Reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Bold wraps an already-escaped span in MarkdownV2 bold markers.
func Bold(escaped string) string {
	return "*" + escaped + "*"
}

// Italic wraps an already-escaped span in MarkdownV2 italic markers.
func Italic(escaped string) string {
	return "_" + escaped + "_"
}

// Code wraps raw text in an inline code span. Inside code spans only
// backquotes and backslashes are special.
func Code(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return "`" + r.Replace(text) + "`"
}

// CodeBlock wraps raw text in a fenced code block.
func CodeBlock(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return "```\n" + r.Replace(text) + "\n```"
}

// Blockquote prefixes each line of an already-escaped span with the
// MarkdownV2 quote marker.
func Blockquote(escaped string) string {
	lines := strings.Split(escaped, "\n")
	for i, line := range lines {
		lines[i] = ">" + line
	}
	return strings.Join(lines, "\n")
}
