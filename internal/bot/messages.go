package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lettagram/lettagram/internal/format"
	"github.com/lettagram/lettagram/internal/letta"
	"github.com/lettagram/lettagram/internal/store"
	"github.com/lettagram/lettagram/internal/vault"
)

// Canonical user-facing texts. One message per error kind; no internal
// detail, no credentials, no stack traces. Static strings are written
// in valid MarkdownV2 (reserved characters pre-escaped); the transport
// falls back to plain text if an escape slips through.

const (
	msgAuthPrompt = `🔐 *Authentication required*` + "\n\n" +
		`1\. Get your API key from https://app\.letta\.com` + "\n" +
		"2\\. Send `/login <api_key>`\n\n" +
		`Your login message is deleted immediately, so the key never stays in chat history\.`

	msgSelectAgentPrompt = `🤖 *No agent selected*` + "\n\n" +
		"Use `/agents` to pick one from a menu, or `/agent <id>` if you know the ID\\."

	msgReauth = `⚠️ *Stored credentials could not be read*` + "\n\n" +
		"Please `/logout` and `/login <api_key>` again\\."

	msgStoreDown = `⚠️ Something went wrong saving your data\. Please try again in a moment\.`

	msgRemoteDown = `⚠️ The Letta server is having trouble right now\. Please try again shortly\.`

	msgStreamTimeout = `⏰ The agent took too long to respond and the call was aborted\. ` +
		`Try again, or try a simpler message\.`

	msgBusy = `⏳ Still working on your previous message\. ` +
		"Wait for it to finish, or send `/cancel` to abort it\\."

	msgHelp = `*Commands*` + "\n\n" +
		"`/start` — setup guide\n" +
		"`/login <api_key> [server_url]` — authenticate\n" +
		"`/logout` — remove stored credentials\n" +
		"`/status` — authentication and agent status\n" +
		"`/agent [id]` — show or set the agent for this chat\n" +
		"`/agents` — pick an agent from a menu\n" +
		"`/switch <shortcut>` — switch agent via a shortcut\n" +
		"`/shortcut` — list, `set <name> [agent_id]`, `del <name>`\n" +
		"`/project [id]` — list projects or switch project\n" +
		"`/tool` — list tools, `attach <name>`, `detach <name>`\n" +
		"`/ade` — open this agent in the ADE\n" +
		"`/cancel` — abort the in\\-flight agent call\n" +
		"`/help` — this message"
)

// userErrorMessage maps a typed failure to its canonical chat text.
// This is the single translation point; nothing below the router writes
// to the chat on error.
func userErrorMessage(err error) string {
	switch {
	case errors.Is(err, vault.ErrNotFound):
		return msgAuthPrompt
	case errors.Is(err, vault.ErrCorrupt):
		return msgReauth
	case errors.Is(err, letta.ErrAuth):
		return `🔑 Your API key was rejected\. Use ` + "`/login <api_key>`" + ` to re\-authenticate\.`
	case errors.Is(err, letta.ErrNotFound):
		return `❓ Not found, or not visible to your account\. Use the matching list command \(` +
			"`/agents`, `/project`, `/tool`" + `\) to see what is available\.`
	case errors.Is(err, letta.ErrTimeout):
		return msgStreamTimeout
	case errors.Is(err, letta.ErrRemote):
		return msgRemoteDown
	case errors.Is(err, store.ErrUnavailable):
		return msgStoreDown
	default:
		return `⚠️ Something went wrong\. Please try again\.`
	}
}

// agentListText renders an agent list with the current selection marked.
func agentListText(agents []letta.Agent, currentID string) string {
	var b strings.Builder
	b.WriteString("🤖 *Available agents*\n\n")
	for _, a := range agents {
		marker := "⚪"
		if a.ID == currentID {
			marker = "🟢"
		}
		fmt.Fprintf(&b, "%s %s — %s\n", marker, format.Code(a.ID), format.Escape(a.Name))
	}
	b.WriteString("\nUse `/agent <id>` to select one\\.")
	return b.String()
}

// toolCallText renders a tool invocation the way users expect to see
// it: the archival memory tools get friendly wording, everything else
// shows name plus arguments.
func toolCallText(name, args string) string {
	fields := map[string]string{}
	decodeToolArgs(args, fields)

	switch name {
	case "archival_memory_insert":
		return "*Remembered*\n" + format.Blockquote(format.Escape(fields["content"]))
	case "archival_memory_search":
		return "*Remembering* " + format.Code(fields["query"])
	case "memory_insert":
		return "*Inserting into* " + format.Code(fields["label"]) + "\n" +
			format.Blockquote(format.Escape(fields["new_str"]))
	case "memory_replace":
		return "*Updating memory block* " + format.Code(fields["label"]) + "\n" +
			format.Blockquote(format.Escape(fields["new_str"]))
	default:
		text := "🔧 Using tool " + format.Code(name)
		if args != "" {
			text += "\n" + format.CodeBlock(args)
		}
		return text
	}
}

// decodeToolArgs extracts the string-valued fields of a tool's JSON
// arguments. Malformed arguments leave out untouched; callers fall
// back to showing the raw payload.
func decodeToolArgs(args string, out map[string]string) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		return
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
}

// toolResultText renders a tool's outcome compactly.
func toolResultText(name, status string) string {
	if status == "" || strings.EqualFold(status, "success") {
		return "✅ " + format.Code(name) + " finished"
	}
	return "❌ " + format.Code(name) + " failed: " + format.Escape(status)
}
