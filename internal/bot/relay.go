package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/lettagram/lettagram/internal/format"
	"github.com/lettagram/lettagram/internal/letta"
)

// relayText sends free text to the chat's agent and relays the streamed
// reply. At most one call is in flight per chat; assistant text is
// progressively edited into a preview message under an edit-rate
// limiter, then the final text is chunked to Telegram's size cap.
func (r *Router) relayText(ctx context.Context, req *request, text string) {
	relayCtx, cancel := context.WithCancel(ctx)
	if !r.guard.tryAcquire(req.chatID, cancel) {
		cancel()
		r.respond(ctx, req.chatID, msgBusy)
		return
	}
	defer func() {
		r.guard.release(req.chatID)
		cancel()
	}()

	if err := r.sender.SendTyping(relayCtx, req.chatID); err != nil {
		r.logger.Debug("typing indicator failed", "chat_id", req.chatID, "error", err)
	}

	// The agent sees where the message came from; its own memory holds
	// the rest of the conversation.
	content := fmt.Sprintf("[Message from Telegram user %s (chat_id: %d)]\n\n%s",
		displayName(req), req.chatID, text)

	limiter := rate.NewLimiter(rate.Every(r.editInterval), 1)
	var acc strings.Builder
	var previewID int64
	sentAnything := false

	for event, err := range r.gateway.SendMessage(relayCtx, req.cred, req.selection.AgentID, content) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// /cancel already told the user; nothing more to say.
				r.logger.Info("relay cancelled", "chat_id", req.chatID)
				return
			}
			// Respond on the parent context: relayCtx may be dead.
			r.respond(ctx, req.chatID, userErrorMessage(err))
			return
		}

		switch event.Kind {
		case letta.EventAssistant:
			acc.WriteString(event.Text)
			r.updatePreview(relayCtx, req.chatID, &previewID, acc.String(), limiter)

		case letta.EventReasoning:
			r.respond(relayCtx, req.chatID, "🤔 *Reasoning*\n"+format.Blockquote(format.Escape(event.Text)))
			sentAnything = true

		case letta.EventToolCall:
			r.respond(relayCtx, req.chatID, toolCallText(event.ToolName, event.ToolArgs))
			sentAnything = true

		case letta.EventToolResult:
			r.respond(relayCtx, req.chatID, toolResultText(event.ToolName, event.Status))
			sentAnything = true

		case letta.EventSystemAlert:
			r.respond(relayCtx, req.chatID, "ℹ️ "+format.Escape(event.Text))
			sentAnything = true

		case letta.EventEnd:
			// Finalized below.
		}
	}

	r.finishReply(ctx, req.chatID, acc.String(), previewID, sentAnything)
}

// updatePreview edits (or first sends) the in-progress assistant
// message, throttled so Telegram's rate limits survive chatty streams.
// Once the accumulated text outgrows one message, live previewing
// stops; the full text is chunked at the end.
func (r *Router) updatePreview(ctx context.Context, chatID int64, previewID *int64, accumulated string, limiter *rate.Limiter) {
	if !limiter.Allow() {
		return
	}
	escaped := format.Escape(accumulated)
	if len(escaped) > format.TelegramMessageLimit {
		return
	}
	if *previewID == 0 {
		id, err := r.sender.SendMessage(ctx, chatID, escaped, nil)
		if err != nil {
			r.logger.Warn("failed to send preview", "chat_id", chatID, "error", err)
			return
		}
		*previewID = id
		return
	}
	if err := r.sender.EditMessageText(ctx, chatID, *previewID, escaped, nil); err != nil {
		r.logger.Debug("failed to edit preview", "chat_id", chatID, "error", err)
	}
}

// finishReply delivers the final assistant text: the first chunk lands
// in the preview message when one exists, the rest follow as new
// messages. A stream that produced nothing at all still yields one
// user-visible outcome.
func (r *Router) finishReply(ctx context.Context, chatID int64, finalText string, previewID int64, sentAnything bool) {
	if strings.TrimSpace(finalText) == "" {
		if !sentAnything {
			r.respond(ctx, chatID, `The agent finished without sending a reply\.`)
		}
		return
	}

	chunks := format.Chunk(format.Escape(finalText), format.TelegramMessageLimit)

	first := chunks[0]
	if previewID != 0 {
		if err := r.sender.EditMessageText(ctx, chatID, previewID, first, nil); err != nil {
			r.logger.Debug("final preview edit failed, sending fresh", "chat_id", chatID, "error", err)
			r.respond(ctx, chatID, first)
		}
	} else {
		r.respond(ctx, chatID, first)
	}

	for _, chunk := range chunks[1:] {
		r.respond(ctx, chatID, chunk)
	}
}

func displayName(req *request) string {
	if req.username != "" {
		return "@" + req.username
	}
	return req.userID
}
