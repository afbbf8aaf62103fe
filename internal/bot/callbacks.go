package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/lettagram/lettagram/internal/letta"
	"github.com/lettagram/lettagram/internal/telegram"
)

// handleCallback processes a button tap. The callback data is an
// opaque action token resolved through the same validation paths as
// typed commands; a stale token against vanished remote state fails
// exactly like the equivalent command would.
func (r *Router) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	// Acknowledge first so the client stops its spinner whatever happens
	// next.
	if err := r.sender.AnswerCallback(ctx, cb.ID, ""); err != nil {
		r.logger.Debug("answer callback failed", "callback_id", cb.ID, "error", err)
	}

	if cb.Message == nil {
		// Message too old for Telegram to reference; the parent command
		// can simply be re-issued.
		return
	}

	req := &request{
		chatID:    cb.Message.Chat.ID,
		userID:    strconv.FormatInt(cb.From.ID, 10),
		username:  cb.From.Username,
		messageID: cb.Message.MessageID,
	}

	if err := r.resolveState(ctx, req, ""); err != nil {
		r.respond(ctx, req.chatID, userErrorMessage(err))
		return
	}
	if req.cred == nil {
		// Every button action acts on the user's account.
		r.respond(ctx, req.chatID, msgAuthPrompt)
		return
	}

	if err := r.dispatchCallback(ctx, req, cb.Data); err != nil {
		r.logger.Warn("callback failed", "data", cb.Data, "chat_id", req.chatID, "error", err)
		r.respond(ctx, req.chatID, userErrorMessage(err))
	}
}

func (r *Router) dispatchCallback(ctx context.Context, req *request, data string) error {
	parts := strings.Split(data, ":")

	switch {
	case len(parts) >= 3 && parts[0] == "page" && parts[1] == "agents":
		pageIndex, _ := strconv.Atoi(parts[2])
		scope := ""
		if len(parts) > 3 {
			scope = strings.Join(parts[3:], ":")
		}
		return r.sendAgentMenu(ctx, req, scope, pageIndex, req.messageID)

	case len(parts) >= 3 && parts[0] == "page" && parts[1] == "tools":
		pageIndex, _ := strconv.Atoi(parts[2])
		return r.sendToolMenu(ctx, req, pageIndex, req.messageID)

	case len(parts) >= 3 && parts[0] == "agent" && parts[1] == "set":
		return r.selectAgent(ctx, req, strings.Join(parts[2:], ":"))

	case len(parts) >= 3 && parts[0] == "tool" && (parts[1] == "attach" || parts[1] == "detach"):
		if req.selection == nil {
			r.respond(ctx, req.chatID, msgSelectAgentPrompt)
			return nil
		}
		toolID := strings.Join(parts[2:], ":")
		tools, err := r.gateway.ListAvailableTools(ctx, req.cred)
		if err != nil {
			return err
		}
		name := toolNameByID(tools, toolID)
		var outcome letta.AttachOutcome
		if parts[1] == "attach" {
			outcome, err = r.gateway.AttachTool(ctx, req.cred, req.selection.AgentID, toolID)
		} else {
			outcome, err = r.gateway.DetachTool(ctx, req.cred, req.selection.AgentID, toolID)
		}
		if err != nil {
			return err
		}
		r.respond(ctx, req.chatID, toolOutcomeText(parts[1], name, outcome))
		return nil

	default:
		r.logger.Debug("ignoring unknown callback token", "data", data)
		return nil
	}
}
