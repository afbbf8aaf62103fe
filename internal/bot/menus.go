package bot

import (
	"context"
	"fmt"

	"github.com/lettagram/lettagram/internal/format"
	"github.com/lettagram/lettagram/internal/letta"
	"github.com/lettagram/lettagram/internal/telegram"
)

// Menu state lives in the callback tokens themselves (page index,
// project scope), so a tap always regenerates the menu from the
// platform's current state: nothing to persist, nothing to lose on
// restart, and re-issuing the parent command is always equivalent.

func (r *Router) sendAgentMenu(ctx context.Context, req *request, projectID string, pageIndex int, editID int64) error {
	agents, err := r.gateway.ListAgents(ctx, req.cred, projectID)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		r.respond(ctx, req.chatID, `No agents available here\. Create one at https://app\.letta\.com first\.`)
		return nil
	}

	page := format.Paginate(agents, r.pageSize, pageIndex)

	var rows [][]telegram.Button
	for _, a := range page.Items {
		rows = append(rows, []telegram.Button{{Label: a.Name, Data: "agent:set:" + a.ID}})
	}
	rows = appendNavRow(rows, "agents", page.Index, page.HasPrev, page.HasNext, projectID)

	text := fmt.Sprintf(`🤖 *Select an agent* \(page %d of %d\)`, page.Index+1, page.Count)
	return r.sendOrEditMenu(ctx, req.chatID, editID, text, rows)
}

func (r *Router) sendToolMenu(ctx context.Context, req *request, pageIndex int, editID int64) error {
	tools, err := r.gateway.ListAvailableTools(ctx, req.cred)
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		r.respond(ctx, req.chatID, `No tools available in your account\.`)
		return nil
	}

	page := format.Paginate(tools, r.pageSize, pageIndex)

	var rows [][]telegram.Button
	for _, t := range page.Items {
		rows = append(rows, []telegram.Button{{Label: t.Name, Data: "tool:attach:" + t.ID}})
	}
	rows = appendNavRow(rows, "tools", page.Index, page.HasPrev, page.HasNext, "")

	text := fmt.Sprintf(`🔧 *Attach a tool* \(page %d of %d\)`, page.Index+1, page.Count)
	return r.sendOrEditMenu(ctx, req.chatID, editID, text, rows)
}

// appendNavRow adds prev/next buttons when neighbouring pages exist.
func appendNavRow(rows [][]telegram.Button, menu string, index int, hasPrev, hasNext bool, scope string) [][]telegram.Button {
	var nav []telegram.Button
	if hasPrev {
		nav = append(nav, telegram.Button{Label: "◀ Prev", Data: pageToken(menu, index-1, scope)})
	}
	if hasNext {
		nav = append(nav, telegram.Button{Label: "Next ▶", Data: pageToken(menu, index+1, scope)})
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	return rows
}

// pageToken builds "page:<menu>:<n>" with an optional trailing scope.
func pageToken(menu string, index int, scope string) string {
	token := fmt.Sprintf("page:%s:%d", menu, index)
	if scope != "" {
		token += ":" + scope
	}
	return token
}

func (r *Router) sendOrEditMenu(ctx context.Context, chatID, editID int64, text string, rows [][]telegram.Button) error {
	opts := &telegram.SendOptions{Keyboard: rows}
	if editID != 0 {
		if err := r.sender.EditMessageText(ctx, chatID, editID, text, opts); err != nil {
			r.logger.Warn("failed to edit menu", "chat_id", chatID, "error", err)
		}
		return nil
	}
	if _, err := r.sender.SendMessage(ctx, chatID, text, opts); err != nil {
		r.logger.Error("failed to send menu", "chat_id", chatID, "error", err)
	}
	return nil
}

// toolNameByID resolves a tool ID back to its display name for
// callback confirmations.
func toolNameByID(tools []letta.Tool, id string) string {
	for _, t := range tools {
		if t.ID == id {
			return t.Name
		}
	}
	return id
}
