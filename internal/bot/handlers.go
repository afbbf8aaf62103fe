package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lettagram/lettagram/internal/domain"
	"github.com/lettagram/lettagram/internal/format"
	"github.com/lettagram/lettagram/internal/letta"
	"github.com/lettagram/lettagram/internal/vault"
)

func (r *Router) cmdStart(ctx context.Context, req *request) error {
	if req.cred != nil {
		r.respond(ctx, req.chatID, `👋 *Welcome back\!*`+"\n\n"+
			`You are authenticated and ready to go\.`+"\n\n"+
			"• `/agents` — pick an agent\n"+
			"• `/status` — check your setup\n"+
			"• just type a message to talk to your agent")
		return nil
	}
	r.respond(ctx, req.chatID, `🚀 *Welcome to Lettagram\!*`+"\n\n"+
		`This bot connects you to your Letta agents\.`+"\n\n"+
		`*1\. Get an API key* — https://app\.letta\.com`+"\n"+
		"*2\\. Authenticate* — send `/login <api_key>`\n"+
		`   Your login message is deleted right away for safety\.`+"\n"+
		"*3\\. Pick an agent* — `/agents`\n"+
		`*4\. Chat\!* — just send a message`+"\n\n"+
		"Use `/help` to see every command\\.")
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, req *request) error {
	r.respond(ctx, req.chatID, msgHelp)
	return nil
}

func (r *Router) cmdLogin(ctx context.Context, req *request) error {
	apiKey := req.args[0]
	apiURL := vault.DefaultAPIURL
	if len(req.args) > 1 {
		apiURL = req.args[1]
	}

	if err := r.sender.SendTyping(ctx, req.chatID); err != nil {
		r.logger.Debug("typing indicator failed", "chat_id", req.chatID, "error", err)
	}

	candidate := &domain.Credential{APIKey: apiKey, APIURL: apiURL}
	count, err := r.gateway.ValidateKey(ctx, candidate)
	if err != nil {
		if errors.Is(err, letta.ErrAuth) {
			r.respond(ctx, req.chatID, `❌ That API key was rejected\. Check it and try again\.`)
			return nil
		}
		return err
	}

	if err := r.vault.Store(ctx, req.userID, apiKey, apiURL); err != nil {
		return err
	}

	r.respond(ctx, req.chatID, fmt.Sprintf(
		`✅ *Authentication successful\!*`+"\n\n"+
			`Found %d agent%s in your account\.`+"\n\n"+
			"Next: `/agents` to pick one, then just send a message\\.",
		count, plural(count)))
	return nil
}

func (r *Router) cmdLogout(ctx context.Context, req *request) error {
	if req.cred == nil {
		has, err := r.vault.Has(ctx, req.userID)
		if err != nil {
			return err
		}
		if !has {
			r.respond(ctx, req.chatID, "You are not logged in\\. Use `/login <api_key>` to authenticate\\.")
			return nil
		}
	}
	if err := r.vault.Remove(ctx, req.userID); err != nil {
		return err
	}
	r.respond(ctx, req.chatID, `✅ Logged out\. Your credentials have been removed\.`)
	return nil
}

func (r *Router) cmdStatus(ctx context.Context, req *request) error {
	if req.cred == nil {
		r.respond(ctx, req.chatID, `🔐 *Status*`+"\n\n"+
			`Not authenticated\. Use `+"`/login <api_key>`"+` to get started\.`)
		return nil
	}

	if err := r.sender.SendTyping(ctx, req.chatID); err != nil {
		r.logger.Debug("typing indicator failed", "chat_id", req.chatID, "error", err)
	}

	var b strings.Builder
	b.WriteString("🔐 *Status*\n\n")
	count, err := r.gateway.ValidateKey(ctx, req.cred)
	if err != nil {
		if errors.Is(err, letta.ErrAuth) {
			b.WriteString("Credentials: ❌ no longer valid — `/login <api_key>` again\n")
		} else {
			return err
		}
	} else {
		fmt.Fprintf(&b, "Credentials: ✅ valid, %d agent%s visible\n", count, plural(count))
	}
	fmt.Fprintf(&b, "Server: %s\n", format.Code(req.cred.APIURL))
	if req.selection != nil {
		fmt.Fprintf(&b, "Agent: %s %s\n", format.Escape(req.selection.AgentName), format.Code(req.selection.AgentID))
	} else {
		b.WriteString("Agent: none — `/agents` to pick one\n")
	}
	r.respond(ctx, req.chatID, b.String())
	return nil
}

func (r *Router) cmdAgent(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		agents, err := r.gateway.ListAgents(ctx, req.cred, "")
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			r.respond(ctx, req.chatID, `No agents in your account yet\. Create one at https://app\.letta\.com first\.`)
			return nil
		}
		currentID := ""
		if req.selection != nil {
			currentID = req.selection.AgentID
		}
		r.respond(ctx, req.chatID, agentListText(agents, currentID))
		return nil
	}

	return r.selectAgent(ctx, req, req.args[0])
}

// selectAgent validates an agent against the platform and persists the
// chat's selection. Shared by /agent, /switch, and button taps: no
// agent ID is ever trusted from input alone.
func (r *Router) selectAgent(ctx context.Context, req *request, agentID string) error {
	agent, err := r.gateway.GetAgent(ctx, req.cred, agentID)
	if err != nil {
		return err
	}

	sel := &domain.AgentSelection{
		ChatID:    req.chatID,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		ProjectID: agent.ProjectID,
		UpdatedAt: time.Now(),
	}
	if err := r.repo.SetAgent(ctx, sel); err != nil {
		return err
	}

	r.respond(ctx, req.chatID, fmt.Sprintf(
		`✅ Agent set to %s %s`+"\n\nYou can chat with it now\\.",
		format.Escape(agent.Name), format.Code(agent.ID)))
	return nil
}

func (r *Router) cmdAgents(ctx context.Context, req *request) error {
	return r.sendAgentMenu(ctx, req, "", 0, 0)
}

func (r *Router) cmdSwitch(ctx context.Context, req *request) error {
	name := req.args[0]
	sc, err := r.repo.GetShortcut(ctx, req.userID, name)
	if err != nil {
		return err
	}
	if sc == nil {
		r.respond(ctx, req.chatID, fmt.Sprintf(
			"Unknown shortcut %s\\. Use `/shortcut` to list yours\\.", format.Code(name)))
		return nil
	}
	return r.selectAgent(ctx, req, sc.AgentID)
}

func (r *Router) cmdShortcut(ctx context.Context, req *request) error {
	sub := "list"
	if len(req.args) > 0 {
		sub = strings.ToLower(req.args[0])
	}

	switch sub {
	case "list":
		shortcuts, err := r.repo.ListShortcuts(ctx, req.userID)
		if err != nil {
			return err
		}
		if len(shortcuts) == 0 {
			r.respond(ctx, req.chatID, "No shortcuts yet\\. Create one with `/shortcut set <name> [agent_id]`\\.")
			return nil
		}
		var b strings.Builder
		b.WriteString("⚡ *Shortcuts*\n\n")
		for _, sc := range shortcuts {
			fmt.Fprintf(&b, "%s → %s %s\n",
				format.Code(sc.Name), format.Escape(sc.AgentName), format.Code(sc.AgentID))
		}
		b.WriteString("\nUse `/switch <name>` to activate one\\.")
		r.respond(ctx, req.chatID, b.String())
		return nil

	case "set":
		if len(req.args) < 2 {
			r.respond(ctx, req.chatID, "Usage: `/shortcut set <name> [agent_id]`")
			return nil
		}
		name := req.args[1]
		agentID := ""
		if len(req.args) > 2 {
			agentID = req.args[2]
		} else if req.selection != nil {
			agentID = req.selection.AgentID
		}
		if agentID == "" {
			r.respond(ctx, req.chatID, `No agent given and none selected for this chat\. `+
				"Pass an ID: `/shortcut set <name> <agent_id>`")
			return nil
		}
		agent, err := r.gateway.GetAgent(ctx, req.cred, agentID)
		if err != nil {
			return err
		}
		sc := &domain.Shortcut{
			UserID:    req.userID,
			Name:      name,
			AgentID:   agent.ID,
			AgentName: agent.Name,
			CreatedAt: time.Now(),
		}
		if err := r.repo.SetShortcut(ctx, sc); err != nil {
			return err
		}
		r.respond(ctx, req.chatID, fmt.Sprintf("⚡ %s → %s",
			format.Code(name), format.Escape(agent.Name)))
		return nil

	case "del", "delete", "rm":
		if len(req.args) < 2 {
			r.respond(ctx, req.chatID, "Usage: `/shortcut del <name>`")
			return nil
		}
		name := req.args[1]
		removed, err := r.repo.DeleteShortcut(ctx, req.userID, name)
		if err != nil {
			return err
		}
		if removed {
			r.respond(ctx, req.chatID, fmt.Sprintf("🗑 Shortcut %s removed\\.", format.Code(name)))
		} else {
			r.respond(ctx, req.chatID, fmt.Sprintf("No shortcut named %s\\.", format.Code(name)))
		}
		return nil

	default:
		r.respond(ctx, req.chatID, "Usage: `/shortcut` to list, `/shortcut set <name> [agent_id]`, `/shortcut del <name>`")
		return nil
	}
}

func (r *Router) cmdProject(ctx context.Context, req *request) error {
	projects, err := r.gateway.ListProjects(ctx, req.cred)
	if err != nil {
		return err
	}

	if len(req.args) == 0 {
		if len(projects) == 0 {
			r.respond(ctx, req.chatID, `No projects visible to your account\.`)
			return nil
		}
		currentID := ""
		if req.selection != nil {
			currentID = req.selection.ProjectID
		}
		var b strings.Builder
		b.WriteString("📁 *Projects*\n\n")
		for _, p := range projects {
			marker := "⚪"
			if p.ID == currentID {
				marker = "🟢"
			}
			fmt.Fprintf(&b, "%s %s — %s\n", marker, format.Code(p.ID), format.Escape(p.Name))
		}
		b.WriteString("\nUse `/project <id>` to switch\\.")
		r.respond(ctx, req.chatID, b.String())
		return nil
	}

	target := req.args[0]
	var selected *letta.Project
	for i := range projects {
		if projects[i].ID == target || projects[i].Slug == target {
			selected = &projects[i]
			break
		}
	}
	if selected == nil {
		return fmt.Errorf("project %q: %w", target, letta.ErrNotFound)
	}

	// An agent ID is only meaningful within its project: switching
	// projects clears the chat's agent selection.
	if err := r.repo.ClearAgent(ctx, req.chatID); err != nil {
		return err
	}

	r.respond(ctx, req.chatID, fmt.Sprintf(
		`📁 Switched to project %s\. The agent selection for this chat was cleared\.`,
		format.Escape(selected.Name)))
	return r.sendAgentMenu(ctx, req, selected.ID, 0, 0)
}

func (r *Router) cmdTool(ctx context.Context, req *request) error {
	if req.selection == nil {
		r.respond(ctx, req.chatID, msgSelectAgentPrompt)
		return nil
	}

	sub := "list"
	if len(req.args) > 0 {
		sub = strings.ToLower(req.args[0])
	}

	switch sub {
	case "list":
		overview, err := r.gateway.AgentOverview(ctx, req.cred, req.selection.AgentID)
		if err != nil {
			return err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "🔧 *Tools on %s*\n\n", format.Escape(overview.Agent.Name))
		if len(overview.Tools) == 0 {
			b.WriteString("None attached\\.\n")
		}
		for _, t := range overview.Tools {
			fmt.Fprintf(&b, "• %s\n", format.Code(t.Name))
		}
		b.WriteString("\n`/tool attach <name>` · `/tool detach <name>`")
		r.respond(ctx, req.chatID, b.String())
		return nil

	case "attach":
		if len(req.args) < 2 {
			// Bare attach opens the pick-a-tool menu.
			return r.sendToolMenu(ctx, req, 0, 0)
		}
		return r.toolChange(ctx, req, sub, req.args[1])

	case "detach":
		if len(req.args) < 2 {
			r.respond(ctx, req.chatID, "Usage: `/tool detach <name>`")
			return nil
		}
		return r.toolChange(ctx, req, sub, req.args[1])

	default:
		r.respond(ctx, req.chatID, "Usage: `/tool` to list, `/tool attach <name>`, `/tool detach <name>`")
		return nil
	}
}

// toolChange resolves a tool name and attaches or detaches it. Multiple
// matches are listed for the user to disambiguate; nothing is guessed.
func (r *Router) toolChange(ctx context.Context, req *request, verb, name string) error {
	tools, err := r.gateway.ListAvailableTools(ctx, req.cred)
	if err != nil {
		return err
	}

	matches := matchTools(tools, name)
	switch len(matches) {
	case 0:
		return fmt.Errorf("tool %q: %w", name, letta.ErrNotFound)
	case 1:
		// Unambiguous; proceed.
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "Multiple tools match %s:\n\n", format.Code(name))
		for _, t := range matches {
			fmt.Fprintf(&b, "• %s\n", format.Code(t.Name))
		}
		b.WriteString("\nRepeat the command with the exact name\\.")
		r.respond(ctx, req.chatID, b.String())
		return nil
	}

	tool := matches[0]
	var outcome letta.AttachOutcome
	if verb == "attach" {
		outcome, err = r.gateway.AttachTool(ctx, req.cred, req.selection.AgentID, tool.ID)
	} else {
		outcome, err = r.gateway.DetachTool(ctx, req.cred, req.selection.AgentID, tool.ID)
	}
	if err != nil {
		return err
	}

	r.respond(ctx, req.chatID, toolOutcomeText(verb, tool.Name, outcome))
	return nil
}

// matchTools returns tools matching name: exact matches win outright,
// otherwise substring matches are candidates.
func matchTools(tools []letta.Tool, name string) []letta.Tool {
	var exact, partial []letta.Tool
	for _, t := range tools {
		switch {
		case t.Name == name || t.ID == name:
			exact = append(exact, t)
		case strings.Contains(t.Name, name):
			partial = append(partial, t)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return partial
}

// toolOutcomeText reports changed state, already-in-desired-state, and
// not-attached distinctly.
func toolOutcomeText(verb, name string, outcome letta.AttachOutcome) string {
	code := format.Code(name)
	switch outcome {
	case letta.OutcomeAlreadyAttached:
		return fmt.Sprintf("%s is already attached\\.", code)
	case letta.OutcomeNotAttached:
		return fmt.Sprintf("%s is not attached\\.", code)
	default:
		if verb == "attach" {
			return fmt.Sprintf("✅ Attached %s\\.", code)
		}
		return fmt.Sprintf("✅ Detached %s\\.", code)
	}
}

func (r *Router) cmdADE(ctx context.Context, req *request) error {
	if req.selection == nil {
		r.respond(ctx, req.chatID, msgSelectAgentPrompt)
		return nil
	}
	r.respond(ctx, req.chatID, fmt.Sprintf(
		`🔗 *Agent Development Environment*`+"\n\n"+
			`%s %s`+"\n"+
			`https://app\.letta\.com/agents/%s`,
		format.Escape(req.selection.AgentName),
		format.Code(req.selection.AgentID),
		format.Escape(req.selection.AgentID)))
	return nil
}

func (r *Router) cmdCancel(ctx context.Context, req *request) error {
	if r.guard.cancel(req.chatID) {
		r.respond(ctx, req.chatID, `🛑 Cancelled the in\-flight agent call\.`)
	} else {
		r.respond(ctx, req.chatID, `Nothing is in flight for this chat\.`)
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
