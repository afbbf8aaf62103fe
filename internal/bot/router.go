package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lettagram/lettagram/internal/domain"
	"github.com/lettagram/lettagram/internal/store"
	"github.com/lettagram/lettagram/internal/telegram"
	"github.com/lettagram/lettagram/internal/vault"
)

// Options tunes router behaviour. Zero values get defaults.
type Options struct {
	// EditInterval is the minimum time between progressive edits of the
	// streaming reply, protecting Telegram's rate limits.
	EditInterval time.Duration
	// MenuPageSize is how many entries a paginated button menu shows.
	MenuPageSize int
}

// Router dispatches inbound updates: slash commands, free-text
// messages, and button callbacks all resolve through one static table
// so validation and error paths are shared.
type Router struct {
	repo    store.Repository
	vault   *vault.Vault
	gateway Gateway
	sender  telegram.Sender
	guard   *inflightGuard
	logger  *slog.Logger

	commands     map[string]command
	editInterval time.Duration
	pageSize     int
}

// request is the resolved state one inbound event is handled against:
// always the current persisted state, never a cached snapshot.
type request struct {
	chatID    int64
	userID    string
	username  string
	messageID int64
	args      []string
	cred      *domain.Credential      // nil when not authenticated
	selection *domain.AgentSelection  // nil when no agent selected
}

// command is one entry in the dispatch table.
type command struct {
	usage     string // reply when args are missing
	needsAuth bool
	minArgs   int
	run       func(ctx context.Context, req *request) error
}

// NewRouter wires the dispatch table.
func NewRouter(repo store.Repository, v *vault.Vault, gw Gateway, sender telegram.Sender, opts Options, logger *slog.Logger) *Router {
	if opts.EditInterval <= 0 {
		opts.EditInterval = 1500 * time.Millisecond
	}
	if opts.MenuPageSize <= 0 {
		opts.MenuPageSize = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		repo:         repo,
		vault:        v,
		gateway:      gw,
		sender:       sender,
		guard:        newInflightGuard(),
		logger:       logger,
		editInterval: opts.EditInterval,
		pageSize:     opts.MenuPageSize,
	}
	r.commands = map[string]command{
		"start":    {run: r.cmdStart},
		"help":     {run: r.cmdHelp},
		"login":    {run: r.cmdLogin, minArgs: 1, usage: "Usage: `/login <api_key> [server_url]`"},
		"logout":   {run: r.cmdLogout},
		"status":   {run: r.cmdStatus},
		"agent":    {run: r.cmdAgent, needsAuth: true},
		"agents":   {run: r.cmdAgents, needsAuth: true},
		"switch":   {run: r.cmdSwitch, needsAuth: true, minArgs: 1, usage: "Usage: `/switch <shortcut>`"},
		"shortcut": {run: r.cmdShortcut, needsAuth: true},
		"project":  {run: r.cmdProject, needsAuth: true},
		"tool":     {run: r.cmdTool, needsAuth: true},
		"ade":      {run: r.cmdADE, needsAuth: true},
		"cancel":   {run: r.cmdCancel},
	}
	return r
}

// HandleUpdate processes one inbound event end to end. Every path
// produces exactly one user-visible outcome; failures never go silent.
func (r *Router) HandleUpdate(ctx context.Context, u *telegram.Update) {
	switch {
	case u.CallbackQuery != nil:
		r.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil && u.Message.Text != "":
		r.handleMessage(ctx, u.Message)
	default:
		// Update kinds we do not subscribe to; nothing to answer.
		r.logger.Debug("ignoring unsupported update")
	}
}

func (r *Router) handleMessage(ctx context.Context, m *telegram.Message) {
	req := &request{
		chatID:    m.Chat.ID,
		userID:    strconv.FormatInt(m.From.ID, 10),
		username:  m.From.Username,
		messageID: m.MessageID,
	}

	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		r.dispatchFreeText(ctx, req, text)
		return
	}

	name, args := splitCommand(text)
	req.args = args

	// The login message carries a raw API key; delete it before doing
	// anything else, regardless of how validation turns out.
	if name == "login" {
		if err := r.sender.DeleteMessage(ctx, req.chatID, req.messageID); err != nil {
			r.logger.Warn("failed to delete login message", "chat_id", req.chatID, "error", err)
		}
	}

	cmd, known := r.commands[name]
	if !known {
		r.respond(ctx, req.chatID, msgHelp)
		return
	}

	if err := r.resolveState(ctx, req, name); err != nil {
		r.respond(ctx, req.chatID, userErrorMessage(err))
		return
	}

	if cmd.needsAuth && req.cred == nil {
		r.respond(ctx, req.chatID, msgAuthPrompt)
		return
	}
	if len(req.args) < cmd.minArgs {
		r.respond(ctx, req.chatID, cmd.usage)
		return
	}

	if err := cmd.run(ctx, req); err != nil {
		r.logger.Warn("command failed", "command", name, "chat_id", req.chatID, "error", err)
		r.respond(ctx, req.chatID, userErrorMessage(err))
	}
}

// dispatchFreeText implements the free-text row of the state table:
// prompt to authenticate, prompt to select an agent, or relay.
func (r *Router) dispatchFreeText(ctx context.Context, req *request, text string) {
	if err := r.resolveState(ctx, req, ""); err != nil {
		r.respond(ctx, req.chatID, userErrorMessage(err))
		return
	}
	switch {
	case req.cred == nil:
		r.respond(ctx, req.chatID, msgAuthPrompt)
	case req.selection == nil:
		r.respond(ctx, req.chatID, msgSelectAgentPrompt)
	default:
		r.relayText(ctx, req, text)
	}
}

// resolveState loads the current credential and agent selection. A
// corrupt credential is surfaced except for the commands that exist to
// replace it.
func (r *Router) resolveState(ctx context.Context, req *request, cmdName string) error {
	cred, err := r.vault.Retrieve(ctx, req.userID)
	switch {
	case err == nil:
		req.cred = cred
	case errors.Is(err, vault.ErrNotFound):
		// Not authenticated.
	case errors.Is(err, vault.ErrCorrupt):
		if cmdName != "login" && cmdName != "logout" {
			return err
		}
	default:
		return err
	}

	sel, err := r.repo.GetAgent(ctx, req.chatID)
	if err != nil {
		return err
	}
	req.selection = sel
	return nil
}

// respond sends a single outbound message, logging (not raising) a
// transport failure: at that point there is no further way to reach
// the user.
func (r *Router) respond(ctx context.Context, chatID int64, text string) {
	if _, err := r.sender.SendMessage(ctx, chatID, text, nil); err != nil {
		r.logger.Error("failed to send response", "chat_id", chatID, "error", err)
	}
}

// splitCommand parses "/name@bot arg1 arg2" into name and args.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}
