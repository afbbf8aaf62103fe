package bot

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lettagram/lettagram/internal/domain"
	"github.com/lettagram/lettagram/internal/letta"
	"github.com/lettagram/lettagram/internal/store"
	"github.com/lettagram/lettagram/internal/telegram"
	"github.com/lettagram/lettagram/internal/vault"
)

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	mu        sync.Mutex
	creds     map[string]*domain.CredentialRecord
	agents    map[int64]*domain.AgentSelection
	shortcuts map[string]map[string]*domain.Shortcut
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		creds:     make(map[string]*domain.CredentialRecord),
		agents:    make(map[int64]*domain.AgentSelection),
		shortcuts: make(map[string]map[string]*domain.Shortcut),
	}
}

func (f *fakeRepo) GetCredential(_ context.Context, userID string) (*domain.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[userID], nil
}

func (f *fakeRepo) PutCredential(_ context.Context, rec *domain.CredentialRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[rec.UserID] = rec
	return nil
}

func (f *fakeRepo) DeleteCredential(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creds, userID)
	return nil
}

func (f *fakeRepo) GetAgent(_ context.Context, chatID int64) (*domain.AgentSelection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[chatID], nil
}

func (f *fakeRepo) SetAgent(_ context.Context, sel *domain.AgentSelection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[sel.ChatID] = sel
	return nil
}

func (f *fakeRepo) ClearAgent(_ context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.agents, chatID)
	return nil
}

func (f *fakeRepo) ListShortcuts(_ context.Context, userID string) ([]*domain.Shortcut, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Shortcut
	for _, sc := range f.shortcuts[userID] {
		out = append(out, sc)
	}
	return out, nil
}

func (f *fakeRepo) GetShortcut(_ context.Context, userID, name string) (*domain.Shortcut, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shortcuts[userID][name], nil
}

func (f *fakeRepo) SetShortcut(_ context.Context, sc *domain.Shortcut) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shortcuts[sc.UserID] == nil {
		f.shortcuts[sc.UserID] = make(map[string]*domain.Shortcut)
	}
	f.shortcuts[sc.UserID][sc.Name] = sc
	return nil
}

func (f *fakeRepo) DeleteShortcut(_ context.Context, userID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.shortcuts[userID][name]; !ok {
		return false, nil
	}
	delete(f.shortcuts[userID], name)
	return true, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

var _ store.Repository = (*fakeRepo)(nil)

// fakeGateway is an in-memory Gateway with scriptable streams.
type fakeGateway struct {
	mu       sync.Mutex
	agents   []letta.Agent
	projects []letta.Project
	tools    []letta.Tool            // account-wide
	attached map[string][]letta.Tool // by agent ID

	authErr error // when set, every call fails with it

	// streamFn, when set, scripts SendMessage. Otherwise the stream
	// replays streamEvents followed by an end event.
	streamFn     func(ctx context.Context, agentID, content string) iter.Seq2[*letta.StreamEvent, error]
	streamEvents []*letta.StreamEvent

	calls       []string
	lastContent string
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) recorded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) ListAgents(_ context.Context, _ *domain.Credential, projectID string) ([]letta.Agent, error) {
	g.record("ListAgents")
	if g.authErr != nil {
		return nil, g.authErr
	}
	if projectID == "" {
		return g.agents, nil
	}
	var out []letta.Agent
	for _, a := range g.agents {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *fakeGateway) GetAgent(_ context.Context, _ *domain.Credential, agentID string) (*letta.Agent, error) {
	g.record("GetAgent")
	if g.authErr != nil {
		return nil, g.authErr
	}
	for i := range g.agents {
		if g.agents[i].ID == agentID {
			return &g.agents[i], nil
		}
	}
	return nil, fmt.Errorf("agent %q: %w", agentID, letta.ErrNotFound)
}

func (g *fakeGateway) ListProjects(context.Context, *domain.Credential) ([]letta.Project, error) {
	g.record("ListProjects")
	if g.authErr != nil {
		return nil, g.authErr
	}
	return g.projects, nil
}

func (g *fakeGateway) ListTools(_ context.Context, _ *domain.Credential, agentID string) ([]letta.Tool, error) {
	g.record("ListTools")
	return g.attached[agentID], nil
}

func (g *fakeGateway) ListAvailableTools(context.Context, *domain.Credential) ([]letta.Tool, error) {
	g.record("ListAvailableTools")
	return g.tools, nil
}

func (g *fakeGateway) AgentOverview(ctx context.Context, cred *domain.Credential, agentID string) (*letta.AgentOverview, error) {
	g.record("AgentOverview")
	agent, err := g.GetAgent(ctx, cred, agentID)
	if err != nil {
		return nil, err
	}
	return &letta.AgentOverview{Agent: *agent, Tools: g.attached[agentID]}, nil
}

func (g *fakeGateway) AttachTool(_ context.Context, _ *domain.Credential, agentID, toolID string) (letta.AttachOutcome, error) {
	g.record("AttachTool")
	for _, t := range g.attached[agentID] {
		if t.ID == toolID {
			return letta.OutcomeAlreadyAttached, nil
		}
	}
	for _, t := range g.tools {
		if t.ID == toolID {
			if g.attached == nil {
				g.attached = make(map[string][]letta.Tool)
			}
			g.attached[agentID] = append(g.attached[agentID], t)
			return letta.OutcomeChanged, nil
		}
	}
	return letta.OutcomeChanged, fmt.Errorf("tool %q: %w", toolID, letta.ErrNotFound)
}

func (g *fakeGateway) DetachTool(_ context.Context, _ *domain.Credential, agentID, toolID string) (letta.AttachOutcome, error) {
	g.record("DetachTool")
	attached := g.attached[agentID]
	for i, t := range attached {
		if t.ID == toolID {
			g.attached[agentID] = append(attached[:i:i], attached[i+1:]...)
			return letta.OutcomeChanged, nil
		}
	}
	return letta.OutcomeNotAttached, nil
}

func (g *fakeGateway) ValidateKey(ctx context.Context, cred *domain.Credential) (int, error) {
	g.record("ValidateKey")
	if g.authErr != nil {
		return 0, g.authErr
	}
	return len(g.agents), nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, _ *domain.Credential, agentID, content string) iter.Seq2[*letta.StreamEvent, error] {
	g.record("SendMessage")
	g.mu.Lock()
	g.lastContent = content
	g.mu.Unlock()
	if g.streamFn != nil {
		return g.streamFn(ctx, agentID, content)
	}
	events := g.streamEvents
	return func(yield func(*letta.StreamEvent, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
		yield(&letta.StreamEvent{Kind: letta.EventEnd}, nil)
	}
}

var _ Gateway = (*fakeGateway)(nil)

// recordingSender captures every outbound Telegram operation.
type recordingSender struct {
	mu      sync.Mutex
	nextID  int64
	sent    []sentRecord
	edits   []sentRecord
	deleted []int64
}

type sentRecord struct {
	chatID    int64
	messageID int64
	text      string
	opts      *telegram.SendOptions
}

func (s *recordingSender) SendMessage(_ context.Context, chatID int64, text string, opts *telegram.SendOptions) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.sent = append(s.sent, sentRecord{chatID: chatID, messageID: s.nextID, text: text, opts: opts})
	return s.nextID, nil
}

func (s *recordingSender) EditMessageText(_ context.Context, chatID, messageID int64, text string, opts *telegram.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, sentRecord{chatID: chatID, messageID: messageID, text: text, opts: opts})
	return nil
}

func (s *recordingSender) DeleteMessage(_ context.Context, _, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, messageID)
	return nil
}

func (s *recordingSender) AnswerCallback(context.Context, string, string) error { return nil }
func (s *recordingSender) SendTyping(context.Context, int64) error              { return nil }

func (s *recordingSender) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, r := range s.sent {
		out[i] = r.text
	}
	return out
}

func (s *recordingSender) lastSent(t *testing.T) sentRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return s.sent[len(s.sent)-1]
}

func (s *recordingSender) sawText(substr string) bool {
	for _, text := range s.sentTexts() {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

var _ telegram.Sender = (*recordingSender)(nil)

// testEnv wires a Router against fakes.
type testEnv struct {
	repo   *fakeRepo
	vault  *vault.Vault
	gw     *fakeGateway
	sender *recordingSender
	router *Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newFakeRepo()
	v, err := vault.New("test-master", repo)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	gw := &fakeGateway{
		agents: []letta.Agent{
			{ID: "agent-1", Name: "Scratch"},
			{ID: "agent-2", Name: "Planner", ProjectID: "proj-1"},
		},
		projects: []letta.Project{
			{ID: "proj-1", Name: "Main", Slug: "main"},
		},
		tools: []letta.Tool{
			{ID: "tool-1", Name: "web_search"},
			{ID: "tool-2", Name: "web_search_advanced"},
			{ID: "tool-3", Name: "run_code"},
		},
		attached: make(map[string][]letta.Tool),
	}
	sender := &recordingSender{}
	logger := slog.New(slog.NewTextHandler(routerLogWriter{t}, nil))
	r := NewRouter(repo, v, gw, sender, Options{EditInterval: time.Millisecond}, logger)
	return &testEnv{repo: repo, vault: v, gw: gw, sender: sender, router: r}
}

type routerLogWriter struct{ t *testing.T }

func (w routerLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

const (
	testChatID = int64(1000)
	testUserID = int64(77)
)

func textUpdate(text string) *telegram.Update {
	return &telegram.Update{
		Message: &telegram.Message{
			MessageID: 5,
			From:      &telegram.User{ID: testUserID, Username: "alice"},
			Chat:      telegram.Chat{ID: testChatID},
			Text:      text,
		},
	}
}

func callbackUpdate(data string) *telegram.Update {
	return &telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cb-1",
			From: telegram.User{ID: testUserID, Username: "alice"},
			Message: &telegram.Message{
				MessageID: 9,
				Chat:      telegram.Chat{ID: testChatID},
			},
			Data: data,
		},
	}
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	e.router.HandleUpdate(context.Background(), textUpdate("/login sk-test-key"))
	if !e.sender.sawText("Authentication successful") {
		t.Fatalf("login did not succeed: %v", e.sender.sentTexts())
	}
}

func (e *testEnv) selectAgent(t *testing.T, agentID string) {
	t.Helper()
	e.router.HandleUpdate(context.Background(), textUpdate("/agent "+agentID))
	if !e.sender.sawText("Agent set to") {
		t.Fatalf("agent selection failed: %v", e.sender.sentTexts())
	}
}

func TestFreeTextUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	env.router.HandleUpdate(context.Background(), textUpdate("hello there"))

	if !env.sender.sawText("Authentication required") {
		t.Errorf("sent = %v, want auth prompt", env.sender.sentTexts())
	}
	if len(env.gw.recorded()) != 0 {
		t.Errorf("gateway was called before authentication: %v", env.gw.recorded())
	}
}

func TestCommandNeedsAuth(t *testing.T) {
	env := newTestEnv(t)
	env.router.HandleUpdate(context.Background(), textUpdate("/agents"))

	if !env.sender.sawText("Authentication required") {
		t.Errorf("sent = %v, want auth prompt", env.sender.sentTexts())
	}
}

func TestUnknownCommandShowsHelp(t *testing.T) {
	env := newTestEnv(t)
	env.router.HandleUpdate(context.Background(), textUpdate("/frobnicate"))

	if !env.sender.sawText("*Commands*") {
		t.Errorf("sent = %v, want help text", env.sender.sentTexts())
	}
}

func TestLoginDeletesMessageAndStoresCredential(t *testing.T) {
	env := newTestEnv(t)
	env.router.HandleUpdate(context.Background(), textUpdate("/login sk-secret"))

	if len(env.sender.deleted) != 1 || env.sender.deleted[0] != 5 {
		t.Errorf("deleted = %v, want the login message", env.sender.deleted)
	}
	if !env.sender.sawText("Authentication successful") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
	for _, text := range env.sender.sentTexts() {
		if strings.Contains(text, "sk-secret") {
			t.Error("outbound message echoed the API key")
		}
	}

	cred, err := env.vault.Retrieve(context.Background(), "77")
	if err != nil {
		t.Fatalf("Retrieve after login: %v", err)
	}
	if cred.APIKey != "sk-secret" || cred.APIURL != vault.DefaultAPIURL {
		t.Errorf("stored credential = %+v", cred)
	}
}

func TestLoginRejectedKeyStillDeletesMessage(t *testing.T) {
	env := newTestEnv(t)
	env.gw.authErr = fmt.Errorf("letta: %w", letta.ErrAuth)

	env.router.HandleUpdate(context.Background(), textUpdate("/login sk-bad"))

	if len(env.sender.deleted) != 1 {
		t.Errorf("deleted = %v, want the login message even on rejection", env.sender.deleted)
	}
	if !env.sender.sawText("rejected") {
		t.Errorf("sent = %v, want rejection text", env.sender.sentTexts())
	}
	if ok, _ := env.vault.Has(context.Background(), "77"); ok {
		t.Error("rejected key was stored")
	}
}

func TestLoginCustomServer(t *testing.T) {
	env := newTestEnv(t)
	env.router.HandleUpdate(context.Background(), textUpdate("/login sk-key https://letta.internal:8283"))

	cred, err := env.vault.Retrieve(context.Background(), "77")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if cred.APIURL != "https://letta.internal:8283" {
		t.Errorf("APIURL = %q", cred.APIURL)
	}
}

func TestLoginMissingArgs(t *testing.T) {
	env := newTestEnv(t)
	env.router.HandleUpdate(context.Background(), textUpdate("/login"))

	if len(env.sender.deleted) != 1 {
		t.Errorf("deleted = %v, want even the bare /login deleted", env.sender.deleted)
	}
	if !env.sender.sawText("Usage:") {
		t.Errorf("sent = %v, want usage", env.sender.sentTexts())
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.router.HandleUpdate(context.Background(), textUpdate("/logout"))
	if !env.sender.sawText("Logged out") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
	if ok, _ := env.vault.Has(context.Background(), "77"); ok {
		t.Error("credential survived logout")
	}

	// Logging out again is a soft miss, not an error.
	env.router.HandleUpdate(context.Background(), textUpdate("/logout"))
	if !env.sender.sawText("not logged in") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
}

func TestAuthenticatedFreeTextWithoutAgent(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.router.HandleUpdate(context.Background(), textUpdate("hello"))
	if !env.sender.sawText("No agent selected") {
		t.Errorf("sent = %v, want select-agent prompt", env.sender.sentTexts())
	}
	for _, call := range env.gw.recorded() {
		if call == "SendMessage" {
			t.Error("free text reached the gateway without an agent selected")
		}
	}
}

func TestSelectAgentValidatesAndPersists(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.router.HandleUpdate(context.Background(), textUpdate("/agent agent-1"))
	if !env.sender.sawText("Agent set to") {
		t.Fatalf("sent = %v", env.sender.sentTexts())
	}

	sel, err := env.repo.GetAgent(context.Background(), testChatID)
	if err != nil || sel == nil {
		t.Fatalf("GetAgent = %+v, %v", sel, err)
	}
	if sel.AgentID != "agent-1" || sel.AgentName != "Scratch" {
		t.Errorf("selection = %+v", sel)
	}
}

func TestSelectUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.router.HandleUpdate(context.Background(), textUpdate("/agent agent-nope"))
	if !env.sender.sawText("Not found") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
	if sel, _ := env.repo.GetAgent(context.Background(), testChatID); sel != nil {
		t.Errorf("invalid agent was persisted: %+v", sel)
	}
}

func TestRelayAssistantText(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	env.gw.streamEvents = []*letta.StreamEvent{
		{Kind: letta.EventAssistant, Text: "Hello "},
		{Kind: letta.EventAssistant, Text: "world."},
	}

	env.router.HandleUpdate(context.Background(), textUpdate("say hi"))

	if !strings.Contains(env.gw.lastContent, "say hi") {
		t.Errorf("agent content = %q, want the user text", env.gw.lastContent)
	}
	if !strings.HasPrefix(env.gw.lastContent, "[Message from Telegram user @alice (chat_id: 1000)]") {
		t.Errorf("agent content = %q, want provenance header", env.gw.lastContent)
	}

	// The final text lands either as an edit of the preview or a fresh
	// message, already escaped.
	want := `Hello world\.`
	found := env.sender.sawText(want)
	env.sender.mu.Lock()
	for _, e := range env.sender.edits {
		if strings.Contains(e.text, want) {
			found = true
		}
	}
	env.sender.mu.Unlock()
	if !found {
		t.Errorf("final reply %q not delivered; sent=%v edits=%v", want, env.sender.sentTexts(), env.sender.edits)
	}
}

func TestRelayToolEvents(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	env.gw.streamEvents = []*letta.StreamEvent{
		{Kind: letta.EventReasoning, Text: "let me check"},
		{Kind: letta.EventToolCall, ToolName: "web_search", ToolArgs: `{"query":"weather"}`},
		{Kind: letta.EventToolResult, ToolName: "web_search", Status: "success"},
		{Kind: letta.EventAssistant, Text: "Sunny."},
	}

	env.router.HandleUpdate(context.Background(), textUpdate("weather?"))

	if !env.sender.sawText("Reasoning") {
		t.Errorf("reasoning event not relayed: %v", env.sender.sentTexts())
	}
	if !env.sender.sawText("Using tool") {
		t.Errorf("tool call not relayed: %v", env.sender.sentTexts())
	}
	if !env.sender.sawText("finished") {
		t.Errorf("tool result not relayed: %v", env.sender.sentTexts())
	}
}

func TestRelayEmptyStream(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	env.gw.streamEvents = nil
	env.router.HandleUpdate(context.Background(), textUpdate("anyone home?"))

	if !env.sender.sawText("finished without sending a reply") {
		t.Errorf("sent = %v, want the no-reply notice", env.sender.sentTexts())
	}
}

func TestRelayTimeoutError(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	env.gw.streamFn = func(context.Context, string, string) iter.Seq2[*letta.StreamEvent, error] {
		return func(yield func(*letta.StreamEvent, error) bool) {
			yield(&letta.StreamEvent{Kind: letta.EventAssistant, Text: "par"}, nil)
			yield(nil, fmt.Errorf("%w: no event for 90s", letta.ErrTimeout))
		}
	}

	env.router.HandleUpdate(context.Background(), textUpdate("slow question"))

	if !env.sender.sawText("took too long") {
		t.Errorf("sent = %v, want timeout text", env.sender.sentTexts())
	}
}

func TestRelayRejectsConcurrentMessage(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	started := make(chan struct{})
	env.gw.streamFn = func(ctx context.Context, _, _ string) iter.Seq2[*letta.StreamEvent, error] {
		return func(yield func(*letta.StreamEvent, error) bool) {
			close(started)
			<-ctx.Done()
			yield(nil, ctx.Err())
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.router.HandleUpdate(context.Background(), textUpdate("first"))
	}()
	<-started

	// Second message while the first streams: rejected with the busy
	// hint, no second gateway call.
	env.router.HandleUpdate(context.Background(), textUpdate("second"))
	if !env.sender.sawText("Still working") {
		t.Errorf("sent = %v, want busy text", env.sender.sentTexts())
	}

	sends := 0
	for _, call := range env.gw.recorded() {
		if call == "SendMessage" {
			sends++
		}
	}
	if sends != 1 {
		t.Errorf("gateway SendMessage calls = %d, want 1", sends)
	}

	// /cancel aborts the in-flight call; the relay ends without an
	// error message.
	env.router.HandleUpdate(context.Background(), textUpdate("/cancel"))
	if !env.sender.sawText("Cancelled") {
		t.Errorf("sent = %v, want cancel confirmation", env.sender.sentTexts())
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not end after /cancel")
	}

	for _, text := range env.sender.sentTexts() {
		if strings.Contains(text, "Something went wrong") {
			t.Errorf("cancellation surfaced as an error: %v", env.sender.sentTexts())
		}
	}

	// The slot is free again.
	env.router.HandleUpdate(context.Background(), textUpdate("/cancel"))
	if !env.sender.sawText("Nothing is in flight") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
}

func TestProjectSwitchClearsAgent(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	env.router.HandleUpdate(context.Background(), textUpdate("/project main"))

	if !env.sender.sawText("Switched to project") {
		t.Fatalf("sent = %v", env.sender.sentTexts())
	}
	if sel, _ := env.repo.GetAgent(context.Background(), testChatID); sel != nil {
		t.Errorf("agent selection survived the project switch: %+v", sel)
	}

	// The follow-up menu is scoped to the new project.
	last := env.sender.lastSent(t)
	if !strings.Contains(last.text, "Select an agent") {
		t.Fatalf("last sent = %q, want agent menu", last.text)
	}
	if last.opts == nil || len(last.opts.Keyboard) == 0 {
		t.Fatal("agent menu carries no keyboard")
	}
	if got := last.opts.Keyboard[0][0].Label; got != "Planner" {
		t.Errorf("menu shows %q, want only the project's agent", got)
	}
}

func TestProjectUnknown(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	env.router.HandleUpdate(context.Background(), textUpdate("/project nope"))
	if !env.sender.sawText("Not found") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
	// A failed switch must not clear the selection.
	if sel, _ := env.repo.GetAgent(context.Background(), testChatID); sel == nil {
		t.Error("agent selection was cleared by a failed project switch")
	}
}

func TestShortcutLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	// set with explicit agent ID
	env.router.HandleUpdate(context.Background(), textUpdate("/shortcut set work agent-2"))
	if !env.sender.sawText("work") {
		t.Fatalf("sent = %v", env.sender.sentTexts())
	}

	// set defaulting to the chat's current selection
	env.router.HandleUpdate(context.Background(), textUpdate("/shortcut set here"))
	sc, _ := env.repo.GetShortcut(context.Background(), "77", "here")
	if sc == nil || sc.AgentID != "agent-1" {
		t.Errorf("shortcut defaulted to %+v, want current selection", sc)
	}

	// switch via shortcut
	env.router.HandleUpdate(context.Background(), textUpdate("/switch work"))
	sel, _ := env.repo.GetAgent(context.Background(), testChatID)
	if sel == nil || sel.AgentID != "agent-2" {
		t.Errorf("selection after /switch = %+v", sel)
	}

	// unknown shortcut is a soft miss
	env.router.HandleUpdate(context.Background(), textUpdate("/switch nada"))
	if !env.sender.sawText("Unknown shortcut") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}

	// delete, then delete again
	env.router.HandleUpdate(context.Background(), textUpdate("/shortcut del work"))
	if !env.sender.sawText("removed") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
	env.router.HandleUpdate(context.Background(), textUpdate("/shortcut del work"))
	if !env.sender.sawText("No shortcut named") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
}

func TestToolAmbiguousNameMakesNoCall(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	// "web" is a substring of two tools; nothing may be guessed.
	env.router.HandleUpdate(context.Background(), textUpdate("/tool attach web"))

	if !env.sender.sawText("Multiple tools match") {
		t.Fatalf("sent = %v", env.sender.sentTexts())
	}
	for _, call := range env.gw.recorded() {
		if call == "AttachTool" {
			t.Error("ambiguous name still triggered an attach")
		}
	}
}

func TestToolExactNameBeatsSubstring(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	// "web_search" matches one tool exactly and another as a substring;
	// the exact match wins without disambiguation.
	env.router.HandleUpdate(context.Background(), textUpdate("/tool attach web_search"))
	if !env.sender.sawText("Attached") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
	if len(env.gw.attached["agent-1"]) != 1 || env.gw.attached["agent-1"][0].ID != "tool-1" {
		t.Errorf("attached = %+v", env.gw.attached["agent-1"])
	}
}

func TestToolAttachIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.selectAgent(t, "agent-1")

	env.router.HandleUpdate(context.Background(), textUpdate("/tool attach run_code"))
	env.router.HandleUpdate(context.Background(), textUpdate("/tool attach run_code"))
	if !env.sender.sawText("already attached") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}

	env.router.HandleUpdate(context.Background(), textUpdate("/tool detach run_code"))
	env.router.HandleUpdate(context.Background(), textUpdate("/tool detach run_code"))
	if !env.sender.sawText("not attached") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
}

func TestToolWithoutSelection(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.router.HandleUpdate(context.Background(), textUpdate("/tool"))
	if !env.sender.sawText("No agent selected") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
}

func TestAgentsMenuAndCallbackSelection(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.router.HandleUpdate(context.Background(), textUpdate("/agents"))
	menu := env.sender.lastSent(t)
	if menu.opts == nil || len(menu.opts.Keyboard) == 0 {
		t.Fatal("agent menu carries no keyboard")
	}
	if got := menu.opts.Keyboard[0][0].Data; got != "agent:set:agent-1" {
		t.Errorf("first button data = %q", got)
	}

	// Tapping a button selects and persists like /agent would.
	env.router.HandleUpdate(context.Background(), callbackUpdate("agent:set:agent-2"))
	sel, _ := env.repo.GetAgent(context.Background(), testChatID)
	if sel == nil || sel.AgentID != "agent-2" {
		t.Errorf("selection after tap = %+v", sel)
	}
}

func TestMenuPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 15; i++ {
		env.gw.agents = append(env.gw.agents, letta.Agent{
			ID: fmt.Sprintf("agent-x%d", i), Name: fmt.Sprintf("Agent %d", i),
		})
	}
	env.login(t)

	env.router.HandleUpdate(context.Background(), textUpdate("/agents"))
	menu := env.sender.lastSent(t)
	nav := menu.opts.Keyboard[len(menu.opts.Keyboard)-1]
	if nav[len(nav)-1].Data != "page:agents:1" {
		t.Fatalf("nav row = %+v, want next-page token", nav)
	}

	// Tapping Next edits the same message to page 2.
	env.router.HandleUpdate(context.Background(), callbackUpdate("page:agents:1"))
	env.sender.mu.Lock()
	edits := append([]sentRecord(nil), env.sender.edits...)
	env.sender.mu.Unlock()
	if len(edits) == 0 {
		t.Fatal("page turn did not edit the menu message")
	}
	last := edits[len(edits)-1]
	if last.messageID != 9 {
		t.Errorf("edited message %d, want the tapped menu message", last.messageID)
	}
	if !strings.Contains(last.text, "page 2 of") {
		t.Errorf("edited text = %q", last.text)
	}
}

func TestCallbackRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	env.router.HandleUpdate(context.Background(), callbackUpdate("agent:set:agent-1"))
	if !env.sender.sawText("Authentication required") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
	if sel, _ := env.repo.GetAgent(context.Background(), testChatID); sel != nil {
		t.Errorf("unauthenticated tap persisted a selection: %+v", sel)
	}
}

func TestStaleCallbackToken(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	// The agent behind the button no longer exists.
	env.router.HandleUpdate(context.Background(), callbackUpdate("agent:set:agent-gone"))
	if !env.sender.sawText("Not found") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
}

func TestUnknownCallbackTokenIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	before := len(env.sender.sentTexts())

	env.router.HandleUpdate(context.Background(), callbackUpdate("legacy:whatever"))
	if len(env.sender.sentTexts()) != before {
		t.Errorf("unknown token produced output: %v", env.sender.sentTexts())
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	env.router.HandleUpdate(context.Background(), textUpdate("/status"))
	if !env.sender.sawText("Not authenticated") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}

	env.login(t)
	env.selectAgent(t, "agent-1")
	env.router.HandleUpdate(context.Background(), textUpdate("/status"))
	last := env.sender.lastSent(t)
	if !strings.Contains(last.text, "valid") || !strings.Contains(last.text, "Scratch") {
		t.Errorf("status = %q", last.text)
	}
}

func TestCommandWithBotSuffix(t *testing.T) {
	env := newTestEnv(t)
	env.router.HandleUpdate(context.Background(), textUpdate("/help@lettagram_bot"))
	if !env.sender.sawText("*Commands*") {
		t.Errorf("sent = %v", env.sender.sentTexts())
	}
}

// TestFirstContactFlow walks the happy path end to end: login, pick an
// agent from the menu, chat.
func TestFirstContactFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.router.HandleUpdate(ctx, textUpdate("/start"))
	if !env.sender.sawText("Welcome to Lettagram") {
		t.Fatalf("sent = %v", env.sender.sentTexts())
	}

	env.router.HandleUpdate(ctx, textUpdate("/login sk-first"))
	if !env.sender.sawText("Authentication successful") {
		t.Fatalf("sent = %v", env.sender.sentTexts())
	}

	env.router.HandleUpdate(ctx, textUpdate("/agents"))
	env.router.HandleUpdate(ctx, callbackUpdate("agent:set:agent-1"))
	if !env.sender.sawText("Agent set to") {
		t.Fatalf("sent = %v", env.sender.sentTexts())
	}

	env.gw.streamEvents = []*letta.StreamEvent{
		{Kind: letta.EventAssistant, Text: "Nice to meet you!"},
	}
	env.router.HandleUpdate(ctx, textUpdate("hi!"))

	found := env.sender.sawText(`Nice to meet you\!`)
	env.sender.mu.Lock()
	for _, e := range env.sender.edits {
		if strings.Contains(e.text, `Nice to meet you\!`) {
			found = true
		}
	}
	env.sender.mu.Unlock()
	if !found {
		t.Errorf("reply not delivered; sent=%v edits=%v", env.sender.sentTexts(), env.sender.edits)
	}
}
