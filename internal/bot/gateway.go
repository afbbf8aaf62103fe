// Package bot is the command router and relay loop: it classifies
// inbound Telegram updates, consults per-chat and per-user state,
// drives the Letta gateway, and renders results back into the chat.
// It is the only layer that translates typed failures into user-facing
// text.
package bot

import (
	"context"
	"iter"

	"github.com/lettagram/lettagram/internal/domain"
	"github.com/lettagram/lettagram/internal/letta"
)

// Gateway is the slice of the Letta client the router depends on.
// Tests substitute a fake.
type Gateway interface {
	ListAgents(ctx context.Context, cred *domain.Credential, projectID string) ([]letta.Agent, error)
	GetAgent(ctx context.Context, cred *domain.Credential, agentID string) (*letta.Agent, error)
	ListProjects(ctx context.Context, cred *domain.Credential) ([]letta.Project, error)
	ListTools(ctx context.Context, cred *domain.Credential, agentID string) ([]letta.Tool, error)
	ListAvailableTools(ctx context.Context, cred *domain.Credential) ([]letta.Tool, error)
	AgentOverview(ctx context.Context, cred *domain.Credential, agentID string) (*letta.AgentOverview, error)
	AttachTool(ctx context.Context, cred *domain.Credential, agentID, toolID string) (letta.AttachOutcome, error)
	DetachTool(ctx context.Context, cred *domain.Credential, agentID, toolID string) (letta.AttachOutcome, error)
	ValidateKey(ctx context.Context, cred *domain.Credential) (int, error)
	SendMessage(ctx context.Context, cred *domain.Credential, agentID, content string) iter.Seq2[*letta.StreamEvent, error]
}
