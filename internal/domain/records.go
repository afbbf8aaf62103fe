// Package domain contains core record types shared across the bot.
package domain

import (
	"time"
)

// CredentialRecord is the encrypted form of a user's Letta API key as it
// sits in storage. The plaintext key never appears in this struct; only
// the vault can produce or consume the ciphertext.
type CredentialRecord struct {
	UserID     string
	Ciphertext []byte
	Nonce      []byte
	APIURL     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Credential is a decrypted API credential, valid only for the lifetime
// of a single request.
type Credential struct {
	APIKey string
	APIURL string
}

// AgentSelection records which agent a chat talks to. One per chat;
// selecting a new agent or switching projects replaces or clears it.
type AgentSelection struct {
	ChatID    int64
	AgentID   string
	AgentName string
	ProjectID string
	UpdatedAt time.Time
}

// Shortcut maps a user-chosen name to an agent for quick selection.
// Names are unique per user, case-sensitive.
type Shortcut struct {
	UserID    string
	Name      string
	AgentID   string
	AgentName string
	CreatedAt time.Time
}
