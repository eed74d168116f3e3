// Package storage defines the StorageAPI capability set the core runtime
// depends on and provides an in-memory reference implementation plus
// SQL-backed event storage drivers.
//
// Grounded on a precedent in internal/storage/interfaces.go (small,
// single-purpose store interfaces plus package-level sentinel errors) and
// internal/sessions/memory.go (mutex-guarded in-memory store with deep-copy
// on read/write to avoid aliasing bugs).
package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/worldrt/pkg/models"
)

// Sentinel errors returned by StorageAPI implementations. Callers should
// use errors.Is against these rather than comparing implementation-specific
// error values.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrCorrupted = errors.New("corrupted")
)

// WorldStore persists World records.
type WorldStore interface {
	SaveWorld(ctx context.Context, w *models.World) error
	LoadWorld(ctx context.Context, id string) (*models.World, error)
	DeleteWorld(ctx context.Context, id string) error
	ListWorlds(ctx context.Context) ([]*models.World, error)
	WorldExists(ctx context.Context, id string) (bool, error)
}

// AgentStore persists Agent records and their memory.
type AgentStore interface {
	SaveAgent(ctx context.Context, worldID string, a *models.Agent) error
	LoadAgent(ctx context.Context, worldID, agentID string) (*models.Agent, error)
	// LoadAgentWithRetry retries transient IO failures (the only retried
	// StorageAPI operation).
	LoadAgentWithRetry(ctx context.Context, worldID, agentID string, attempts int) (*models.Agent, error)
	DeleteAgent(ctx context.Context, worldID, agentID string) error
	ListAgents(ctx context.Context, worldID string) ([]*models.Agent, error)
	AgentExists(ctx context.Context, worldID, agentID string) (bool, error)

	SaveAgentMemory(ctx context.Context, worldID, agentID string, memory []models.AgentMessage) error
	// GetMemory returns memory ordered by CreatedAt, optionally filtered to
	// a single chat (nil chatID returns cross-chat memory).
	GetMemory(ctx context.Context, worldID, agentID string, chatID *string) ([]models.AgentMessage, error)
}

// ChatStore persists Chat records.
type ChatStore interface {
	SaveChatData(ctx context.Context, c *models.Chat) error
	LoadChatData(ctx context.Context, worldID, chatID string) (*models.Chat, error)
	ListChats(ctx context.Context, worldID string) ([]*models.Chat, error)
	UpdateChatData(ctx context.Context, worldID, chatID string, mutate func(*models.Chat)) error
	DeleteChatData(ctx context.Context, worldID, chatID string) error
}

// EventStore is the append-only event storage adapter, keyed by
// (worldId, chatId).
type EventStore interface {
	AppendEvent(ctx context.Context, e models.StoredEvent) error
	// GetEventsByWorldAndChat returns events in append order. A nil chatID
	// returns events recorded with no chat (world-level events); it is not
	// a wildcard across chats.
	GetEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string) ([]models.StoredEvent, error)
}

// API groups the full StorageAPI capability set the core depends on.
type API interface {
	WorldStore
	AgentStore
	ChatStore
	EventStore
}
