// Package worldmanager implements the chat/world manager: world/agent/chat
// CRUD, current-chat pointer management, the "New Chat" reuse rule, and
// the human-message-triggered chat-title generation dispatch.
//
// Grounded on a precedent in internal/gateway/managers/session.go (CRUD
// wrapper around the registry, async side-effect dispatch for
// expensive follow-up work like summarization) and internal/channels'
// create-or-reuse pattern for ephemeral channel sessions.
package worldmanager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/worldrt/internal/ids"
	"github.com/haasonsaas/worldrt/internal/llm"
	"github.com/haasonsaas/worldrt/internal/registry"
	"github.com/haasonsaas/worldrt/internal/storage"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// Config controls chat-reuse behavior, mirroring internal/config.NewChatConfig.
type Config struct {
	MaxReusableAge     time.Duration
	ReusableTitle      string
	EnableOptimization bool
}

// TitleGenerator summarizes a chat's message history into a short title.
// Implementations call out to the ChatCompletion capability; see
// LLMTitleGenerator.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, transcript string) (string, error)
}

// LLMTitleGenerator asks a ChatCompletion model to summarize a transcript
// into a short title.
type LLMTitleGenerator struct {
	Chat  llm.ChatCompletion
	Model string
}

func (g LLMTitleGenerator) GenerateTitle(ctx context.Context, transcript string) (string, error) {
	result, err := g.Chat.Complete(ctx, llm.Request{
		Model: g.Model,
		Messages: []models.AgentMessage{
			{Role: models.RoleSystem, Content: "Summarize this conversation in five words or fewer, as a chat title. Reply with the title only."},
			{Role: models.RoleUser, Content: transcript},
		},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(result.Content), "\""), nil
}

// Manager implements world/agent/chat CRUD and chat-title dispatch for a
// Registry of loaded worlds.
type Manager struct {
	registry *registry.Registry
	cfg      Config
	titleGen TitleGenerator
	logger   *slog.Logger
}

// New creates a Manager. titleGen may be nil, in which case title
// generation is skipped entirely (useful when no chat-LLM is configured).
func New(reg *registry.Registry, cfg Config, titleGen TitleGenerator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReusableTitle == "" {
		cfg.ReusableTitle = models.ReusableTitleDefault
	}
	return &Manager{registry: reg, cfg: cfg, titleGen: titleGen, logger: logger.With("component", "worldmanager")}
}

// CreateWorld persists a new World (id normalized to the kebab-case of
// name), hydrates its runtime handle, and auto-creates its first chat as
// the current chat.
func (m *Manager) CreateWorld(ctx context.Context, st storage.API, name, description string, turnLimit int) (*registry.World, error) {
	id := ids.Kebab(name)
	w := &models.World{ID: id, Name: name, Description: description, TurnLimit: turnLimit}
	if err := st.SaveWorld(ctx, w); err != nil {
		return nil, fmt.Errorf("worldmanager: save world: %w", err)
	}

	rt, err := m.registry.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := m.EnsureCurrentChat(ctx, rt); err != nil {
		return nil, err
	}
	return rt, nil
}

// CreateAgent registers a new agent, both in storage and in the world's
// live roster.
func (m *Manager) CreateAgent(ctx context.Context, world *registry.World, agent *models.Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	if err := world.Storage().SaveAgent(ctx, world.ID(), agent); err != nil {
		return fmt.Errorf("worldmanager: save agent: %w", err)
	}
	world.PutAgent(agent)
	return nil
}

// EnsureCurrentChat returns the world's current chat, reusing the newest
// chat when it satisfies the "New Chat" reuse rule and optimization is
// enabled, else creating a fresh one and installing it as current.
func (m *Manager) EnsureCurrentChat(ctx context.Context, world *registry.World) (*models.Chat, error) {
	snap := world.Snapshot()
	if snap.CurrentChatID != nil {
		if c, ok := world.Chat(*snap.CurrentChatID); ok {
			return c, nil
		}
	}

	if m.cfg.EnableOptimization {
		if newest := newestChat(world.Chats()); newest != nil {
			if newest.IsReusable(m.cfg.ReusableTitle, m.cfg.MaxReusableAge, time.Now()) {
				id := newest.ID
				world.SetCurrentChatID(&id)
				return newest, nil
			}
		}
	}

	now := time.Now()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		WorldID:   world.ID(),
		Name:      m.cfg.ReusableTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := world.Storage().SaveChatData(ctx, chat); err != nil {
		return nil, fmt.Errorf("worldmanager: save chat: %w", err)
	}
	world.PutChat(chat)
	id := chat.ID
	world.SetCurrentChatID(&id)
	return chat, nil
}

func newestChat(chats []*models.Chat) *models.Chat {
	var newest *models.Chat
	for _, c := range chats {
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			newest = c
		}
	}
	return newest
}

// DeleteChat removes a chat, clearing the current-chat pointer if it
// pointed at the deleted chat, and invokes unsubscribeChat (if non-nil) so
// the realtime runtime can tear down chat-scoped subscriptions.
func (m *Manager) DeleteChat(ctx context.Context, world *registry.World, chatID string, unsubscribeChat func(worldID, chatID string)) error {
	if err := world.Storage().DeleteChatData(ctx, world.ID(), chatID); err != nil {
		return fmt.Errorf("worldmanager: delete chat: %w", err)
	}
	world.RemoveChat(chatID)

	if snap := world.Snapshot(); snap.CurrentChatID != nil && *snap.CurrentChatID == chatID {
		world.SetCurrentChatID(nil)
	}
	if unsubscribeChat != nil {
		unsubscribeChat(world.ID(), chatID)
	}
	return nil
}

// NotifyMessagePersisted is the hook callers invoke once a message event has
// been persisted: when isHuman is true and chatID is non-nil, it
// asynchronously regenerates the chat's title from its transcript and
// persists it via UpdateChatData. Agent and system messages never trigger
// title generation.
func (m *Manager) NotifyMessagePersisted(world *registry.World, chatID *string, isHuman bool) {
	if !isHuman || chatID == nil || m.titleGen == nil {
		return
	}
	id := *chatID
	go m.generateTitle(world, id)
}

func (m *Manager) generateTitle(world *registry.World, chatID string) {
	ctx := context.Background()
	cid := chatID
	events, err := world.Storage().GetEventsByWorldAndChat(ctx, world.ID(), &cid)
	if err != nil {
		m.logger.Warn("load chat events for title generation failed", "chat", chatID, "error", err)
		return
	}
	transcript := transcriptOf(events)
	if transcript == "" {
		return
	}

	title, err := m.titleGen.GenerateTitle(ctx, transcript)
	if err != nil || title == "" {
		if err != nil {
			m.logger.Warn("title generation failed", "chat", chatID, "error", err)
		}
		return
	}

	err = world.Storage().UpdateChatData(ctx, world.ID(), chatID, func(c *models.Chat) {
		c.Name = title
		c.UpdatedAt = time.Now()
	})
	if err != nil {
		m.logger.Warn("persist generated title failed", "chat", chatID, "error", err)
		return
	}
	if updated, err := world.Storage().LoadChatData(ctx, world.ID(), chatID); err == nil {
		world.PutChat(updated)
	}

	world.Bus().EmitSystem(ctx, &cid, models.SystemPayload{
		Kind:      models.SystemChatTitleUpdated,
		ChatTitle: title,
		ChatID:    &cid,
	})
}

func transcriptOf(events []models.StoredEvent) string {
	var b strings.Builder
	for _, e := range events {
		payload, ok := e.Payload.(models.MessagePayload)
		if !ok {
			continue
		}
		if payload.Content == "" {
			continue
		}
		b.WriteString(payload.Sender)
		b.WriteString(": ")
		b.WriteString(payload.Content)
		b.WriteString("\n")
	}
	return b.String()
}
