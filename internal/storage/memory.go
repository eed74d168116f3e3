package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/worldrt/pkg/models"
)

// MemoryStore is a thread-safe in-memory StorageAPI implementation, the
// default for tests and single-process deployments. Every world, agent,
// chat and memory read/write copies so callers can never observe or corrupt
// another caller's in-flight mutation, mirroring a precedent in
// sessions.MemoryStore. Stored events are kept and returned as given,
// without copying.
type MemoryStore struct {
	mu sync.RWMutex

	worlds map[string]*models.World
	agents map[string]map[string]*models.Agent  // worldID -> agentID -> agent
	memory map[string]map[string][]models.AgentMessage // worldID -> agentID -> memory
	chats  map[string]map[string]*models.Chat    // worldID -> chatID -> chat

	events map[string][]models.StoredEvent // worldID -> ordered events
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		worlds: make(map[string]*models.World),
		agents: make(map[string]map[string]*models.Agent),
		memory: make(map[string]map[string][]models.AgentMessage),
		chats:  make(map[string]map[string]*models.Chat),
		events: make(map[string][]models.StoredEvent),
	}
}

func cloneWorld(w *models.World) *models.World {
	if w == nil {
		return nil
	}
	clone := *w
	if w.CurrentChatID != nil {
		id := *w.CurrentChatID
		clone.CurrentChatID = &id
	}
	return &clone
}

func cloneAgent(a *models.Agent) *models.Agent {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Memory = nil // memory is stored/loaded separately
	return &clone
}

func cloneChat(c *models.Chat) *models.Chat {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

func cloneMemory(msgs []models.AgentMessage) []models.AgentMessage {
	out := make([]models.AgentMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// --- WorldStore ---

func (s *MemoryStore) SaveWorld(ctx context.Context, w *models.World) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds[w.ID] = cloneWorld(w)
	return nil
}

func (s *MemoryStore) LoadWorld(ctx context.Context, id string) (*models.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.worlds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWorld(w), nil
}

func (s *MemoryStore) DeleteWorld(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.worlds[id]; !ok {
		return ErrNotFound
	}
	delete(s.worlds, id)
	delete(s.agents, id)
	delete(s.memory, id)
	delete(s.chats, id)
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) ListWorlds(ctx context.Context) ([]*models.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.World, 0, len(s.worlds))
	for _, w := range s.worlds {
		out = append(out, cloneWorld(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) WorldExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.worlds[id]
	return ok, nil
}

// --- AgentStore ---

func (s *MemoryStore) SaveAgent(ctx context.Context, worldID string, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents[worldID] == nil {
		s.agents[worldID] = make(map[string]*models.Agent)
	}
	s.agents[worldID][a.ID] = cloneAgent(a)
	return nil
}

func (s *MemoryStore) LoadAgent(ctx context.Context, worldID, agentID string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.agents[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	a, ok := byID[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := cloneAgent(a)
	clone.Memory = cloneMemory(s.memory[worldID][agentID])
	return clone, nil
}

func (s *MemoryStore) LoadAgentWithRetry(ctx context.Context, worldID, agentID string, attempts int) (*models.Agent, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		a, err := s.LoadAgent(ctx, worldID, agentID)
		if err == nil {
			return a, nil
		}
		lastErr = err
		if err == ErrNotFound {
			return nil, err // not-found is not transient; don't waste retries
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil, lastErr
}

func (s *MemoryStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.agents[worldID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byID[agentID]; !ok {
		return ErrNotFound
	}
	delete(byID, agentID)
	if s.memory[worldID] != nil {
		delete(s.memory[worldID], agentID)
	}
	return nil
}

func (s *MemoryStore) ListAgents(ctx context.Context, worldID string) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.agents[worldID]
	out := make([]*models.Agent, 0, len(byID))
	for _, a := range byID {
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AgentExists(ctx context.Context, worldID, agentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.agents[worldID]
	if !ok {
		return false, nil
	}
	_, ok = byID[agentID]
	return ok, nil
}

func (s *MemoryStore) SaveAgentMemory(ctx context.Context, worldID, agentID string, memory []models.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory[worldID] == nil {
		s.memory[worldID] = make(map[string][]models.AgentMessage)
	}
	s.memory[worldID][agentID] = cloneMemory(memory)
	return nil
}

func (s *MemoryStore) GetMemory(ctx context.Context, worldID, agentID string, chatID *string) ([]models.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := cloneMemory(s.memory[worldID][agentID])
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if chatID == nil {
		return all, nil
	}
	out := make([]models.AgentMessage, 0, len(all))
	for _, m := range all {
		if m.ChatID != nil && *m.ChatID == *chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- ChatStore ---

func (s *MemoryStore) SaveChatData(ctx context.Context, c *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chats[c.WorldID] == nil {
		s.chats[c.WorldID] = make(map[string]*models.Chat)
	}
	s.chats[c.WorldID][c.ID] = cloneChat(c)
	return nil
}

func (s *MemoryStore) LoadChatData(ctx context.Context, worldID, chatID string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.chats[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	c, ok := byID[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneChat(c), nil
}

func (s *MemoryStore) ListChats(ctx context.Context, worldID string) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.chats[worldID]
	out := make([]*models.Chat, 0, len(byID))
	for _, c := range byID {
		out = append(out, cloneChat(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateChatData(ctx context.Context, worldID, chatID string, mutate func(*models.Chat)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.chats[worldID]
	if !ok {
		return ErrNotFound
	}
	c, ok := byID[chatID]
	if !ok {
		return ErrNotFound
	}
	clone := cloneChat(c)
	mutate(clone)
	clone.UpdatedAt = time.Now()
	byID[chatID] = clone
	return nil
}

func (s *MemoryStore) DeleteChatData(ctx context.Context, worldID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.chats[worldID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byID[chatID]; !ok {
		return ErrNotFound
	}
	delete(byID, chatID)
	return nil
}

// --- EventStore ---

func (s *MemoryStore) AppendEvent(ctx context.Context, e models.StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.WorldID] = append(s.events[e.WorldID], e)
	return nil
}

func (s *MemoryStore) GetEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string) ([]models.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[worldID]
	out := make([]models.StoredEvent, 0, len(all))
	for _, e := range all {
		if sameChatID(e.ChatID, chatID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func sameChatID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var _ API = (*MemoryStore)(nil)
