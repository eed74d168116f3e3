// Package registry owns the agent runtime registry: the in-memory World
// handle that aggregates a world's agents, chats, event bus, and storage
// handle, and the top-level Registry that maps world IDs to those handles.
//
// Grounded on a precedent in internal/gateway/managers/channel.go (a
// mutex-guarded manager wrapping a sub-registry plus injected dependencies)
// and internal/gateway/server.go's world/session aggregation.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/worldrt/internal/ids"
	"github.com/haasonsaas/worldrt/internal/storage"
	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// World is the runtime handle for a loaded world: its agent roster, chat
// set, event bus, and storage handle. It is the "arena" agents and chats
// run in — they hold ids, not pointers into each other, to keep ownership
// cycles out of the object graph.
type World struct {
	mu sync.RWMutex

	id      string
	world   *models.World
	agents  map[string]*models.Agent
	chats   map[string]*models.Chat
	bus     *worldbus.Bus
	storage storage.API
	logger  *slog.Logger
}

func newWorld(w *models.World, st storage.API, logger *slog.Logger) *World {
	rw := &World{
		id:      w.ID,
		world:   w,
		agents:  make(map[string]*models.Agent),
		chats:   make(map[string]*models.Chat),
		storage: st,
		logger:  logger.With("world", w.ID),
	}
	rw.bus = worldbus.New(w.ID, rw.currentChatID)
	return rw
}

// ID returns the world's id.
func (w *World) ID() string { return w.id }

// Bus returns the world's event bus.
func (w *World) Bus() *worldbus.Bus { return w.bus }

// Storage returns the storage handle backing this world.
func (w *World) Storage() storage.API { return w.storage }

// Snapshot returns a copy of the persisted World record.
func (w *World) Snapshot() models.World {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cp := *w.world
	if w.world.CurrentChatID != nil {
		id := *w.world.CurrentChatID
		cp.CurrentChatID = &id
	}
	return cp
}

// currentChatID is the worldbus.CurrentChatIDFunc bound to this world's
// current-chat pointer, so events emitted with no explicit chatId pick up
// whichever chat is active at emission time.
func (w *World) currentChatID() *string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.world.CurrentChatID == nil {
		return nil
	}
	id := *w.world.CurrentChatID
	return &id
}

// SetCurrentChatID updates the current-chat pointer. A nil id clears it.
func (w *World) SetCurrentChatID(id *string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.world.CurrentChatID = id
}

// PutAgent registers or replaces an agent in the roster.
func (w *World) PutAgent(a *models.Agent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agents[a.ID] = a
}

// Agent returns the registered agent by id.
func (w *World) Agent(id string) (*models.Agent, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.agents[id]
	return a, ok
}

// RemoveAgent drops an agent from the roster.
func (w *World) RemoveAgent(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.agents, id)
}

// AgentIDs returns every registered agent id, in no particular order.
func (w *World) AgentIDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.agents))
	for id := range w.agents {
		out = append(out, id)
	}
	return out
}

// ResolveAgentByName finds an agent id by case-insensitive name match,
// the lookup used by internal/eventmeta to turn a mention into a recipient.
func (w *World) ResolveAgentByName(name string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for id, a := range w.agents {
		if ids.EqualFold(a.Name, name) {
			return id, true
		}
	}
	return "", false
}

// PutChat registers or replaces a chat.
func (w *World) PutChat(c *models.Chat) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chats[c.ID] = c
}

// Chat returns the registered chat by id.
func (w *World) Chat(id string) (*models.Chat, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.chats[id]
	return c, ok
}

// RemoveChat drops a chat from the registry.
func (w *World) RemoveChat(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.chats, id)
}

// Chats returns every registered chat, in no particular order.
func (w *World) Chats() []*models.Chat {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*models.Chat, 0, len(w.chats))
	for _, c := range w.chats {
		out = append(out, c)
	}
	return out
}

// Registry maps world ids to loaded World handles, constructing and
// hydrating them from storage on first access.
type Registry struct {
	mu     sync.RWMutex
	worlds map[string]*World

	storage storage.API
	logger  *slog.Logger
}

// New creates an empty Registry backed by the given storage implementation.
func New(st storage.API, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		worlds:  make(map[string]*World),
		storage: st,
		logger:  logger.With("component", "registry"),
	}
}

// Storage returns the storage backend this registry hydrates worlds from.
func (r *Registry) Storage() storage.API { return r.storage }

// Load returns the World handle for id, hydrating agents and chats from
// storage the first time the world is accessed.
func (r *Registry) Load(ctx context.Context, id string) (*World, error) {
	r.mu.RLock()
	w, ok := r.worlds[id]
	r.mu.RUnlock()
	if ok {
		return w, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.worlds[id]; ok {
		return w, nil
	}

	persisted, err := r.storage.LoadWorld(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("registry: load world %s: %w", id, err)
	}

	rw := newWorld(persisted, r.storage, r.logger)

	agents, err := r.storage.ListAgents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("registry: list agents for %s: %w", id, err)
	}
	for _, a := range agents {
		rw.PutAgent(a)
	}

	chats, err := r.storage.ListChats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("registry: list chats for %s: %w", id, err)
	}
	for _, c := range chats {
		rw.PutChat(c)
	}

	r.worlds[id] = rw
	r.logger.Info("hydrated world", "worldId", id, "agents", len(agents), "chats", len(chats))
	return rw, nil
}

// Evict removes a world's runtime handle, forcing the next Load to
// re-hydrate from storage. Subscriptions owned by the evicted world's bus
// are not explicitly torn down here; internal/realtime resets them.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.worlds, id)
}

// Peek returns an already-loaded World handle without hydrating from
// storage, or (nil, false) if the world has not been loaded yet.
func (r *Registry) Peek(id string) (*World, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.worlds[id]
	return w, ok
}
