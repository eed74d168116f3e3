// Package realtime implements the realtime subscription runtime:
// versioned per-(world,chat) subscriptions, a stale-subscribe guard
// across the one suspension point in Subscribe, world-level fan-out handle
// sharing across subscriptions of the same world, tombstones that survive
// reset, and transport fan-out filtered per internal/worldbus's chat-scope
// rule.
//
// Grounded on a precedent in internal/gateway/streaming.go subscription
// table (versioned handler install/uninstall keyed by a client-chosen id,
// guarding against a slow reconnect installing handlers after a faster
// unsubscribe already tombstoned the id) and internal/channels' shared
// per-room fan-out handle (one set of channel handlers serving every
// subscriber of a room, rather than one per subscriber).
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/worldrt/internal/registry"
	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// Forwarder delivers a bus event to whatever transport owns subscriptionID.
type Forwarder interface {
	Forward(ctx context.Context, subscriptionID string, e worldbus.Event)
}

// WorldLoader hydrates and evicts world handles. *registry.Registry
// satisfies this directly.
type WorldLoader interface {
	Load(ctx context.Context, worldID string) (*registry.World, error)
	Evict(worldID string)
}

// SubscribePayload is the input to Subscribe.
type SubscribePayload struct {
	SubscriptionID string
	WorldID        string
	ChatID         *string
}

// UnsubscribePayload is the input to Unsubscribe.
type UnsubscribePayload struct {
	SubscriptionID string
}

// SubscribeResult reports the outcome of a Subscribe call.
type SubscribeResult struct {
	Subscribed bool
	Canceled   bool
	Stale      bool
}

type subscription struct {
	id      string
	version uint64
	worldID string
	chatID  *string
}

// worldHandle is the single set of bus handlers shared by every
// subscription attached to one world; events are filtered per-subscription
// at dispatch time rather than installing one handler per subscriber.
type worldHandle struct {
	world      *registry.World
	handlerIDs []string

	mu   sync.RWMutex
	subs map[string]*subscription
}

func (h *worldHandle) dispatch(r *Runtime) worldbus.Handler {
	return func(ctx context.Context, e worldbus.Event) {
		h.mu.RLock()
		subs := make([]*subscription, 0, len(h.subs))
		for _, s := range h.subs {
			subs = append(subs, s)
		}
		h.mu.RUnlock()

		for _, s := range subs {
			if worldbus.MatchesChatScope(s.chatID, e) {
				r.forwarder.Forward(ctx, s.id, e)
			}
		}
	}
}

// Runtime is the realtime subscription runtime. The zero value is not
// usable; construct with New.
type Runtime struct {
	loader    WorldLoader
	forwarder Forwarder
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]*subscription
	versions      map[string]uint64
	worlds        map[string]*worldHandle
	tombstones    map[string]struct{}
}

// New creates a Runtime. forwarder receives every event admitted past the
// chat-scope filter for a live subscription.
func New(loader WorldLoader, forwarder Forwarder, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		loader:        loader,
		forwarder:     forwarder,
		logger:        logger.With("component", "realtime"),
		subscriptions: make(map[string]*subscription),
		versions:      make(map[string]uint64),
		worlds:        make(map[string]*worldHandle),
		tombstones:    make(map[string]struct{}),
	}
}

// Subscribe installs (or idempotently reuses) a subscription. The world
// load is the one suspension point in this call; the subscription id's
// version and tombstone status are re-checked immediately after it returns,
// so a subscribe racing a faster unsubscribe never installs handlers for a
// stream the client has already abandoned.
func (r *Runtime) Subscribe(ctx context.Context, p SubscribePayload) (SubscribeResult, error) {
	id := p.SubscriptionID
	if id == "" {
		id = "default"
	}

	r.mu.Lock()
	if _, tomb := r.tombstones[id]; tomb {
		r.mu.Unlock()
		return SubscribeResult{}, fmt.Errorf("realtime: subscription id %q cannot be reused after unsubscribe", id)
	}
	v := r.versions[id] + 1
	r.versions[id] = v
	r.mu.Unlock()

	world, err := r.loader.Load(ctx, p.WorldID)
	if err != nil {
		return SubscribeResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, tomb := r.tombstones[id]; tomb || r.versions[id] != v {
		return SubscribeResult{Canceled: true, Stale: true}, nil
	}

	if existing, ok := r.subscriptions[id]; ok && existing.worldID == p.WorldID && equalChatID(existing.chatID, p.ChatID) {
		return SubscribeResult{Subscribed: true}, nil
	}

	handle := r.ensureWorldHandleLocked(world)
	sub := &subscription{id: id, version: v, worldID: p.WorldID, chatID: p.ChatID}

	handle.mu.Lock()
	handle.subs[id] = sub
	handle.mu.Unlock()
	r.subscriptions[id] = sub

	return SubscribeResult{Subscribed: true}, nil
}

func (r *Runtime) ensureWorldHandleLocked(world *registry.World) *worldHandle {
	if h, ok := r.worlds[world.ID()]; ok {
		return h
	}
	h := &worldHandle{world: world, subs: make(map[string]*subscription)}
	for _, ch := range []models.EventChannel{
		models.ChannelMessage, models.ChannelSSE, models.ChannelWorld, models.ChannelSystem,
	} {
		h.handlerIDs = append(h.handlerIDs, world.Bus().On(ch, h.dispatch(r)))
	}
	r.worlds[world.ID()] = h
	return h
}

func (r *Runtime) uninstallWorldLocked(worldID string) {
	h, ok := r.worlds[worldID]
	if !ok {
		return
	}
	for _, hid := range h.handlerIDs {
		h.world.Bus().Off(hid)
	}
	delete(r.worlds, worldID)
}

// Unsubscribe bumps the id's version, tombstones it, and uninstalls it from
// its world handle. Effective immediately: no event dispatched after this
// call returns will reach the forwarder for this id.
func (r *Runtime) Unsubscribe(p UnsubscribePayload) {
	id := p.SubscriptionID
	if id == "" {
		id = "default"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions[id]++
	r.tombstones[id] = struct{}{}

	sub, ok := r.subscriptions[id]
	if !ok {
		return
	}
	delete(r.subscriptions, id)
	if h, ok := r.worlds[sub.worldID]; ok {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// UnsubscribeChat tombstones every subscription of worldID scoped to
// chatID. Called when a chat is deleted so no subscriber keeps streaming
// events for a chat that no longer exists.
func (r *Runtime) UnsubscribeChat(worldID, chatID string) {
	r.mu.Lock()
	var ids []string
	if h, ok := r.worlds[worldID]; ok {
		h.mu.RLock()
		for id, s := range h.subs {
			if s.chatID != nil && *s.chatID == chatID {
				ids = append(ids, id)
			}
		}
		h.mu.RUnlock()
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Unsubscribe(UnsubscribePayload{SubscriptionID: id})
	}
}

// DeleteWorld tombstones every subscription for worldID, uninstalls its
// handle, and evicts the world from the loader. In-flight work for the
// world is not itself canceled here; only fan-out stops.
func (r *Runtime) DeleteWorld(worldID string) {
	r.mu.Lock()
	var ids []string
	if h, ok := r.worlds[worldID]; ok {
		h.mu.RLock()
		for id := range h.subs {
			ids = append(ids, id)
		}
		h.mu.RUnlock()
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Unsubscribe(UnsubscribePayload{SubscriptionID: id})
	}

	r.mu.Lock()
	r.uninstallWorldLocked(worldID)
	r.mu.Unlock()
	r.loader.Evict(worldID)
}

// RefreshWorldSubscription reloads worldID's state and re-subscribes every
// currently-live (subscriptionId, chatId) pair attached to it, skipping any
// that were tombstoned while the refresh was in flight. It returns a
// human-readable warning if any pair failed to resubscribe, else nil.
func (r *Runtime) RefreshWorldSubscription(ctx context.Context, worldID string) *string {
	type pair struct {
		id     string
		chatID *string
	}

	r.mu.Lock()
	h, ok := r.worlds[worldID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	var pairs []pair
	h.mu.RLock()
	for id, s := range h.subs {
		pairs = append(pairs, pair{id: id, chatID: s.chatID})
		// Forget the entry so Subscribe below installs it on the reloaded
		// world instead of treating it as already subscribed.
		delete(r.subscriptions, id)
	}
	h.mu.RUnlock()
	r.uninstallWorldLocked(worldID)
	r.mu.Unlock()

	r.loader.Evict(worldID)
	if _, err := r.loader.Load(ctx, worldID); err != nil {
		msg := fmt.Sprintf("realtime: refresh of world %q failed: %v", worldID, err)
		return &msg
	}

	var failed []string
	for _, p := range pairs {
		r.mu.Lock()
		_, tomb := r.tombstones[p.id]
		r.mu.Unlock()
		if tomb {
			continue
		}
		res, err := r.Subscribe(ctx, SubscribePayload{SubscriptionID: p.id, WorldID: worldID, ChatID: p.chatID})
		if err != nil || !res.Subscribed {
			failed = append(failed, p.id)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	msg := fmt.Sprintf("realtime: %d subscription(s) failed to resubscribe after refreshing world %q: %s", len(failed), worldID, strings.Join(failed, ", "))
	return &msg
}

// ResetRuntimeSubscriptions uninstalls every still-current subscription and
// world handle, and clears the version table, while preserving tombstones
// so previously-unsubscribed ids remain non-reusable.
func (r *Runtime) ResetRuntimeSubscriptions() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sub := range r.subscriptions {
		if r.versions[id] != sub.version {
			continue // superseded by a later subscribe/unsubscribe; nothing to uninstall here
		}
		if h, ok := r.worlds[sub.worldID]; ok {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		}
	}
	for worldID := range r.worlds {
		r.uninstallWorldLocked(worldID)
	}
	r.subscriptions = make(map[string]*subscription)
	r.versions = make(map[string]uint64)
}

func equalChatID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
