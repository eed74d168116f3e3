// Package worldbus implements the per-world event bus: a multi-channel
// emitter for message/sse/world/system/tool events, with chatId tagging
// fixed at emission time.
//
// Grounded on the EventEmitter/EventSink split
// (internal/agent/event_emitter.go, internal/agent/event_sink.go): a thin
// emitter that stamps common fields (here: ID, Timestamp, ChatID) and hands
// the event to every registered sink. Generalized from a single-sink-per-run
// model to a many-sinks-per-world model, since a world may have several
// concurrently subscribed transports.
package worldbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/worldrt/pkg/models"
)

// Event is a fully-stamped event ready for fan-out or persistence.
type Event struct {
	ID        string
	Channel   models.EventChannel
	ChatID    *string
	Timestamp time.Time

	Message *models.MessagePayload
	SSE     *models.SSEPayload
	World   *models.WorldPayload
	System  *models.SystemPayload
	Tool    *models.ToolChannelPayload
}

// CurrentChatIDFunc resolves the world's current chat pointer at emission
// time for events whose caller did not supply an explicit chatId.
type CurrentChatIDFunc func() *string

// Handler receives events from the bus. Implementations must be safe to
// call from multiple goroutines and must not block indefinitely.
type Handler func(ctx context.Context, e Event)

// Bus is a per-world multi-channel emitter. The zero value is not usable;
// construct with New.
type Bus struct {
	worldID    string
	currentCID CurrentChatIDFunc

	mu       sync.RWMutex
	handlers map[string]registeredHandler
}

type registeredHandler struct {
	channel models.EventChannel // "" = all channels
	fn      Handler
}

// New creates a bus for one world. currentCID is consulted whenever Emit is
// called without an explicit chatId.
func New(worldID string, currentCID CurrentChatIDFunc) *Bus {
	if currentCID == nil {
		currentCID = func() *string { return nil }
	}
	return &Bus{
		worldID:    worldID,
		currentCID: currentCID,
		handlers:   make(map[string]registeredHandler),
	}
}

// On registers a handler for one channel (or all channels, if channel is
// ""). Returns a handler id usable with Off. Safe for concurrent use.
func (b *Bus) On(channel models.EventChannel, fn Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.handlers[id] = registeredHandler{channel: channel, fn: fn}
	b.mu.Unlock()
	return id
}

// Off removes a previously registered handler.
func (b *Bus) Off(id string) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// emit stamps and dispatches an event. chatID, if nil, is resolved from the
// bus's CurrentChatIDFunc at this instant; the resolved value is then fixed
// on the event forever — later changes to the world's current-chat pointer
// never retroactively alter it.
func (b *Bus) emit(ctx context.Context, channel models.EventChannel, chatID *string, build func(e *Event)) Event {
	if chatID == nil {
		chatID = b.currentCID()
	}
	e := Event{
		ID:        uuid.NewString(),
		Channel:   channel,
		ChatID:    chatID,
		Timestamp: time.Now(),
	}
	build(&e)

	b.mu.RLock()
	snapshot := make([]registeredHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		if h.channel == "" || h.channel == channel {
			snapshot = append(snapshot, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h.fn(ctx, e)
	}
	return e
}

// EmitMessage publishes a message-channel event.
func (b *Bus) EmitMessage(ctx context.Context, chatID *string, payload models.MessagePayload) Event {
	return b.emit(ctx, models.ChannelMessage, chatID, func(e *Event) {
		payload.ChatID = e.ChatID
		e.Message = &payload
	})
}

// EmitSSE publishes an sse-channel event.
func (b *Bus) EmitSSE(ctx context.Context, chatID *string, payload models.SSEPayload) Event {
	return b.emit(ctx, models.ChannelSSE, chatID, func(e *Event) {
		payload.ChatID = e.ChatID
		e.SSE = &payload
	})
}

// EmitWorld publishes a world-channel (activity/tool-lifecycle) event.
// Activity events (response-start/-end/idle) emitted with a nil chatId keep
// it nil: they are world-level and never take the current chat.
func (b *Bus) EmitWorld(ctx context.Context, chatID *string, payload models.WorldPayload) Event {
	return b.emit(ctx, models.ChannelWorld, chatID, func(e *Event) {
		if chatID == nil && isActivityType(payload.Type) {
			e.ChatID = nil
		}
		payload.ChatID = e.ChatID
		e.World = &payload
	})
}

// EmitSystem publishes a system-channel event (HITL requests, chat titles).
func (b *Bus) EmitSystem(ctx context.Context, chatID *string, payload models.SystemPayload) Event {
	return b.emit(ctx, models.ChannelSystem, chatID, func(e *Event) {
		payload.ChatID = e.ChatID
		e.System = &payload
	})
}

// EmitTool publishes a tool-channel event (transport -> pipeline HITL decision).
func (b *Bus) EmitTool(ctx context.Context, chatID *string, payload models.ToolChannelPayload) Event {
	return b.emit(ctx, models.ChannelTool, chatID, func(e *Event) {
		e.Tool = &payload
	})
}

// WorldID returns the id of the world this bus belongs to.
func (b *Bus) WorldID() string { return b.worldID }

// MatchesChatScope implements the chat-scope filtering contract. A
// world-scoped subscription (nil subscriptionChatID) receives every event.
// For a chat-scoped subscription, activity events (response-start/-end/idle)
// are delivered unless tagged with a different, non-null chatId; every
// other event is delivered only on an exact chatId match, so one with a nil
// chatId is not delivered.
func MatchesChatScope(subscriptionChatID *string, e Event) bool {
	if subscriptionChatID == nil {
		return true // world-scoped subscription sees everything
	}
	if e.Channel == models.ChannelWorld && e.World != nil && isActivityType(e.World.Type) {
		// Activity events are world-level: deliver unless tagged with a
		// different, non-null chatId.
		return e.ChatID == nil || *e.ChatID == *subscriptionChatID
	}
	if e.ChatID == nil {
		return false
	}
	return *e.ChatID == *subscriptionChatID
}

func isActivityType(t models.WorldEventType) bool {
	switch t {
	case models.WorldResponseStart, models.WorldResponseEnd, models.WorldIdle:
		return true
	default:
		return false
	}
}
