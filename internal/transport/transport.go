// Package transport implements the transport-facing API: an HTTP
// request/response surface for world/agent/chat CRUD and chat messaging,
// and a websocket stream carrying the wire envelope fan-out from
// internal/realtime.
//
// Grounded on a precedent in internal/gateway (HTTP handlers returning typed
// JSON acks, gorilla/websocket-backed streaming connections registered and
// torn down per subscription) generalized from its channel-adapter model
// (one connection per external chat platform) to a single
// subscription-id-addressed stream.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/worldrt/internal/hitl"
	"github.com/haasonsaas/worldrt/internal/realtime"
	"github.com/haasonsaas/worldrt/internal/registry"
	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/internal/worldmanager"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// WireEnvelope is every message delivered on the stream.
type WireEnvelope struct {
	EventType      string  `json:"eventType"`
	Payload        any     `json:"payload"`
	SubscriptionID string  `json:"subscriptionId"`
	ChatID         *string `json:"chatId,omitempty"`
}

// DispatchFunc fans an already-accepted human message out to every agent's
// pipeline in the world. The caller (cmd/worldrt) owns the per-agent
// pipeline.Pipeline instances, so Server only needs a hook.
type DispatchFunc func(ctx context.Context, worldID string, chatID *string, content, sender string, senderIsHuman bool)

// ToolResultFunc relays a client tool decision into the agent's pipeline
// (pipeline.Pipeline.HandleToolResult), resuming a turn halted on an
// interactive tool-channel approval. The caller (cmd/worldrt) owns the
// per-agent pipeline.Pipeline instances, so Server only needs a hook.
type ToolResultFunc func(ctx context.Context, worldID, agentID string, chatID *string, decision models.ToolChannelPayload) error

// Server is the HTTP + websocket transport. The zero value is not usable;
// construct with New.
type Server struct {
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	realtime *realtime.Runtime
	manager  *worldmanager.Manager
	registry *registry.Registry
	coord      *hitl.Coordinator
	dispatch   DispatchFunc
	toolResult ToolResultFunc
	logger     *slog.Logger

	mu    sync.RWMutex
	conns map[string]*websocket.Conn // subscriptionId -> conn
}

// New builds a Server and registers its routes.
func New(rt *realtime.Runtime, mgr *worldmanager.Manager, reg *registry.Registry, coord *hitl.Coordinator, dispatch DispatchFunc, toolResult ToolResultFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:        http.NewServeMux(),
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		realtime:   rt,
		manager:    mgr,
		registry:   reg,
		coord:      coord,
		dispatch:   dispatch,
		toolResult: toolResult,
		logger:     logger.With("component", "transport"),
		conns:      make(map[string]*websocket.Conn),
	}
	s.routes()
	return s
}

// Handler returns the assembled http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ws", s.handleSubscribe)
	s.mux.HandleFunc("POST /subscriptions/{subscriptionID}/unsubscribe", s.handleUnsubscribe)
	s.mux.HandleFunc("POST /worlds", s.handleCreateWorld)
	s.mux.HandleFunc("POST /worlds/{worldID}/agents", s.handleCreateAgent)
	s.mux.HandleFunc("POST /worlds/{worldID}/messages", s.handleSendMessage)
	s.mux.HandleFunc("POST /worlds/{worldID}/chats/{chatID}/stop", s.handleStopMessage)
	s.mux.HandleFunc("DELETE /worlds/{worldID}/chats/{chatID}/messages/{messageID}", s.handleDeleteMessage)
	s.mux.HandleFunc("POST /worlds/{worldID}/chats/{chatID}/delete", s.handleDeleteChat)
	s.mux.HandleFunc("POST /hitl/{requestID}/respond", s.handleSubmitOption)
	s.mux.HandleFunc("POST /worlds/{worldID}/agents/{agentID}/tool-result", s.handleToolResult)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Forward implements realtime.Forwarder: it writes a bus event, wrapped in
// a WireEnvelope, to whichever websocket connection owns subscriptionID. A
// connection that no longer exists (already closed) is silently dropped.
func (s *Server) Forward(ctx context.Context, subscriptionID string, e worldbus.Event) {
	env := envelopeFor(e, subscriptionID)

	s.mu.RLock()
	conn := s.conns[subscriptionID]
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	s.mu.Lock()
	err := conn.WriteJSON(env)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("forward to subscriber failed", "subscription", subscriptionID, "error", err)
	}
}

func envelopeFor(e worldbus.Event, subscriptionID string) WireEnvelope {
	env := WireEnvelope{SubscriptionID: subscriptionID, ChatID: e.ChatID}
	switch {
	case e.Message != nil:
		env.EventType, env.Payload = "message", e.Message
	case e.SSE != nil:
		env.EventType, env.Payload = "sse", e.SSE
	case e.World != nil:
		env.EventType, env.Payload = "world", e.World
	case e.System != nil:
		env.EventType, env.Payload = "system", e.System
	case e.Tool != nil:
		env.EventType, env.Payload = "tool", e.Tool
	default:
		env.EventType = "status"
	}
	return env
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subscriptionID := q.Get("subscriptionId")
	worldID := q.Get("worldId")
	if worldID == "" {
		http.Error(w, "worldId is required", http.StatusBadRequest)
		return
	}
	var chatID *string
	if c := q.Get("chatId"); c != "" {
		chatID = &c
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	res, err := s.realtime.Subscribe(r.Context(), realtime.SubscribePayload{SubscriptionID: subscriptionID, WorldID: worldID, ChatID: chatID})
	if subscriptionID == "" {
		subscriptionID = "default"
	}
	if err != nil {
		_ = conn.WriteJSON(map[string]any{"subscribed": false, "error": err.Error()})
		_ = conn.Close()
		return
	}
	if !res.Subscribed {
		_ = conn.WriteJSON(map[string]any{"subscribed": false, "canceled": res.Canceled, "stale": res.Stale})
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.conns[subscriptionID] = conn
	s.mu.Unlock()

	_ = conn.WriteJSON(map[string]any{"subscribed": true, "subscriptionId": subscriptionID, "worldId": worldID, "chatId": chatID})

	go s.readUntilClose(conn, subscriptionID)
}

// readUntilClose blocks draining a websocket connection until the peer
// closes it, then tears down the subscription. Clients send no messages on
// this connection; reads exist only to detect disconnects.
func (s *Server) readUntilClose(conn *websocket.Conn, subscriptionID string) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.realtime.Unsubscribe(realtime.UnsubscribePayload{SubscriptionID: subscriptionID})
	s.mu.Lock()
	delete(s.conns, subscriptionID)
	s.mu.Unlock()
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("subscriptionID")
	s.realtime.Unsubscribe(realtime.UnsubscribePayload{SubscriptionID: id})

	s.mu.Lock()
	conn := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	writeJSON(w, http.StatusOK, map[string]any{"unsubscribed": true, "subscriptionId": id})
}

type createWorldRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TurnLimit   int    `json:"turnLimit"`
}

func (s *Server) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var req createWorldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	world, err := s.manager.CreateWorld(r.Context(), s.registry.Storage(), req.Name, req.Description, req.TurnLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.recordCRUD(r.Context(), world, "create", "world", world.ID(), req)
	writeJSON(w, http.StatusCreated, world.Snapshot())
}

type createAgentRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	world, err := s.registry.Load(r.Context(), worldID)
	if err != nil {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}

	agent := &models.Agent{ID: req.ID, Name: req.Name, Type: req.Type, Provider: req.Provider, Model: req.Model, SystemPrompt: req.SystemPrompt}
	if err := s.manager.CreateAgent(r.Context(), world, agent); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.recordCRUD(r.Context(), world, "create", "agent", agent.ID, agent)
	writeJSON(w, http.StatusCreated, agent)
}

// recordCRUD persists a CRUD event. Failures are logged, never propagated:
// event-publish exceptions in helper paths must not affect the primary
// operation's correctness.
func (s *Server) recordCRUD(ctx context.Context, world *registry.World, operation, entityType, entityID string, entityData any) {
	op := models.CRUDOperation{Operation: operation, EntityType: entityType, EntityID: entityID, EntityData: entityData, Timestamp: time.Now()}
	err := world.Storage().AppendEvent(ctx, models.StoredEvent{
		ID:        uuid.NewString(),
		Type:      models.StoredCRUD,
		WorldID:   world.ID(),
		Timestamp: op.Timestamp,
		Payload:   op,
	})
	if err != nil {
		s.logger.Warn("append crud event failed", "entityType", entityType, "entityId", entityID, "error", err)
	}
}

type sendMessageRequest struct {
	ChatID        *string `json:"chatId"`
	Content       string  `json:"content"`
	Sender        string  `json:"sender"`
	SenderIsHuman bool    `json:"senderIsHuman"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	world, ok := s.registry.Peek(worldID)
	if !ok {
		loaded, err := s.registry.Load(r.Context(), worldID)
		if err != nil {
			http.Error(w, "world not found", http.StatusNotFound)
			return
		}
		world = loaded
	}

	chatID := req.ChatID
	if chatID == nil {
		chat, err := s.manager.EnsureCurrentChat(r.Context(), world)
		if err != nil {
			http.Error(w, "failed to resolve current chat", http.StatusInternalServerError)
			return
		}
		chatID = &chat.ID
	}

	requestID := uuid.NewString()
	if s.dispatch != nil {
		go s.dispatch(context.Background(), worldID, chatID, req.Content, req.Sender, req.SenderIsHuman)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"requestId": requestID, "acknowledged": true, "chatId": chatID})
}

func (s *Server) handleStopMessage(w http.ResponseWriter, r *http.Request) {
	// Best-effort: no cancellation handle is tracked for in-flight LLM/tool
	// work, so this acknowledges without aborting it.
	writeJSON(w, http.StatusOK, map[string]any{"requestId": uuid.NewString(), "stopped": false, "reason": "no cancellation handle for in-flight work"})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	chatID := r.PathValue("chatID")
	messageID := r.PathValue("messageID")

	world, err := s.registry.Load(r.Context(), worldID)
	if err != nil {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}

	for _, agentID := range world.AgentIDs() {
		memory, err := world.Storage().GetMemory(r.Context(), worldID, agentID, nil)
		if err != nil {
			continue
		}
		filtered := memory[:0]
		changed := false
		for _, m := range memory {
			if m.MessageID == messageID && (m.ChatID == nil || *m.ChatID == chatID) {
				changed = true
				continue
			}
			filtered = append(filtered, m)
		}
		if changed {
			_ = world.Storage().SaveAgentMemory(r.Context(), worldID, agentID, filtered)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"requestId": uuid.NewString(), "deleted": true})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	chatID := r.PathValue("chatID")

	world, err := s.registry.Load(r.Context(), worldID)
	if err != nil {
		http.Error(w, "world not found", http.StatusNotFound)
		return
	}

	err = s.manager.DeleteChat(r.Context(), world, chatID, s.realtime.UnsubscribeChat)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requestId": uuid.NewString(), "deleted": true})
}

type submitOptionRequest struct {
	WorldID string  `json:"worldId"`
	OptionID string `json:"optionId"`
	ChatID  *string `json:"chatId"`
}

func (s *Server) handleSubmitOption(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestID")
	var req submitOptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	accepted, reason := s.coord.SubmitOptionResponse(requestID, req.OptionID, req.ChatID)
	writeJSON(w, http.StatusOK, map[string]any{"accepted": accepted, "reason": reason})
}

type toolResultRequest struct {
	ChatID *string `json:"chatId"`
	models.ToolChannelPayload
}

// handleToolResult relays a client's out-of-band (approve/deny) decision
// on a halted tool call back into the agent's pipeline, resuming the turn.
func (s *Server) handleToolResult(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	agentID := r.PathValue("agentID")

	var req toolResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ToolCallID == "" {
		http.Error(w, "toolCallId is required", http.StatusBadRequest)
		return
	}

	if s.toolResult == nil {
		http.Error(w, "tool-result handling is not configured", http.StatusNotImplemented)
		return
	}
	if err := s.toolResult(r.Context(), worldID, agentID, req.ChatID, req.ToolChannelPayload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"requestId": uuid.NewString(), "acknowledged": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
