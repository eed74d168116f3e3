package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/worldrt/internal/activity"
	"github.com/haasonsaas/worldrt/internal/config"
	"github.com/haasonsaas/worldrt/internal/hitl"
	"github.com/haasonsaas/worldrt/internal/llm"
	"github.com/haasonsaas/worldrt/internal/llmprovider"
	"github.com/haasonsaas/worldrt/internal/pipeline"
	"github.com/haasonsaas/worldrt/internal/realtime"
	"github.com/haasonsaas/worldrt/internal/registry"
	"github.com/haasonsaas/worldrt/internal/skills"
	"github.com/haasonsaas/worldrt/internal/storage"
	"github.com/haasonsaas/worldrt/internal/toolexec"
	"github.com/haasonsaas/worldrt/internal/toolvalidate"
	"github.com/haasonsaas/worldrt/internal/transport"
	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/internal/worldmanager"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// forwarderProxy breaks the construction cycle between realtime.Runtime
// (which needs a Forwarder) and transport.Server (the Forwarder, which
// needs the already-built realtime.Runtime): realtime.New gets a proxy,
// and the real target is filled in once the transport server exists.
type forwarderProxy struct {
	mu     sync.RWMutex
	target realtime.Forwarder
}

func (f *forwarderProxy) Forward(ctx context.Context, subscriptionID string, e worldbus.Event) {
	f.mu.RLock()
	t := f.target
	f.mu.RUnlock()
	if t != nil {
		t.Forward(ctx, subscriptionID, e)
	}
}

func (f *forwarderProxy) setTarget(t realtime.Forwarder) {
	f.mu.Lock()
	f.target = t
	f.mu.Unlock()
}

// runtime wires every component package into one running process: it owns
// the shared registry/coordinator/metrics and lazily builds the per-world,
// per-agent pipelines that dispatch fans inbound messages out to.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	store    storage.API
	reg      *registry.Registry
	mgr      *worldmanager.Manager
	rt       *realtime.Runtime
	coord    *hitl.Coordinator
	policy   *hitl.PolicyChecker
	metrics  *activity.Metrics
	transport *transport.Server

	providers map[string]llm.ChatCompletion

	mu     sync.Mutex
	worlds map[string]*worldState // worldID -> lazily built per-world state
}

// worldState holds the per-world components built on first use: a skill
// registry tied to that world's bus, a tool executor synced from it, an
// activity tracker, and one pipeline per agent.
type worldState struct {
	skills    *skills.Registry
	tools     *toolexec.Registry
	tracker   *activity.Tracker
	pipelines map[string]*pipeline.Pipeline
}

func newRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg := registry.New(store, logger)
	policy := hitl.NewPolicyChecker(nil)
	coord := hitl.New(cfg.HITL.DefaultTimeout, policy)
	metrics := activity.NewMetrics()

	providers, err := buildProviders(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	rtCfg := worldmanager.Config{
		MaxReusableAge:     cfg.NewChat.MaxReusableAge,
		ReusableTitle:      cfg.NewChat.ReusableTitle,
		EnableOptimization: cfg.NewChat.EnableOptimization,
	}
	var titleGen worldmanager.TitleGenerator
	if chat, ok := providers[cfg.LLM.DefaultProvider]; ok {
		titleGen = worldmanager.LLMTitleGenerator{Chat: chat, Model: defaultModelFor(cfg.LLM, cfg.LLM.DefaultProvider)}
	}
	mgr := worldmanager.New(reg, rtCfg, titleGen, logger)

	app := &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		reg:       reg,
		mgr:       mgr,
		coord:     coord,
		policy:    policy,
		metrics:   metrics,
		providers: providers,
		worlds:    make(map[string]*worldState),
	}

	proxy := &forwarderProxy{}
	rtRuntime := realtime.New(reg, proxy, logger)
	app.rt = rtRuntime
	app.transport = transport.New(rtRuntime, mgr, reg, coord, app.dispatch, app.handleToolResult, logger)
	proxy.setTarget(app.transport)

	return app, nil
}

func openStorage(cfg config.StorageConfig) (storage.API, error) {
	switch cfg.Type {
	case config.StorageMemory, "":
		return storage.NewMemoryStore(), nil
	case config.StorageSQL:
		if cfg.DataPath == "" {
			return nil, fmt.Errorf("sql storage requires data_path as a DSN (sqlite file path or postgres connection string)")
		}
		driver := storage.DriverSQLite
		if strings.Contains(cfg.DataPath, "://") {
			driver = storage.DriverPostgres
		}
		events, err := storage.OpenSQLEventStore(driver, cfg.DataPath)
		if err != nil {
			return nil, err
		}
		// World/agent/chat records stay in memory; only the event log is
		// durable. See DESIGN.md for why SQLEventStore is not (yet) a full
		// StorageAPI implementation.
		return newSQLBackedStore(events), nil
	case config.StorageFile:
		return nil, fmt.Errorf("file storage backend is not implemented; use memory or sql")
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func buildProviders(cfg config.LLMConfig, logger *slog.Logger) (map[string]llm.ChatCompletion, error) {
	providers := make(map[string]llm.ChatCompletion)

	if cfg.Anthropic.APIKey != "" {
		p, err := llmprovider.NewAnthropicChatCompletion(llmprovider.AnthropicConfig{
			APIKey:       cfg.Anthropic.APIKey,
			BaseURL:      cfg.Anthropic.BaseURL,
			DefaultModel: cfg.Anthropic.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		providers["anthropic"] = p
	}
	if cfg.OpenAI.APIKey != "" {
		p, err := llmprovider.NewOpenAIChatCompletion(llmprovider.OpenAIConfig{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			DefaultModel: cfg.OpenAI.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		providers["openai"] = p
	}
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			continue
		}
		switch name {
		case "anthropic", "openai":
			// already handled above via the named fields
		default:
			logger.Warn("ignoring unrecognized llm provider", "provider", name)
		}
	}

	if len(providers) == 0 {
		logger.Warn("no LLM provider credentials configured; agents will use a static placeholder completion")
	}
	return providers, nil
}

// defaultModelFor resolves the configured default model id for a named
// provider, leaving it empty when unset so the provider adapter falls back
// to its own built-in default rather than receiving the provider's name as
// a bogus model id.
func defaultModelFor(cfg config.LLMConfig, provider string) string {
	switch provider {
	case "anthropic":
		return cfg.Anthropic.DefaultModel
	case "openai":
		return cfg.OpenAI.DefaultModel
	default:
		return cfg.Providers[provider].DefaultModel
	}
}

// chatCompletionFor resolves the ChatCompletion backend for an agent: its
// own named provider, falling back to the configured default, falling
// back to a deterministic static double so the server still runs without
// API keys.
func (a *runtime) chatCompletionFor(agentProvider string) llm.ChatCompletion {
	name := agentProvider
	if name == "" {
		name = a.cfg.LLM.DefaultProvider
	}
	if p, ok := a.providers[name]; ok {
		return p
	}
	if p, ok := a.providers[a.cfg.LLM.DefaultProvider]; ok {
		return p
	}
	return &llm.Static{Result: llm.Result{Content: "(no LLM provider configured)"}}
}

// worldStateFor returns the lazily built per-world state, creating and
// syncing skills on first access.
func (a *runtime) worldStateFor(ctx context.Context, world *registry.World) (*worldState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ws, ok := a.worlds[world.ID()]; ok {
		return ws, nil
	}

	skillsReg := skills.New(a.cfg.Skills.ProjectRoots, a.cfg.Skills.UserRoots, world.Bus(), a.logger)
	if err := skillsReg.Sync(ctx); err != nil {
		a.logger.Warn("initial skill sync failed", "world", world.ID(), "error", err)
	}
	a.policy.RegisterSkillTools(skillNames(skillsReg))

	tools := toolexec.New(30 * time.Second)
	toolexec.RegisterSkills(tools, skillsReg)

	tracker := activity.NewTracker(world.ID(), world.Bus(), a.metrics)

	ws := &worldState{
		skills:    skillsReg,
		tools:     tools,
		tracker:   tracker,
		pipelines: make(map[string]*pipeline.Pipeline),
	}
	a.worlds[world.ID()] = ws
	return ws, nil
}

func skillNames(reg *skills.Registry) []string {
	descs := reg.List()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

// pipelineFor returns the agent's pipeline, building it on first use.
func (a *runtime) pipelineFor(ctx context.Context, world *registry.World, agentID string) (*pipeline.Pipeline, error) {
	ws, err := a.worldStateFor(ctx, world)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := ws.pipelines[agentID]; ok {
		return p, nil
	}

	agent, ok := world.Agent(agentID)
	if !ok {
		return nil, fmt.Errorf("pipelineFor: unknown agent %q", agentID)
	}

	schemas := make(map[string]toolvalidate.Schema)
	for _, name := range skillNames(ws.skills) {
		schemas[name] = toolvalidate.Schema{Raw: []byte(`{"type":"object","properties":{}}`)}
	}

	p := pipeline.New(world, a.chatCompletionFor(agent.Provider), ws.tools, schemas, a.coord, ws.tracker, a.logger)
	ws.pipelines[agentID] = p
	return p, nil
}

// dispatch implements transport.DispatchFunc: it fans an accepted human or
// agent message out to every other agent's pipeline in the world,
// concurrently, swallowing per-agent errors into a log line so one
// misbehaving agent can't block the rest of the turn.
func (a *runtime) dispatch(ctx context.Context, worldID string, chatID *string, content, sender string, senderIsHuman bool) {
	world, err := a.reg.Load(ctx, worldID)
	if err != nil {
		a.logger.Error("dispatch: load world failed", "world", worldID, "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, agentID := range world.AgentIDs() {
		agentID := agentID
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.pipelineFor(ctx, world, agentID)
			if err != nil {
				a.logger.Error("dispatch: build pipeline failed", "agent", agentID, "error", err)
				return
			}
			in := pipeline.Inbound{
				Sender:        sender,
				SenderIsHuman: senderIsHuman,
				SenderIsAgent: !senderIsHuman && sender != "system",
				Content:       content,
				ChatID:        chatID,
			}
			if err := p.ProcessTurn(ctx, agentID, in); err != nil {
				a.logger.Error("dispatch: process turn failed", "agent", agentID, "error", err)
			}
		}()
	}
	wg.Wait()

	a.mgr.NotifyMessagePersisted(world, chatID, senderIsHuman)
}

// handleToolResult implements transport.ToolResultFunc: it relays a
// client's tool-channel decision into the named agent's pipeline, resuming
// whatever turn that tool call halted.
func (a *runtime) handleToolResult(ctx context.Context, worldID, agentID string, chatID *string, decision models.ToolChannelPayload) error {
	world, err := a.reg.Load(ctx, worldID)
	if err != nil {
		return fmt.Errorf("handleToolResult: load world: %w", err)
	}
	p, err := a.pipelineFor(ctx, world, agentID)
	if err != nil {
		return fmt.Errorf("handleToolResult: build pipeline: %w", err)
	}
	return p.HandleToolResult(ctx, agentID, chatID, decision)
}
