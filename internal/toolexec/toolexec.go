// Package toolexec implements a minimal, non-sandboxed pipeline.ToolExecutor:
// a thread-safe name->handler registry plus a handler that surfaces a synced
// skill's content as a tool's result. Real sandboxed execution (subprocess,
// browser, VM) is out of scope; handlers here are pure Go functions the
// caller registers.
//
// Grounded on a precedent in internal/agent.ToolRegistry (name-keyed,
// mutex-guarded registration/lookup) and internal/agent.ToolExecutor
// (per-call timeout enforced around the handler invocation).
package toolexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/worldrt/internal/skills"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// MaxToolNameLength bounds a tool call's name to prevent unbounded registry
// lookups on malformed input.
const MaxToolNameLength = 256

// Handler executes one tool call's JSON arguments and returns its result
// content, whether that content represents an error, or a hard error if
// the handler itself could not run.
type Handler func(ctx context.Context, argsJSON string) (content string, isError bool, err error)

// Registry is a name-keyed, mutex-guarded set of tool handlers satisfying
// pipeline.ToolExecutor.
type Registry struct {
	mu      sync.RWMutex
	timeout time.Duration
	tools   map[string]Handler
}

// New creates an empty Registry. perCallTimeout bounds each handler
// invocation; zero disables the timeout.
func New(perCallTimeout time.Duration) *Registry {
	return &Registry{
		timeout: perCallTimeout,
		tools:   make(map[string]Handler),
	}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = h
}

// Unregister removes name's handler, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Execute implements pipeline.ToolExecutor.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall) (string, bool, error) {
	if len(call.Function.Name) > MaxToolNameLength {
		return "", true, fmt.Errorf("toolexec: tool name exceeds %d bytes", MaxToolNameLength)
	}

	r.mu.RLock()
	h, ok := r.tools[call.Function.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("unknown tool: %s", call.Function.Name), true, nil
	}

	if r.timeout <= 0 {
		return h(ctx, call.Function.Arguments)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		content string
		isError bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		content, isError, err := h(callCtx, call.Function.Arguments)
		done <- result{content, isError, err}
	}()
	select {
	case res := <-done:
		return res.content, res.isError, res.err
	case <-callCtx.Done():
		return fmt.Sprintf("tool %s timed out", call.Function.Name), true, nil
	}
}

// RegisterSkills registers one handler per synced skill: invoking the tool
// returns the skill's markdown content, letting an agent "run" a skill by
// reading its instructions. Each handler reads the skill's content from reg
// on every call, so a later Sync's changes to a registered skill are picked
// up without re-registering; a skill first added by a later Sync gets no
// handler until RegisterSkills runs again.
func RegisterSkills(tools *Registry, reg *skills.Registry) {
	for _, d := range reg.List() {
		name := d.Name
		tools.Register(name, func(ctx context.Context, argsJSON string) (string, bool, error) {
			content, err := reg.LoadContent(name)
			if err != nil {
				return fmt.Sprintf("failed to load skill %q: %v", name, err), true, nil
			}
			return content, false, nil
		})
	}
}
