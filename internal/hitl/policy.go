package hitl

import (
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/worldrt/internal/ids"
)

// ApprovalDecision is the pre-filter outcome for a tool call, consulted by
// Coordinator before falling back to an interactive HITL approval request.
type ApprovalDecision string

const (
	ApprovalAllowed ApprovalDecision = "allowed"
	ApprovalDenied  ApprovalDecision = "denied"
	ApprovalPending ApprovalDecision = "pending"
)

// ApprovalPolicy configures the allow/deny pre-filter consulted ahead of
// the HITL fallback and the session-approval matcher.
type ApprovalPolicy struct {
	Allowlist       []string
	Denylist        []string
	RequireApproval []string
	SafeBins        []string
	SkillAllowlist  bool
	DefaultDecision ApprovalDecision
	RequestTTL      time.Duration
}

// DefaultApprovalPolicy mirrors the safe-bin defaults a single-operator
// deployment ships with out of the box.
func DefaultApprovalPolicy() *ApprovalPolicy {
	return &ApprovalPolicy{
		SafeBins:        []string{"cat", "head", "tail", "wc", "sort", "uniq", "grep"},
		SkillAllowlist:  true,
		DefaultDecision: ApprovalPending,
		RequestTTL:      5 * time.Minute,
	}
}

// PolicyChecker evaluates tool calls against per-agent approval policies.
type PolicyChecker struct {
	mu            sync.RWMutex
	agentPolicies map[string]*ApprovalPolicy
	defaultPolicy *ApprovalPolicy
	skillTools    map[string]struct{}
}

// NewPolicyChecker creates a checker seeded with defaultPolicy, falling back
// to DefaultApprovalPolicy when nil.
func NewPolicyChecker(defaultPolicy *ApprovalPolicy) *PolicyChecker {
	if defaultPolicy == nil {
		defaultPolicy = DefaultApprovalPolicy()
	}
	return &PolicyChecker{
		agentPolicies: make(map[string]*ApprovalPolicy),
		defaultPolicy: defaultPolicy,
		skillTools:    make(map[string]struct{}),
	}
}

// SetAgentPolicy overrides the policy for a specific agent.
func (c *PolicyChecker) SetAgentPolicy(agentID string, policy *ApprovalPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentPolicies[agentID] = policy
}

// RegisterSkillTools marks tools as skill-provided for SkillAllowlist auto-allow.
func (c *PolicyChecker) RegisterSkillTools(tools []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tools {
		c.skillTools[t] = struct{}{}
	}
}

// PolicyFor returns the effective policy for an agent.
func (c *PolicyChecker) PolicyFor(agentID string) *ApprovalPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.agentPolicies[agentID]; ok && p != nil {
		return p
	}
	return c.defaultPolicy
}

// Check evaluates a tool name against the agent's policy: denylist beats
// allowlist beats skill tools beats safe bins beats require-approval beats
// the policy default.
func (c *PolicyChecker) Check(agentID, toolName string) (ApprovalDecision, string) {
	policy := c.PolicyFor(agentID)
	c.mu.RLock()
	skillTools := c.skillTools
	c.mu.RUnlock()

	if matchesPattern(policy.Denylist, toolName) {
		return ApprovalDenied, "tool in denylist"
	}
	if matchesPattern(policy.Allowlist, toolName) {
		return ApprovalAllowed, "tool in allowlist"
	}
	if policy.SkillAllowlist {
		if _, ok := skillTools[toolName]; ok {
			return ApprovalAllowed, "tool provided by skill"
		}
	}
	if matchesPattern(policy.SafeBins, toolName) {
		return ApprovalAllowed, "tool is safe bin"
	}
	if matchesPattern(policy.RequireApproval, toolName) {
		return ApprovalPending, "tool requires approval"
	}
	if policy.DefaultDecision == "" {
		return ApprovalPending, "default policy"
	}
	return policy.DefaultDecision, "default policy"
}

// matchesPattern supports exact match, "prefix*", "*suffix", and "*" (all).
func matchesPattern(patterns []string, toolName string) bool {
	normalizedTool := ids.Kebab(toolName)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// Kebab drops '*', so only the literal part is normalized; the
		// wildcard position is read from the raw pattern.
		literal := ids.Kebab(strings.Trim(pattern, "*"))
		switch {
		case pattern == "*":
			return true
		case literal == normalizedTool:
			return true
		case strings.HasSuffix(pattern, "*") && strings.HasPrefix(normalizedTool, literal):
			return true
		case strings.HasPrefix(pattern, "*") && strings.HasSuffix(normalizedTool, literal):
			return true
		}
	}
	return false
}
