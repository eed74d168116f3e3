// Package eventmeta computes the persistence metadata required before an
// emitted message event is appended to the event store: owner,
// recipient, thread depth, tool-call flags, and broadcast direction.
//
// Grounded on a precedent in internal/gateway/normalizer.go (pure,
// side-effect-free transforms run just before persistence) and the event
// taxonomy in pkg/models/agent_event.go (tagged payloads, explicit
// discriminators).
package eventmeta

import (
	"github.com/haasonsaas/worldrt/internal/ids"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// AgentResolver resolves a free-form mention name to an agent id in the
// world, case-insensitively, or ("", false) if no agent matches.
type AgentResolver func(name string) (agentID string, ok bool)

// Input carries everything Derive needs about the message being persisted.
type Input struct {
	Sender        string
	SenderIsHuman bool
	SenderIsAgent bool // false + !SenderIsHuman => system sender
	Content       string

	ReplyToMessageID string
	ToolCalls        []models.ToolCall

	// AllAgentIDs is the full agent roster of the world, used for broadcast
	// ownership (human broadcast and agent broadcast both deliver to all).
	AllAgentIDs []string

	Resolve AgentResolver
}

// Derive computes the EventMeta for a message about to be persisted.
func Derive(in Input) models.EventMeta {
	recipient := ""
	if name := ids.ExtractMentionName(in.Content); name != "" {
		if agentID, ok := in.Resolve(name); ok {
			recipient = agentID
		}
	}

	var direction models.MessageDirection
	var owners []string

	switch {
	case in.SenderIsHuman:
		direction = models.DirectionBroadcast
		owners = append(owners, in.AllAgentIDs...)

	case in.SenderIsAgent && recipient != "":
		direction = models.DirectionOutgoing
		owners = dedupe([]string{in.Sender, recipient})

	case in.SenderIsAgent:
		direction = models.DirectionBroadcast
		owners = append(owners, in.AllAgentIDs...)

	default: // system sender
		direction = models.DirectionBroadcast
		owners = append(owners, in.AllAgentIDs...)
	}

	isReply := in.ReplyToMessageID != ""
	threadDepth := 0
	threadRoot := ""
	if isReply {
		threadDepth = 1
		threadRoot = in.ReplyToMessageID
	}

	isCrossAgent := in.SenderIsAgent && recipient != "" && !ids.EqualFold(recipient, in.Sender)

	return models.EventMeta{
		RecipientAgentID:  recipient,
		OwnerAgentIDs:     owners,
		IsHumanMessage:    in.SenderIsHuman,
		IsCrossAgentMsg:   isCrossAgent,
		IsMemoryOnly:      false,
		IsReply:           isReply,
		ThreadDepth:       threadDepth,
		ThreadRootID:      threadRoot,
		HasToolCalls:      len(in.ToolCalls) > 0,
		ToolCallCount:     len(in.ToolCalls),
		MessageDirection:  direction,
		DeliveredToAgents: owners,
	}
}

func dedupe(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
