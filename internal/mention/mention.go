// Package mention implements the auto-mention engine: self-mention
// stripping, addressee-prefix insertion, and pass-through
// detection. Grounded on the text-normalization style in
// internal/gateway/normalizer.go (string-first transforms that preserve
// original casing; regular expressions are used only to find the
// pass-through tag and to split off the first paragraph).
package mention

import (
	"regexp"
	"strings"
)

// passThroughTag matches <world>pass</world>, case-insensitively.
var passThroughTag = regexp.MustCompile(`(?i)<world>\s*pass\s*</world>`)

// HasPassThrough reports whether response contains the pass-through control tag.
func HasPassThrough(response string) bool {
	return passThroughTag.MatchString(response)
}

// RemoveSelfMentions removes leading, consecutive "@selfID" tokens
// (case-insensitive, whitespace collapsed) from the start of response.
// Mentions of self elsewhere in the text are preserved.
func RemoveSelfMentions(response, selfID string) string {
	s := strings.TrimLeft(response, " \t\r\n")
	prefix := "@" + selfID
	for {
		trimmed := strings.TrimLeft(s, " \t\r\n")
		if !strings.HasPrefix(strings.ToLower(trimmed), strings.ToLower(prefix)) {
			break
		}
		rest := trimmed[len(prefix):]
		// Require the mention to end at a word boundary (space, punctuation, or EOS).
		if rest != "" && isMentionContinuation(rest[0]) {
			break
		}
		s = rest
	}
	return strings.TrimLeft(s, " \t\r\n")
}

func isMentionContinuation(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-' || b == '_'
}

// firstParagraph returns the first non-empty paragraph of text, where
// paragraphs are separated by one or more blank lines.
func firstParagraph(text string) string {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if trimmed == "" {
		return ""
	}
	paras := regexp.MustCompile(`\n\s*\n`).Split(trimmed, -1)
	for _, p := range paras {
		if strings.TrimSpace(p) != "" {
			return p
		}
	}
	return trimmed
}

// BeginsWithMentionOf reports whether the first non-empty paragraph of text
// begins with an @mention of name (case-insensitive).
func BeginsWithMentionOf(text, name string) bool {
	para := strings.TrimLeft(firstParagraph(text), " \t")
	prefix := "@" + name
	if !strings.HasPrefix(strings.ToLower(para), strings.ToLower(prefix)) {
		return false
	}
	rest := para[len(prefix):]
	return rest == "" || !isMentionContinuation(rest[0])
}

// AddAutoMention prepends "@sender " to response, preserving sender's
// original casing, unless the trimmed response is already empty or the
// first paragraph already begins with a mention of sender.
func AddAutoMention(response, sender string) string {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return trimmed
	}
	if BeginsWithMentionOf(response, sender) {
		return response
	}
	return "@" + sender + " " + response
}

// IsEmptyResponse reports whether response is empty or whitespace-only
// after all transforms; such responses must not be published or memorized.
func IsEmptyResponse(response string) bool {
	return strings.TrimSpace(response) == ""
}

// SenderClass classifies a message sender for auto-mention purposes.
type SenderClass int

const (
	// SenderSystem messages never receive an auto-mention prefix.
	SenderSystem SenderClass = iota
	SenderHuman
	SenderAgent
)

// Transform applies the full auto-mention pipeline to an LLM response: self-mention
// stripping, then (for human/agent senders distinct from selfID) the
// addressee prefix. It does not handle pass-through; callers check
// HasPassThrough first and skip Transform entirely in that case.
func Transform(response, selfID, sender string, senderClass SenderClass) string {
	out := RemoveSelfMentions(response, selfID)
	if IsEmptyResponse(out) {
		return ""
	}
	if senderClass == SenderSystem {
		return out
	}
	if strings.EqualFold(sender, selfID) {
		return out
	}
	return AddAutoMention(out, sender)
}
