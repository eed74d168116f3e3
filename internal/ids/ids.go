// Package ids provides identifier canonicalization: kebab-case entity ids
// and dot-hierarchical log category names, plus recipient-name extraction
// from free-form @mentions.
//
// Grounded on a precedent in internal/tools/policy.NormalizeTool (lowercase +
// alias table) and internal/skills source-priority keying, generalized into
// a single documented canonicalization function shared by every component
// that mints or parses an id.
package ids

import (
	"strings"
	"unicode"
)

// Kebab converts a free-form name into a kebab-case entity id: lowercase,
// non-alphanumeric runs collapsed to a single hyphen, leading/trailing
// hyphens trimmed.
func Kebab(name string) string {
	var b strings.Builder
	lastHyphen := true // suppresses a leading hyphen
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := b.String()
	return strings.TrimSuffix(out, "-")
}

// LogCategory normalizes a logging category name into dot-hierarchical
// lower-case form, e.g. "Agent.Pipeline" -> "agent.pipeline". Unknown
// categories inherit from the nearest dotted ancestor at lookup time (see
// Ancestors), not here.
func LogCategory(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	parts := strings.Split(lower, ".")
	for i, p := range parts {
		parts[i] = Kebab(p)
	}
	return strings.Join(parts, ".")
}

// Ancestors returns the dot-hierarchical ancestor chain of a normalized log
// category, most specific first, ending with "" (the global root). E.g.
// "agent.pipeline.loop" -> ["agent.pipeline.loop", "agent.pipeline", "agent", ""].
func Ancestors(category string) []string {
	if category == "" {
		return []string{""}
	}
	parts := strings.Split(category, ".")
	out := make([]string, 0, len(parts)+1)
	for i := len(parts); i > 0; i-- {
		out = append(out, strings.Join(parts[:i], "."))
	}
	out = append(out, "")
	return out
}

// mentionCutset is the punctuation trimmed from the end of an extracted
// recipient name.
const mentionCutset = ".,!?;:)\"'"

// interjections is tolerated as a single leading word before a mention
// at paragraph start (e.g. "Hey @alice ..." or "Oh @bob, ...").
var interjections = map[string]struct{}{
	"hey": {}, "hi": {}, "oh": {}, "ok": {}, "okay": {}, "well": {}, "so": {}, "um": {}, "uh": {},
}

// ExtractMentionName returns the recipient name of an "@name" mention at
// the start of text, case preserved, trailing punctuation trimmed, or "" if
// there is none. Only the first token is checked, or the second when the
// first is a single interjection word; a mention later in the text is not
// found.
func ExtractMentionName(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		if i > 1 {
			break
		}
		if i == 1 {
			// Only continue past the first token if it was a bare interjection.
			if _, ok := interjections[strings.ToLower(strings.Trim(fields[0], mentionCutset))]; !ok {
				break
			}
		}
		if strings.HasPrefix(f, "@") {
			name := strings.TrimPrefix(f, "@")
			name = strings.TrimRight(name, mentionCutset)
			if name == "" {
				continue
			}
			return name
		}
	}
	return ""
}

// EqualFold reports whether two identifiers are equal ignoring case, the
// comparison used throughout mention/approval matching.
func EqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
