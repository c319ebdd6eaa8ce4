// Package inject rewrites outgoing AI requests to carry prior
// conversation context, and parses AI responses back into storage.
package inject

import "strings"

// Capability classifies an inbound method name into one of the known
// context-aware operations. Matching is by keyword containment, so
// method names extending a known verb (ask_gemini, deep_debug_session)
// resolve to the same capability.
type Capability int

const (
	CapabilityUnknown Capability = iota
	CapabilityAsk
	CapabilityCodeReview
	CapabilityDebug
	CapabilityAnalyze
	CapabilityBrainstorm
	CapabilityThinkDeep
	CapabilityArchitecture
	CapabilityTest
	CapabilityRefactor
)

// capabilityKeywords is checked in order; more specific keywords come
// before substrings they contain.
var capabilityKeywords = []struct {
	keyword string
	cap     Capability
}{
	{"code_review", CapabilityCodeReview},
	{"think_deep", CapabilityThinkDeep},
	{"architecture", CapabilityArchitecture},
	{"brainstorm", CapabilityBrainstorm},
	{"refactor", CapabilityRefactor},
	{"analyze", CapabilityAnalyze},
	{"debug", CapabilityDebug},
	{"test", CapabilityTest},
	{"ask", CapabilityAsk},
}

// ResolveCapability maps a method name to a capability, or
// CapabilityUnknown when the method is not context-aware.
func ResolveCapability(method string) Capability {
	lower := strings.ToLower(method)
	for _, entry := range capabilityKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.cap
		}
	}
	return CapabilityUnknown
}

// ContextAware reports whether prior context should be injected for
// this capability.
func (c Capability) ContextAware() bool {
	return c != CapabilityUnknown
}

func (c Capability) String() string {
	switch c {
	case CapabilityAsk:
		return "ask"
	case CapabilityCodeReview:
		return "code_review"
	case CapabilityDebug:
		return "debug"
	case CapabilityAnalyze:
		return "analyze"
	case CapabilityBrainstorm:
		return "brainstorm"
	case CapabilityThinkDeep:
		return "think_deep"
	case CapabilityArchitecture:
		return "architecture"
	case CapabilityTest:
		return "test"
	case CapabilityRefactor:
		return "refactor"
	default:
		return "unknown"
	}
}
