package inject

import "regexp"

// identityPatterns recognizes the call shapes each AI identity is invoked
// through: namespaced MCP tool names, the fixed ask_* aliases, and
// provider-prefixed method names.
var identityPatterns = []struct {
	ai       string
	patterns []*regexp.Regexp
}{
	{"gemini", compileAll(
		`mcp__gemini.*__.+`,
		`ask_gemini`,
		`gemini_.+`,
	)},
	{"grok", compileAll(
		`mcp__.*grok.*__.+`,
		`ask_grok`,
		`grok_.+`,
	)},
	{"openai", compileAll(
		`mcp__.*openai.*__.+`,
		`ask_openai`,
		`ask_chatgpt`,
		`openai_.+`,
	)},
	{"deepseek", compileAll(
		`mcp__.*deepseek.*__.+`,
		`ask_deepseek`,
		`deepseek_.+`,
	)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		res[i] = regexp.MustCompile(`(?i)` + expr)
	}
	return res
}

// DetectAI resolves a method name to the AI identity it targets. The
// first matching identity wins; no match means the request passes through
// without injection.
func DetectAI(method string) (string, bool) {
	for _, entry := range identityPatterns {
		for _, re := range entry.patterns {
			if re.MatchString(method) {
				return entry.ai, true
			}
		}
	}
	return "", false
}
