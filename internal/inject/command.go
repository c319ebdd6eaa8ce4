package inject

import (
	"regexp"
	"strings"
)

// Command is a slash command recognized inside free-text input.
type Command struct {
	Name string
	Args string
}

// Recognized command names.
const (
	CommandClear   = "clear"
	CommandContext = "context"
	CommandHistory = "history"
)

var commandPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{CommandClear, regexp.MustCompile(`(?i)^/clear\b\s*(.*)`)},
	{CommandContext, regexp.MustCompile(`(?i)^/context\b\s*(.*)`)},
	{CommandHistory, regexp.MustCompile(`(?i)^/history\b\s*(.*)`)},
}

// DetectCommand recognizes a slash command anchored at the start of the
// trimmed text. Unrecognized slash text is ordinary content, not an error.
func DetectCommand(text string) (Command, bool) {
	trimmed := strings.TrimSpace(text)
	for _, entry := range commandPatterns {
		if m := entry.re.FindStringSubmatch(trimmed); m != nil {
			return Command{Name: entry.name, Args: strings.TrimSpace(m[1])}, true
		}
	}
	return Command{}, false
}
