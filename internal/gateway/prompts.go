package gateway

import "fmt"

// Prompt builders for the specialized capabilities. Each renders the
// structured tool arguments into a single prompt; context injection
// happens upstream.

func CodeReviewPrompt(code, focus string) string {
	if focus == "" {
		focus = "general"
	}
	return fmt.Sprintf("Please review the following code with a focus on %s:\n\n```\n%s\n```\n\nProvide specific suggestions for improvement.", focus, code)
}

func DebugPrompt(errText, code string) string {
	return fmt.Sprintf("Help debug this issue:\n\nError: %s\n\nRelated code:\n```\n%s\n```\n\nProvide step-by-step debugging suggestions.", errText, code)
}

func BrainstormPrompt(topic, constraints string) string {
	prompt := "Brainstorm creative solutions for: " + topic
	if constraints != "" {
		prompt += "\n\nConstraints: " + constraints
	}
	return prompt
}

func AnalyzePrompt(code, analysisType string) string {
	if analysisType == "" {
		analysisType = "general"
	}
	return fmt.Sprintf("Analyze the following code for %s:\n\n```\n%s\n```", analysisType, code)
}
