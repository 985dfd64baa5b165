// Package reflection implements the judge that decides whether an idle agent
// session actually finished its task, and pushes it to continue when not.
package reflection

import (
	"strings"

	"github.com/ashureev/reflection-judge/internal/domain"
)

const (
	// FeedbackMarker prefixes every continuation message the controller injects.
	// User messages carrying it are not human input.
	FeedbackMarker = "## Reflection:"

	// JudgePromptMarker appears in every judge prompt; a transcript containing it
	// belongs to a judge session.
	JudgePromptMarker = "[reflection-judge] TASK VERIFICATION"

	toolTraceWindow   = 10
	toolInputMaxChars = 100
)

// Extract derives the task, final result and recent tool activity from a
// transcript. ok is false when there is nothing to judge yet, or when the
// transcript is a judge prompt.
func Extract(messages []domain.Message) (domain.ExtractedContext, bool) {
	var (
		task   string
		result string
		trace  []string
	)

	for _, msg := range messages {
		for _, part := range msg.Parts {
			switch part.Kind {
			case domain.PartText:
				switch msg.Role {
				case domain.RoleUser:
					if part.Text == "" || IsFeedback(part.Text) {
						continue
					}
					task = part.Text
				case domain.RoleAssistant:
					if part.Text != "" {
						result = part.Text
					}
				}
			case domain.PartTool:
				trace = append(trace, part.ToolName+": "+truncate(compactInput(part.ToolInput), toolInputMaxChars))
				if len(trace) > toolTraceWindow {
					trace = trace[1:]
				}
			}
		}
	}

	if strings.Contains(task, JudgePromptMarker) {
		return domain.ExtractedContext{}, false
	}
	if strings.TrimSpace(task) == "" || strings.TrimSpace(result) == "" {
		return domain.ExtractedContext{}, false
	}
	return domain.ExtractedContext{
		Task:      task,
		Result:    result,
		ToolTrace: strings.Join(trace, "\n"),
	}, true
}

// IsFeedback reports whether text is a continuation message injected by the controller.
func IsFeedback(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), FeedbackMarker)
}

// HumanMessageCount counts user messages that are not injected feedback. It is
// the task generation of a session.
func HumanMessageCount(messages []domain.Message) int {
	n := 0
	for _, msg := range messages {
		if msg.Role != domain.RoleUser {
			continue
		}
		text := msg.Text()
		if text == "" || IsFeedback(text) {
			continue
		}
		n++
	}
	return n
}

func compactInput(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "{}"
	}
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
