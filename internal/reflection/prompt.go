package reflection

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/reflection-judge/internal/domain"
)

const (
	instructionsMaxChars = 1500
	resultMaxChars       = 2000

	// ProjectInstructionsFile is read from the project directory and embedded in judge prompts.
	ProjectInstructionsFile = "AGENTS.md"
)

const gradingRules = `## Grading Rules
- Every piece of explicitly requested functionality must be present.
- If tests are relevant, they must have been executed and must pass.
- If a build or compile step is relevant, it must have succeeded.
- There must be no unhandled errors in the final state.
- Claims such as "done", "fixed" or "verified" count only when backed by command output shown in the transcript.
- A claim that a failing test is flaky requires a rerun, a quarantine with a ticket, a replacement test, or a fix.
- Shipping with a known gap requires an explicit waiver: impact scope, mitigation and a follow-up reference.
- Reject any "ready" claim made before verification actually ran, or contradicted by later output.

## Severity
- NONE: nothing left to do.
- LOW: cosmetic gaps only.
- MEDIUM: a requested item or its evidence is missing.
- HIGH: core functionality is missing or broken.
- BLOCKER: the work cannot ship as is. A BLOCKER is always incomplete.`

const replyFormat = `## Reply Format
Reply with JSON only, no prose and no code fences:
{"complete": true|false, "severity": "NONE|LOW|MEDIUM|HIGH|BLOCKER", "feedback": "...", "missing": ["..."], "next_actions": ["..."]}`

// BuildJudgePrompt composes the verification prompt sent to a judge session.
func BuildJudgePrompt(ec domain.ExtractedContext, instructions string) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(JudgePromptMarker)
	b.WriteString("\n\nYou are reviewing the work of a coding agent. Decide whether the task below was actually completed.\n\n")

	if s := strings.TrimSpace(instructions); s != "" {
		b.WriteString("## Project Instructions\n")
		b.WriteString(truncate(s, instructionsMaxChars))
		b.WriteString("\n\n")
	}

	b.WriteString("## Original Task\n")
	b.WriteString(ec.Task)
	b.WriteString("\n\n")

	b.WriteString("## Tools Used\n")
	if ec.ToolTrace == "" {
		b.WriteString("(none)")
	} else {
		b.WriteString(ec.ToolTrace)
	}
	b.WriteString("\n\n")

	b.WriteString("## Agent's Final Response\n")
	b.WriteString(truncate(ec.Result, resultMaxChars))
	b.WriteString("\n\n")

	b.WriteString(gradingRules)
	b.WriteString("\n\n")
	b.WriteString(replyFormat)
	return b.String()
}

// BuildFeedback composes the continuation message injected into the original
// session after an incomplete verdict.
func BuildFeedback(v domain.Verdict, attempt, maxAttempts int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Task Incomplete (attempt %d/%d, severity %s)\n\n", FeedbackMarker, attempt, maxAttempts, v.Severity)

	feedback := strings.TrimSpace(v.Feedback)
	if feedback == "" {
		feedback = "The reviewer could not confirm the task is complete."
	}
	b.WriteString(feedback)
	b.WriteString("\n")

	if len(v.Missing) > 0 {
		b.WriteString("\n### Missing\n")
		for _, m := range v.Missing {
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteString("\n")
		}
	}
	if len(v.NextActions) > 0 {
		b.WriteString("\n### Next Actions\n")
		for _, a := range v.NextActions {
			b.WriteString("- ")
			b.WriteString(a)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nPlease address the points above and continue working on the task.")
	return b.String()
}

// LoadProjectInstructions reads AGENTS.md from dir. A missing file yields "".
func LoadProjectInstructions(dir string) string {
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, ProjectInstructionsFile))
	if err != nil {
		return ""
	}
	return string(data)
}
