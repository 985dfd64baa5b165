package domain

import "strings"

// Severity grades how far a task is from done.
type Severity string

const (
	SeverityNone    Severity = "NONE"
	SeverityLow     Severity = "LOW"
	SeverityMedium  Severity = "MEDIUM"
	SeverityHigh    Severity = "HIGH"
	SeverityBlocker Severity = "BLOCKER"
)

// DefaultSeverity applies when the judge omits or garbles the field.
const DefaultSeverity = SeverityMedium

// ParseSeverity normalizes s. Unknown and empty values map to DefaultSeverity
// with ok=false.
func ParseSeverity(s string) (Severity, bool) {
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(s))); sev {
	case SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityBlocker:
		return sev, true
	default:
		return DefaultSeverity, false
	}
}

// Verdict is the judge's structured answer.
type Verdict struct {
	Complete    bool     `json:"complete"`
	Severity    Severity `json:"severity"`
	Feedback    string   `json:"feedback"`
	Missing     []string `json:"missing,omitempty"`
	NextActions []string `json:"next_actions,omitempty"`
}

// EffectiveComplete applies the severity policy: a BLOCKER is never complete,
// whatever the raw flag says.
func (v Verdict) EffectiveComplete() bool {
	return v.Complete && v.Severity != SeverityBlocker
}

// ExtractedContext is what the judge needs to know about a session.
type ExtractedContext struct {
	Task      string `json:"task"`
	Result    string `json:"result"`
	ToolTrace string `json:"tool_trace"`
}
