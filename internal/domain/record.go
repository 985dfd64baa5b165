package domain

import "time"

// ReflectionRecord is the diagnostic dump of one reflection pass. It is written
// for audit only and never read back by the controller.
type ReflectionRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	JudgeSessionID string    `json:"judge_session_id,omitempty"`
	Generation     int       `json:"generation"`
	Attempt        int       `json:"attempt"`
	Task           string    `json:"task"`
	Result         string    `json:"result"`
	ToolTrace      string    `json:"tool_trace"`
	Prompt         string    `json:"prompt"`
	Response       string    `json:"response,omitempty"`
	Verdict        *Verdict  `json:"verdict,omitempty"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"timestamp"`
}
