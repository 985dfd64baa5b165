package reflection

import (
	"strings"

	"github.com/ashureev/reflection-judge/internal/domain"
)

// AbortErrorName is the host's error name for a turn cancelled by the user.
const AbortErrorName = "MessageAbortedError"

// ContainsJudgePrompt reports whether any text part carries the judge marker.
func ContainsJudgePrompt(messages []domain.Message) bool {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if part.Kind == domain.PartText && strings.Contains(part.Text, JudgePromptMarker) {
				return true
			}
		}
	}
	return false
}

// ContainsAbort reports whether any assistant turn ended with a cancellation.
func ContainsAbort(messages []domain.Message) bool {
	for _, msg := range messages {
		if msg.Role == domain.RoleAssistant && IsAbortError(msg.Error) {
			return true
		}
	}
	return false
}

// IsAbortError classifies a host error as a user cancellation.
func IsAbortError(err *domain.MessageError) bool {
	if err == nil {
		return false
	}
	if err.Name == AbortErrorName {
		return true
	}
	return strings.Contains(strings.ToLower(err.Message), "abort")
}

// IsJudgeSession combines the known-judge fast path with the content check.
// A content hit is memoized.
func (s *ReflectionState) IsJudgeSession(sessionID string, messages []domain.Message) bool {
	if s.IsKnownJudge(sessionID) {
		return true
	}
	if ContainsJudgePrompt(messages) {
		s.markKind(sessionID, KindJudge)
		return true
	}
	return false
}

// WasAborted combines the sticky aborted tag with the content check. A content
// hit is memoized permanently.
func (s *ReflectionState) WasAborted(sessionID string, messages []domain.Message) bool {
	if s.IsAborted(sessionID) {
		return true
	}
	if ContainsAbort(messages) {
		s.MarkAborted(sessionID)
		return true
	}
	return false
}
