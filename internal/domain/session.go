// Package domain contains core domain types for the reflection judge.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks human (or injected feedback) messages.
	RoleUser Role = "user"
	// RoleAssistant marks agent replies.
	RoleAssistant Role = "assistant"
)

// PartKind tags the variant held by a Part.
type PartKind string

const (
	// PartText is a plain text chunk.
	PartText PartKind = "text"
	// PartTool is a tool invocation.
	PartTool PartKind = "tool"
)

// Part is one element of a message. Kinds other than text and tool are kept
// with their kind so callers can skip them.
type Part struct {
	Kind      PartKind
	Text      string
	ToolName  string
	ToolInput json.RawMessage
}

// MessageError is the error the host attached to a message, if any.
type MessageError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Message is a single turn in a session transcript.
type Message struct {
	ID          string
	Role        Role
	Parts       []Part
	CompletedAt *time.Time
	Error       *MessageError
}

// Text joins the message's text parts with newlines.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// IsCompleted reports whether the host stamped a completion time.
func (m Message) IsCompleted() bool {
	return m.CompletedAt != nil
}

// ModelRef selects a provider/model pair on the host.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// Prompt is a text prompt submitted to a host session.
type Prompt struct {
	Text  string
	Model *ModelRef
}

// EventType enumerates the host events the judge consumes.
type EventType string

const (
	// EventSessionIdle fires when a session finished its current turn.
	EventSessionIdle EventType = "session.idle"
	// EventSessionError fires when a session turn ended with an error.
	EventSessionError EventType = "session.error"
)

// Event is a host lifecycle event.
type Event struct {
	Type      EventType
	SessionID string
	Error     *MessageError
}

// NotificationSeverity controls how a notification is rendered by the host.
type NotificationSeverity string

const (
	NotifyInfo    NotificationSeverity = "info"
	NotifySuccess NotificationSeverity = "success"
	NotifyWarning NotificationSeverity = "warning"
	NotifyError   NotificationSeverity = "error"
)

// Notification is a fire-and-forget UI message.
type Notification struct {
	Title    string
	Message  string
	Severity NotificationSeverity
	Duration time.Duration
}
