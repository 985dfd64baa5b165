package host

import (
	"encoding/json"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
)

type wireSession struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type wirePromptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wirePromptRequest struct {
	Parts []wirePromptPart `json:"parts"`
	Model *domain.ModelRef `json:"model,omitempty"`
}

type wireToast struct {
	Title    string `json:"title,omitempty"`
	Message  string `json:"message"`
	Variant  string `json:"variant"`
	Duration int64  `json:"duration,omitempty"`
}

type wireError struct {
	Name string `json:"name"`
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
}

func (e *wireError) toDomain() *domain.MessageError {
	if e == nil || (e.Name == "" && e.Data.Message == "") {
		return nil
	}
	return &domain.MessageError{Name: e.Name, Message: e.Data.Message}
}

type wireMessage struct {
	Info struct {
		ID   string `json:"id"`
		Role string `json:"role"`
		Time struct {
			Created   int64  `json:"created"`
			Completed *int64 `json:"completed"`
		} `json:"time"`
		Error *wireError `json:"error"`
	} `json:"info"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Tool  string `json:"tool"`
	State *struct {
		Input json.RawMessage `json:"input"`
	} `json:"state"`
}

func (m wireMessage) toDomain() domain.Message {
	msg := domain.Message{
		ID:    m.Info.ID,
		Role:  domain.Role(m.Info.Role),
		Error: m.Info.Error.toDomain(),
		Parts: make([]domain.Part, 0, len(m.Parts)),
	}
	if m.Info.Time.Completed != nil {
		t := time.UnixMilli(*m.Info.Time.Completed)
		msg.CompletedAt = &t
	}
	for _, p := range m.Parts {
		part := domain.Part{Kind: domain.PartKind(p.Type)}
		switch part.Kind {
		case domain.PartText:
			part.Text = p.Text
		case domain.PartTool:
			part.ToolName = p.Tool
			if p.State != nil {
				part.ToolInput = p.State.Input
			}
		}
		msg.Parts = append(msg.Parts, part)
	}
	return msg
}

type wireEvent struct {
	Type       string `json:"type"`
	Properties struct {
		SessionID string     `json:"sessionID"`
		Error     *wireError `json:"error"`
	} `json:"properties"`
}

func (e wireEvent) toDomain() (domain.Event, bool) {
	switch domain.EventType(e.Type) {
	case domain.EventSessionIdle, domain.EventSessionError:
	default:
		return domain.Event{}, false
	}
	return domain.Event{
		Type:      domain.EventType(e.Type),
		SessionID: e.Properties.SessionID,
		Error:     e.Properties.Error.toDomain(),
	}, true
}
