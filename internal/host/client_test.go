package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
)

type capturedRequest struct {
	Method    string
	Path      string
	Directory string
	Body      string
}

type recordingServer struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (s *recordingServer) capture(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, capturedRequest{
		Method:    r.Method,
		Path:      r.URL.EscapedPath(),
		Directory: r.URL.Query().Get("directory"),
		Body:      string(body),
	})
}

func (s *recordingServer) last(t *testing.T) capturedRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("no request captured")
	}
	return s.requests[len(s.requests)-1]
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recordingServer) {
	t.Helper()
	rec := &recordingServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.capture(r)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:        srv.URL + "/",
		Directory:      "/work/project",
		RequestTimeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c, rec
}

func TestCreateSession(t *testing.T) {
	t.Parallel()

	c, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"id":"ses_judge","title":"reflection judge"}`)
	})

	id, err := c.CreateSession(context.Background(), "reflection judge")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id != "ses_judge" {
		t.Fatalf("unexpected id: %q", id)
	}

	req := rec.last(t)
	if req.Method != http.MethodPost || req.Path != "/session" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	if req.Directory != "/work/project" {
		t.Fatalf("expected directory query, got %q", req.Directory)
	}
	if !strings.Contains(req.Body, `"title":"reflection judge"`) {
		t.Fatalf("unexpected body: %s", req.Body)
	}
}

func TestCreateSessionRejectsEmptyID(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	if _, err := c.CreateSession(context.Background(), "x"); !errors.Is(err, errEmptyID) {
		t.Fatalf("expected errEmptyID, got %v", err)
	}
}

func TestSubmitPromptAsync(t *testing.T) {
	t.Parallel()

	c, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.SubmitPromptAsync(context.Background(), "ses/1", domain.Prompt{
		Text:  "verify this",
		Model: &domain.ModelRef{ProviderID: "anthropic", ModelID: "judge"},
	})
	if err != nil {
		t.Fatalf("SubmitPromptAsync failed: %v", err)
	}

	req := rec.last(t)
	if req.Method != http.MethodPost || req.Path != "/session/ses%2F1/prompt_async" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	var body wirePromptRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Parts) != 1 || body.Parts[0].Type != "text" || body.Parts[0].Text != "verify this" {
		t.Fatalf("unexpected parts: %+v", body.Parts)
	}
	if body.Model == nil || body.Model.ProviderID != "anthropic" || body.Model.ModelID != "judge" {
		t.Fatalf("unexpected model: %+v", body.Model)
	}
}

func TestSubmitPromptAsyncOmitsModel(t *testing.T) {
	t.Parallel()

	c, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.SubmitPromptAsync(context.Background(), "s1", domain.Prompt{Text: "go on"}); err != nil {
		t.Fatalf("SubmitPromptAsync failed: %v", err)
	}
	if body := rec.last(t).Body; strings.Contains(body, "model") {
		t.Fatalf("expected no model in body: %s", body)
	}
}

func TestMessagesDecodesTranscript(t *testing.T) {
	t.Parallel()

	const transcript = `[
		{"info": {"id": "m1", "role": "user", "time": {"created": 1700000000000}},
		 "parts": [{"type": "text", "text": "fix the bug"}]},
		{"info": {"id": "m2", "role": "assistant", "time": {"created": 1700000001000, "completed": 1700000002000},
		          "error": {"name": "MessageAbortedError", "data": {"message": "Aborted"}}},
		 "parts": [
			{"type": "step-start"},
			{"type": "tool", "tool": "bash", "state": {"status": "completed", "input": {"command": "go test"}}},
			{"type": "text", "text": "done"}
		 ]}
	]`
	c, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, transcript)
	})

	msgs, err := c.Messages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if req := rec.last(t); req.Method != http.MethodGet || req.Path != "/session/s1/message" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	if msgs[0].Role != domain.RoleUser || msgs[0].Text() != "fix the bug" || msgs[0].IsCompleted() {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}

	m := msgs[1]
	if m.Role != domain.RoleAssistant || !m.IsCompleted() {
		t.Fatalf("unexpected assistant message: %+v", m)
	}
	if !m.CompletedAt.Equal(time.UnixMilli(1700000002000)) {
		t.Fatalf("unexpected completion time: %v", m.CompletedAt)
	}
	if m.Error == nil || m.Error.Name != "MessageAbortedError" || m.Error.Message != "Aborted" {
		t.Fatalf("unexpected error: %+v", m.Error)
	}
	if len(m.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(m.Parts))
	}
	tool := m.Parts[1]
	if tool.Kind != domain.PartTool || tool.ToolName != "bash" || string(tool.ToolInput) != `{"command": "go test"}` {
		t.Fatalf("unexpected tool part: %+v", tool)
	}
	if m.Text() != "done" {
		t.Fatalf("unexpected text: %q", m.Text())
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	c, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "true")
	})
	if err := c.DeleteSession(context.Background(), "judge-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if req := rec.last(t); req.Method != http.MethodDelete || req.Path != "/session/judge-1" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
}

func TestNotify(t *testing.T) {
	t.Parallel()

	c, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "true")
	})
	err := c.Notify(context.Background(), domain.Notification{
		Title:    "Reflection",
		Message:  "Task incomplete",
		Severity: domain.NotifyWarning,
		Duration: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	req := rec.last(t)
	if req.Path != "/tui/show-toast" {
		t.Fatalf("unexpected path: %s", req.Path)
	}
	var toast wireToast
	if err := json.Unmarshal([]byte(req.Body), &toast); err != nil {
		t.Fatalf("decode toast: %v", err)
	}
	if toast.Variant != "warning" || toast.Duration != 5000 || toast.Message != "Task incomplete" {
		t.Fatalf("unexpected toast: %+v", toast)
	}
}

func TestHostErrorStatus(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	})
	_, err := c.Messages(context.Background(), "gone")
	if !errors.Is(err, ErrHostStatus) {
		t.Fatalf("expected ErrHostStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "session not found") {
		t.Fatalf("expected status and body in error: %v", err)
	}
}

func TestNewClientValidatesURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{BaseURL: "ftp://example.com"}, nil); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
	c, err := NewClient(Config{}, nil)
	if err != nil {
		t.Fatalf("NewClient with defaults failed: %v", err)
	}
	if got := c.endpoint("/event"); got != "http://127.0.0.1:4096/event" {
		t.Fatalf("unexpected endpoint: %s", got)
	}
}
