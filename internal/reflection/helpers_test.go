package reflection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var errHostDown = errors.New("host down")

// fakeHost is an in-memory agent runtime. Prompts submitted to judge sessions
// are answered with judgeReply; prompts to other sessions are appended to
// their transcript as user messages.
type fakeHost struct {
	mu            sync.Mutex
	nextID        int
	transcripts   map[string][]domain.Message
	prompts       map[string][]domain.Prompt
	deleted       []string
	notifications []domain.Notification
	judgeReply    string
	messagesErr   error
	deleteErr     error
	createCalls   int
	createGate    chan struct{}
	onJudgePrompt func(judgeID string)
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		transcripts: make(map[string][]domain.Message),
		prompts:     make(map[string][]domain.Prompt),
	}
}

func (h *fakeHost) CreateSession(ctx context.Context, _ string) (string, error) {
	h.mu.Lock()
	h.createCalls++
	gate := h.createGate
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := fmt.Sprintf("judge-%d", h.nextID)
	h.transcripts[id] = nil
	return id, nil
}

func (h *fakeHost) SubmitPromptAsync(_ context.Context, sessionID string, prompt domain.Prompt) error {
	h.mu.Lock()
	h.prompts[sessionID] = append(h.prompts[sessionID], prompt)
	isJudge := strings.HasPrefix(sessionID, "judge-")
	h.transcripts[sessionID] = append(h.transcripts[sessionID], userMsg(sessionID+"-prompt", prompt.Text))
	if isJudge && h.judgeReply != "" {
		h.transcripts[sessionID] = append(h.transcripts[sessionID], assistantMsg(sessionID+"-reply", h.judgeReply))
	}
	hook := h.onJudgePrompt
	h.mu.Unlock()

	if isJudge && hook != nil {
		hook(sessionID)
	}
	return nil
}

func (h *fakeHost) Messages(_ context.Context, sessionID string) ([]domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.messagesErr != nil {
		return nil, h.messagesErr
	}
	msgs, ok := h.transcripts[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, errHostDown)
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (h *fakeHost) DeleteSession(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, sessionID)
	if h.deleteErr != nil {
		return h.deleteErr
	}
	delete(h.transcripts, sessionID)
	return nil
}

func (h *fakeHost) Notify(_ context.Context, n domain.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications = append(h.notifications, n)
	return nil
}

func (h *fakeHost) setTranscript(sessionID string, msgs ...domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transcripts[sessionID] = msgs
}

func (h *fakeHost) appendMessages(sessionID string, msgs ...domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transcripts[sessionID] = append(h.transcripts[sessionID], msgs...)
}

func (h *fakeHost) setJudgeReply(reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.judgeReply = reply
}

func (h *fakeHost) promptsFor(sessionID string) []domain.Prompt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Prompt(nil), h.prompts[sessionID]...)
}

func (h *fakeHost) deletedSessions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.deleted...)
}

func (h *fakeHost) sentNotifications() []domain.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Notification(nil), h.notifications...)
}

func (h *fakeHost) creates() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.createCalls
}

type memRecorder struct {
	mu      sync.Mutex
	records []*domain.ReflectionRecord
}

func (r *memRecorder) Record(_ context.Context, rec *domain.ReflectionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecorder) all() []*domain.ReflectionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.ReflectionRecord(nil), r.records...)
}

type memObserver struct {
	mu      sync.Mutex
	reports []PassReport
}

func (o *memObserver) Observe(report PassReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, report)
}

func (o *memObserver) all() []PassReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PassReport(nil), o.reports...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testController struct {
	*Controller
	host     *fakeHost
	recorder *memRecorder
	observer *memObserver
}

func newTestController(t *testing.T, host *fakeHost, maxAttempts int) *testController {
	t.Helper()
	recorder := &memRecorder{}
	observer := &memObserver{}
	c, err := NewController(ControllerConfig{
		Host:  host,
		State: NewReflectionState(maxAttempts),
		Judge: JudgeConfig{
			PollInterval: 5 * time.Millisecond,
			Timeout:      200 * time.Millisecond,
		},
		Instructions:  func() string { return "Always run go test." },
		Recorder:      recorder,
		Observer:      observer,
		Metrics:       MustNewMetrics(prometheus.NewRegistry()),
		Logger:        discardLogger(),
		NotifyEnabled: true,
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return &testController{Controller: c, host: host, recorder: recorder, observer: observer}
}

func userMsg(id, text string) domain.Message {
	return domain.Message{
		ID:    id,
		Role:  domain.RoleUser,
		Parts: []domain.Part{{Kind: domain.PartText, Text: text}},
	}
}

func assistantMsg(id, text string) domain.Message {
	done := time.Now()
	return domain.Message{
		ID:          id,
		Role:        domain.RoleAssistant,
		Parts:       []domain.Part{{Kind: domain.PartText, Text: text}},
		CompletedAt: &done,
	}
}

func toolPart(name, input string) domain.Part {
	return domain.Part{Kind: domain.PartTool, ToolName: name, ToolInput: []byte(input)}
}

const (
	replyComplete   = `{"complete": true, "severity": "NONE", "feedback": "All requested work is verified."}`
	replyIncomplete = `{"complete": false, "severity": "HIGH", "feedback": "Tests were never run.", "missing": ["test run"], "next_actions": ["run go test ./..."]}`
	replyBlocker    = `{"complete": true, "severity": "BLOCKER", "feedback": "Build is broken."}`
)
