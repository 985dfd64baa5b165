package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
	"github.com/google/uuid"
)

// Outcome is the result of a single reflection pass.
type Outcome string

const (
	OutcomeSkippedJudge     Outcome = "skipped_judge"
	OutcomeSkippedAborted   Outcome = "skipped_aborted"
	OutcomeSkippedInFlight  Outcome = "skipped_in_flight"
	OutcomeSkippedTooShort  Outcome = "skipped_too_short"
	OutcomeSkippedSettled   Outcome = "skipped_settled"
	OutcomeSkippedNoContext Outcome = "skipped_no_context"
	OutcomeFetchFailed      Outcome = "fetch_failed"
	OutcomeAborted          Outcome = "aborted"
	OutcomeMaxAttempts      Outcome = "max_attempts"
	OutcomeUnjudged         Outcome = "unjudged"
	OutcomeComplete         Outcome = "complete"
	OutcomeContinuation     Outcome = "continuation"
	OutcomePanicked         Outcome = "panicked"
)

const (
	minTranscriptMessages = 2
	notifyTimeout         = 5 * time.Second
)

// Recorder receives a diagnostic record for every pass that reached the judge.
type Recorder interface {
	Record(ctx context.Context, rec *domain.ReflectionRecord) error
}

// Observer is told about every finished pass.
type Observer interface {
	Observe(report PassReport)
}

// PassReport summarizes a finished pass for observers.
type PassReport struct {
	SessionID      string          `json:"session_id"`
	Outcome        Outcome         `json:"outcome"`
	Generation     int             `json:"generation"`
	Attempt        int             `json:"attempt"`
	JudgeSessionID string          `json:"judge_session_id,omitempty"`
	Verdict        *domain.Verdict `json:"verdict,omitempty"`
	At             time.Time       `json:"at"`
}

// ControllerConfig wires a Controller. Instructions returns the project
// instructions embedded into each judge prompt.
type ControllerConfig struct {
	Host          Host
	State         *ReflectionState
	Judge         JudgeConfig
	Instructions  func() string
	Recorder      Recorder
	Observer      Observer
	Metrics       *Metrics
	Logger        *slog.Logger
	NotifyEnabled bool
}

// Controller reacts to host events and drives reflection passes.
type Controller struct {
	host         Host
	state        *ReflectionState
	judge        *Judge
	instructions func() string
	recorder     Recorder
	observer     Observer
	metrics      *Metrics
	logger       *slog.Logger
	notify       bool
	wg           sync.WaitGroup
}

// NewController creates a controller. State is created when cfg.State is nil.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Host == nil {
		return nil, errors.New("reflection controller requires a host")
	}
	if cfg.State == nil {
		cfg.State = NewReflectionState(DefaultMaxAttempts)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Instructions == nil {
		cfg.Instructions = func() string { return "" }
	}
	return &Controller{
		host:         cfg.Host,
		state:        cfg.State,
		judge:        NewJudge(cfg.Host, cfg.State, cfg.Judge, cfg.Metrics, cfg.Logger),
		instructions: cfg.Instructions,
		recorder:     cfg.Recorder,
		observer:     cfg.Observer,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		notify:       cfg.NotifyEnabled,
	}, nil
}

// State returns the controller's guard state.
func (c *Controller) State() *ReflectionState {
	return c.state
}

// Run consumes events until ctx is done or the channel closes, then waits for
// running passes.
func (c *Controller) Run(ctx context.Context, events <-chan domain.Event) {
	defer c.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent dispatches one host event. Idle events start a pass on their own
// goroutine so further events keep flowing while the judge works.
func (c *Controller) HandleEvent(ctx context.Context, ev domain.Event) {
	if ev.SessionID == "" {
		return
	}
	switch ev.Type {
	case domain.EventSessionError:
		if IsAbortError(ev.Error) {
			c.state.MarkAborted(ev.SessionID)
			c.logger.Info("Session aborted, reflection disabled", "session_id", ev.SessionID)
		}
	case domain.EventSessionIdle:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.RunReflection(ctx, ev.SessionID)
		}()
	}
}

// Wait blocks until all passes started by HandleEvent returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// RunReflection performs one reflection pass for sessionID. It never panics
// and never returns an error; every failure maps to an Outcome.
func (c *Controller) RunReflection(ctx context.Context, sessionID string) (outcome Outcome) {
	if c.state.IsKnownJudge(sessionID) {
		return c.finish(PassReport{SessionID: sessionID, Outcome: OutcomeSkippedJudge})
	}
	if c.state.IsAborted(sessionID) {
		return c.finish(PassReport{SessionID: sessionID, Outcome: OutcomeSkippedAborted})
	}
	if !c.state.TryBegin(sessionID) {
		return c.finish(PassReport{SessionID: sessionID, Outcome: OutcomeSkippedInFlight})
	}
	c.metrics.incInFlight()
	defer func() {
		c.metrics.decInFlight()
		c.state.End(sessionID)
	}()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Reflection pass panicked", "session_id", sessionID, "panic", r)
			outcome = c.finish(PassReport{SessionID: sessionID, Outcome: OutcomePanicked})
		}
	}()

	return c.finish(c.reflect(ctx, sessionID))
}

func (c *Controller) reflect(ctx context.Context, sessionID string) PassReport {
	report := PassReport{SessionID: sessionID}

	messages, err := c.host.Messages(ctx, sessionID)
	if err != nil {
		c.logger.Warn("Failed to fetch session transcript", "session_id", sessionID, "error", err)
		report.Outcome = OutcomeFetchFailed
		return report
	}
	if len(messages) < minTranscriptMessages {
		report.Outcome = OutcomeSkippedTooShort
		return report
	}

	generation := HumanMessageCount(messages)
	report.Generation = generation

	if c.state.WasAborted(sessionID, messages) {
		c.state.MarkSettled(sessionID, generation)
		report.Outcome = OutcomeAborted
		return report
	}
	if c.state.IsJudgeSession(sessionID, messages) {
		report.Outcome = OutcomeSkippedJudge
		return report
	}
	c.state.MarkUser(sessionID)

	if c.state.ObserveGeneration(sessionID, generation) {
		c.logger.Debug("New task generation, attempts reset", "session_id", sessionID, "generation", generation)
	}
	key := AttemptKey{SessionID: sessionID, Generation: generation}
	ledger := c.state.Ledger()

	if c.state.IsSettled(sessionID, generation) {
		report.Outcome = OutcomeSkippedSettled
		return report
	}
	if ledger.Reached(key) {
		report.Attempt = ledger.Get(key)
		c.state.MarkSettled(sessionID, generation)
		ledger.Clear(key)
		c.logger.Warn("Max reflection attempts reached", "session_id", sessionID, "attempts", report.Attempt)
		c.notifyUser(ctx, domain.Notification{
			Title:    "Reflection: max attempts reached",
			Message:  fmt.Sprintf("Stopped after %d attempts; the task may still be incomplete.", report.Attempt),
			Severity: domain.NotifyWarning,
			Duration: 8 * time.Second,
		})
		report.Outcome = OutcomeMaxAttempts
		return report
	}

	ec, ok := Extract(messages)
	if !ok {
		report.Outcome = OutcomeSkippedNoContext
		return report
	}

	c.logger.Info("Reflecting on session", "session_id", sessionID, "generation", generation, "attempt", ledger.Get(key)+1)
	eval, err := c.judge.Evaluate(ctx, ec, c.instructions())
	if eval != nil {
		report.JudgeSessionID = eval.JudgeSessionID
	}
	if err != nil {
		c.logger.Warn("Judge could not produce a verdict", "session_id", sessionID, "error", err)
		report.Attempt = ledger.Get(key)
		report.Outcome = OutcomeUnjudged
		c.record(ctx, report, ec, eval, err)
		c.notifyUser(ctx, domain.Notification{
			Title:    "Reflection: judge unavailable",
			Message:  "Could not evaluate the task this round; will retry on the next idle.",
			Severity: domain.NotifyWarning,
			Duration: 5 * time.Second,
		})
		return report
	}

	verdict := *eval.Verdict
	report.Verdict = &verdict
	complete := verdict.EffectiveComplete()
	c.metrics.observeVerdict(string(verdict.Severity), complete)

	if complete {
		ledger.Clear(key)
		c.state.MarkSettled(sessionID, generation)
		report.Outcome = OutcomeComplete
		c.record(ctx, report, ec, eval, nil)
		c.logger.Info("Task judged complete", "session_id", sessionID, "severity", verdict.Severity)
		c.notifyUser(ctx, domain.Notification{
			Title:    "Reflection: task complete",
			Message:  summarize(verdict.Feedback, "Task verified."),
			Severity: domain.NotifySuccess,
			Duration: 5 * time.Second,
		})
		return report
	}

	attempt := ledger.Increment(key)
	report.Attempt = attempt
	report.Outcome = OutcomeContinuation
	c.record(ctx, report, ec, eval, nil)

	severity := domain.NotifyWarning
	if verdict.Severity == domain.SeverityHigh || verdict.Severity == domain.SeverityBlocker {
		severity = domain.NotifyError
	}
	c.notifyUser(ctx, domain.Notification{
		Title:    fmt.Sprintf("Reflection: incomplete (%s)", verdict.Severity),
		Message:  summarize(verdict.Feedback, "Task is not complete yet."),
		Severity: severity,
		Duration: 8 * time.Second,
	})

	feedback := BuildFeedback(verdict, attempt, ledger.Max())
	if err := c.host.SubmitPromptAsync(ctx, sessionID, domain.Prompt{Text: feedback}); err != nil {
		c.logger.Error("Failed to send reflection feedback", "session_id", sessionID, "attempt", attempt, "error", err)
	} else {
		c.logger.Info("Reflection feedback sent", "session_id", sessionID, "attempt", attempt, "severity", verdict.Severity)
	}
	return report
}

func (c *Controller) finish(report PassReport) Outcome {
	report.At = time.Now()
	c.metrics.observePass(report.Outcome)
	if c.observer != nil {
		c.observer.Observe(report)
	}
	return report.Outcome
}

func (c *Controller) record(ctx context.Context, report PassReport, ec domain.ExtractedContext, eval *Evaluation, judgeErr error) {
	if c.recorder == nil {
		return
	}
	rec := &domain.ReflectionRecord{
		ID:         uuid.NewString(),
		SessionID:  report.SessionID,
		Generation: report.Generation,
		Attempt:    report.Attempt,
		Task:       ec.Task,
		Result:     ec.Result,
		ToolTrace:  ec.ToolTrace,
		Verdict:    report.Verdict,
		Outcome:    string(report.Outcome),
		CreatedAt:  time.Now().UTC(),
	}
	if eval != nil {
		rec.JudgeSessionID = eval.JudgeSessionID
		rec.Prompt = eval.Prompt
		rec.Response = eval.Response
		rec.DurationMs = eval.Duration.Milliseconds()
	}
	if judgeErr != nil {
		rec.Error = judgeErr.Error()
	}
	if err := c.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Warn("Failed to record reflection", "session_id", report.SessionID, "error", err)
	}
}

func (c *Controller) notifyUser(ctx context.Context, n domain.Notification) {
	if !c.notify {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := c.host.Notify(notifyCtx, n); err != nil {
		c.logger.Debug("Notification failed", "title", n.Title, "error", err)
	}
}

func summarize(text, fallback string) string {
	if text == "" {
		return fallback
	}
	return truncate(text, 200)
}
