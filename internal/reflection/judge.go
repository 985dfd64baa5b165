package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
)

const (
	// DefaultPollInterval is the pause between judge transcript fetches.
	DefaultPollInterval = 2 * time.Second
	// DefaultJudgeTimeout bounds the wait for a judge reply.
	DefaultJudgeTimeout = 180 * time.Second

	judgeSessionTitle = "reflection judge"
	cleanupTimeout    = 10 * time.Second
)

// Host is the slice of the agent runtime the judge depends on.
type Host interface {
	// CreateSession allocates a new empty session and returns its id.
	CreateSession(ctx context.Context, title string) (string, error)
	// SubmitPromptAsync queues a prompt and returns once it is accepted.
	SubmitPromptAsync(ctx context.Context, sessionID string, prompt domain.Prompt) error
	// Messages returns the current transcript of a session.
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)
	// DeleteSession removes a session. Callers treat failure as non-fatal.
	DeleteSession(ctx context.Context, sessionID string) error
	// Notify shows a UI notification. Callers ignore failures.
	Notify(ctx context.Context, n domain.Notification) error
}

// JudgeConfig tunes the judge session orchestration.
type JudgeConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Model        *domain.ModelRef
}

// Evaluation carries everything one judge round produced, complete or not.
type Evaluation struct {
	JudgeSessionID string
	Prompt         string
	Response       string
	Verdict        *domain.Verdict
	Duration       time.Duration
}

// Judge runs a hidden session that grades another session's work.
type Judge struct {
	host    Host
	state   *ReflectionState
	cfg     JudgeConfig
	logger  *slog.Logger
	metrics *Metrics
}

// NewJudge creates a judge. Zero config values fall back to the defaults.
func NewJudge(host Host, state *ReflectionState, cfg JudgeConfig, metrics *Metrics, logger *slog.Logger) *Judge {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJudgeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{
		host:    host,
		state:   state,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Evaluate asks a fresh judge session for a verdict on ec. The returned
// Evaluation is non-nil whenever a judge session was created, so failures can
// still be recorded. Errors wrap ErrTimeout or ErrParse for the two
// "unable to judge" cases.
func (j *Judge) Evaluate(ctx context.Context, ec domain.ExtractedContext, instructions string) (*Evaluation, error) {
	started := time.Now()

	judgeID, err := j.host.CreateSession(ctx, judgeSessionTitle)
	if err != nil {
		return nil, fmt.Errorf("create judge session: %w", err)
	}
	// Tag before anything else can yield: the new session's own idle event
	// must find it already known.
	j.state.MarkJudge(judgeID)
	defer j.release(ctx, judgeID)

	eval := &Evaluation{
		JudgeSessionID: judgeID,
		Prompt:         BuildJudgePrompt(ec, instructions),
	}
	defer func() {
		eval.Duration = time.Since(started)
	}()

	if err := j.host.SubmitPromptAsync(ctx, judgeID, domain.Prompt{Text: eval.Prompt, Model: j.cfg.Model}); err != nil {
		err = fmt.Errorf("submit judge prompt: %w", err)
		j.metrics.observeJudge(err, time.Since(started))
		return eval, err
	}

	response, err := Poll(ctx, j.cfg.PollInterval, j.cfg.Timeout, func(ctx context.Context) (string, bool, error) {
		return j.completedReply(ctx, judgeID)
	})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			j.logger.Warn("Judge session timed out", "judge_session_id", judgeID, "timeout", j.cfg.Timeout)
		}
		j.metrics.observeJudge(err, time.Since(started))
		return eval, err
	}
	eval.Response = response

	verdict, err := ParseVerdict(response)
	j.metrics.observeJudge(err, time.Since(started))
	if err != nil {
		return eval, err
	}
	eval.Verdict = &verdict
	return eval, nil
}

// completedReply returns the text of the last assistant message once the host
// marked it completed.
func (j *Judge) completedReply(ctx context.Context, judgeID string) (string, bool, error) {
	messages, err := j.host.Messages(ctx, judgeID)
	if err != nil {
		j.logger.Debug("Judge poll fetch failed", "judge_session_id", judgeID, "error", err)
		return "", false, err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != domain.RoleAssistant {
			continue
		}
		if !msg.IsCompleted() {
			return "", false, nil
		}
		return msg.Text(), true, nil
	}
	return "", false, nil
}

func (j *Judge) release(ctx context.Context, judgeID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := j.host.DeleteSession(cleanupCtx, judgeID); err != nil {
		j.logger.Warn("Failed to delete judge session", "judge_session_id", judgeID, "error", err)
	}
	j.state.ReleaseJudge(judgeID)
}
