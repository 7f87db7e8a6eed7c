// Package challenge runs the word-pair unlock challenge.
package challenge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/judge"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/goodtune/lockbox/internal/words"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultMinLength is the minimum sentence length in characters.
const DefaultMinLength = 10

var (
	ErrRefreshLimitReached = errors.New("challenge: refresh limit reached for today")
	ErrInvalidAttempt      = errors.New("challenge: sentence is too short or misses a word")
	ErrSubmissionUsed      = errors.New("challenge: this challenge was already submitted")
	ErrNoChallenge         = errors.New("challenge: no active challenge")
	ErrEvaluationInFlight  = errors.New("challenge: evaluation in progress")
	ErrCancelled           = errors.New("challenge: cancelled during evaluation")
)

// Challenge is the active word-pair task.
type Challenge struct {
	ID         string     `json:"id"`
	Pair       words.Pair `json:"pair"`
	Attempt    string     `json:"attempt"`
	StartedAt  time.Time  `json:"started_at"`
	Submitted  bool       `json:"submitted"`
	Evaluating bool       `json:"evaluating"`
}

// Evaluation is one judge's contribution to a result.
type Evaluation struct {
	Judge   string        `json:"judge"`
	Verdict judge.Verdict `json:"verdict"`
}

// Result combines both judges. It succeeds only when both pass.
type Result struct {
	ChallengeID string       `json:"challenge_id"`
	Evaluations []Evaluation `json:"evaluations"`
	Success     bool         `json:"success"`
}

// Valid reports whether sentence is long enough and contains both words.
// Containment is a case-sensitive substring match.
func Valid(sentence, word1, word2 string, minLength int) bool {
	return utf8.RuneCountInString(sentence) >= minLength &&
		strings.Contains(sentence, word1) &&
		strings.Contains(sentence, word2)
}

// RefreshQuota hands out word refreshes.
type RefreshQuota interface {
	TryConsumeRefresh(ctx context.Context) error
}

// Options configures an Engine.
type Options struct {
	MinLength int
	Timeout   time.Duration
}

// Engine owns at most one active challenge.
type Engine struct {
	picker  *words.Picker
	quota   RefreshQuota
	judges  [2]judge.Evaluator
	clock   clock.Clock
	opts    Options
	logger  zerolog.Logger
	mu      sync.Mutex
	current *Challenge
	cancel  context.CancelFunc
	// gen changes whenever the active challenge is replaced or cancelled
	// so that a late evaluation can tell it is stale.
	gen uint64
}

// NewEngine creates an engine judging with a and b.
func NewEngine(picker *words.Picker, quota RefreshQuota, a, b judge.Evaluator, clk clock.Clock, opts Options, logger zerolog.Logger) *Engine {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Engine{
		picker: picker,
		quota:  quota,
		judges: [2]judge.Evaluator{a, b},
		clock:  clk,
		opts:   opts,
		logger: logger.With().Str("component", "challenge").Logger(),
	}
}

// NewChallenge replaces any active challenge with a fresh one.
func (e *Engine) NewChallenge() Challenge {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.abandonLocked()
	e.current = &Challenge{
		ID:        uuid.NewString(),
		Pair:      e.picker.Draw(),
		StartedAt: e.clock.Now(),
	}
	w1, w2 := e.current.Pair.Strings()
	e.logger.Info().
		Str("challenge", e.current.ID).
		Str("word1", w1).
		Str("word2", w2).
		Msg("Challenge started")
	return *e.current
}

// Current returns the active challenge.
func (e *Engine) Current() (Challenge, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return Challenge{}, false
	}
	return *e.current, true
}

// RefreshWords swaps the word pair of the active challenge, consuming one
// daily refresh.
func (e *Engine) RefreshWords(ctx context.Context) (words.Pair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return words.Pair{}, ErrNoChallenge
	}
	if e.current.Evaluating {
		return words.Pair{}, ErrEvaluationInFlight
	}
	if e.current.Submitted {
		return words.Pair{}, ErrSubmissionUsed
	}
	if err := e.quota.TryConsumeRefresh(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Word refresh rejected")
		return words.Pair{}, ErrRefreshLimitReached
	}

	e.current.Pair = e.picker.Draw()
	metrics.WordRefreshesTotal.Inc()
	return e.current.Pair, nil
}

// SetAttempt records the sentence being composed.
func (e *Engine) SetAttempt(sentence string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return ErrNoChallenge
	}
	if e.current.Evaluating {
		return ErrEvaluationInFlight
	}
	e.current.Attempt = sentence
	return nil
}

// Validate reports whether sentence would be accepted for the active
// challenge.
func (e *Engine) Validate(sentence string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return false
	}
	w1, w2 := e.current.Pair.Strings()
	return Valid(sentence, w1, w2, e.opts.MinLength)
}

// Submit sends sentence to both judges concurrently and waits for both.
// Judge failures and timeouts count as a failing verdict. No judge is
// called when the sentence is invalid or the challenge was already
// submitted.
func (e *Engine) Submit(ctx context.Context, sentence string) (Result, error) {
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		return Result{}, ErrNoChallenge
	}
	if e.current.Evaluating {
		e.mu.Unlock()
		return Result{}, ErrEvaluationInFlight
	}
	if e.current.Submitted {
		e.mu.Unlock()
		return Result{}, ErrSubmissionUsed
	}
	w1, w2 := e.current.Pair.Strings()
	if !Valid(sentence, w1, w2, e.opts.MinLength) {
		e.mu.Unlock()
		return Result{}, ErrInvalidAttempt
	}

	e.current.Attempt = sentence
	e.current.Submitted = true
	e.current.Evaluating = true
	id := e.current.ID
	gen := e.gen
	evalCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	evaluations := e.evaluate(evalCtx, sentence, w1, w2)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen {
		e.logger.Info().Str("challenge", id).Msg("Discarding evaluation of a cancelled challenge")
		return Result{}, ErrCancelled
	}
	e.current.Evaluating = false
	e.cancel = nil

	result := Result{
		ChallengeID: id,
		Evaluations: evaluations,
		Success:     evaluations[0].Verdict.Pass && evaluations[1].Verdict.Pass,
	}
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	metrics.ChallengesTotal.WithLabelValues(outcome).Inc()
	e.logger.Info().
		Str("challenge", id).
		Str("outcome", outcome).
		Str("judge_a", evaluations[0].Verdict.String()).
		Str("judge_b", evaluations[1].Verdict.String()).
		Msg("Challenge evaluated")

	return result, nil
}

func (e *Engine) evaluate(ctx context.Context, sentence, w1, w2 string) []Evaluation {
	evaluations := make([]Evaluation, len(e.judges))

	var g errgroup.Group
	for i, j := range e.judges {
		g.Go(func() error {
			evaluations[i] = e.runJudge(ctx, j, sentence, w1, w2)
			return nil
		})
	}
	_ = g.Wait()

	return evaluations
}

func (e *Engine) runJudge(ctx context.Context, j judge.Evaluator, sentence, w1, w2 string) Evaluation {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	start := time.Now()
	verdict, err := j.Evaluate(ctx, sentence, w1, w2)
	metrics.JudgeDuration.WithLabelValues(j.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		feedback := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			feedback = "evaluation timed out"
		}
		e.logger.Warn().Err(err).Str("judge", j.Name()).Msg("Judge failed, counting as FAIL")
		verdict = judge.Verdict{Pass: false, Feedback: feedback}
	}
	metrics.JudgeVerdictsTotal.WithLabelValues(j.Name(), strings.ToLower(verdict.String())).Inc()

	return Evaluation{Judge: j.Name(), Verdict: verdict}
}

// Cancel abandons the active challenge. An evaluation in flight is
// cancelled and its result discarded. Consumed quotas are not restored.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return
	}
	e.logger.Info().Str("challenge", e.current.ID).Msg("Challenge cancelled")
	e.abandonLocked()
	metrics.ChallengesTotal.WithLabelValues("cancelled").Inc()
}

// Finish clears the active challenge after its result has been applied.
func (e *Engine) Finish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.abandonLocked()
}

// abandonLocked must be called with e.mu held.
func (e *Engine) abandonLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.current = nil
	e.gen++
}
