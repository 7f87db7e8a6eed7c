// Package judge grades challenge sentences through independent evaluators.
package judge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/rs/zerolog"
)

// Verdict is one evaluator's grade for a sentence.
type Verdict struct {
	Pass     bool   `json:"pass"`
	Feedback string `json:"feedback"`
}

func (v Verdict) String() string {
	if v.Pass {
		return "PASS"
	}
	return "FAIL"
}

// Evaluator grades a sentence that must use both words.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, sentence, word1, word2 string) (Verdict, error)
}

// ErrStatus is wrapped by transport errors caused by a non-200 reply.
var ErrStatus = errors.New("judge: unexpected status")

const (
	systemPrompt = `You judge the creativity of short sentences. Decide PASS or FAIL. ` +
		`Reply only with JSON: {"result": "PASS", "feedback": "..."} or {"result": "FAIL", "feedback": "..."}.`

	maxResponseBytes = 64 * 1024
	maxTokens        = 150
)

func prompt(sentence, word1, word2 string) string {
	return fmt.Sprintf(`Evaluate this sentence:

Sentence: %q
Required words: %q, %q

Criteria:
1. Both words appear in the sentence.
2. The sentence is creative and original.
3. The sentence is grammatical.
4. The words relate to each other meaningfully.
5. It is a meaningful sentence, not a list of words.

Reply PASS when every criterion holds, otherwise FAIL.`, sentence, word1, word2)
}

// New builds the evaluator described by cfg.
func New(name string, cfg config.JudgeConfig, client *http.Client, logger zerolog.Logger) (Evaluator, error) {
	logger = logger.With().Str("component", "judge").Str("judge", name).Logger()
	if client == nil {
		client = &http.Client{}
	}

	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			logger.Warn().Msg("No API key configured, judge runs in development mode")
			return NewDevelopment(name), nil
		}
		return &OpenAI{name: name, endpoint: cfg.Endpoint, apiKey: cfg.APIKey, model: cfg.Model, client: client}, nil
	case "anthropic":
		if cfg.APIKey == "" {
			logger.Warn().Msg("No API key configured, judge runs in development mode")
			return NewDevelopment(name), nil
		}
		return &Anthropic{name: name, endpoint: cfg.Endpoint, apiKey: cfg.APIKey, model: cfg.Model, client: client}, nil
	case "static":
		return &Static{name: name, Verdict: Verdict{Pass: cfg.Verdict == "pass", Feedback: "static verdict"}}, nil
	default:
		return nil, fmt.Errorf("unknown judge provider: %s", cfg.Provider)
	}
}

// parseVerdict reads the model's reply. Structured JSON is preferred; a
// reply that is not JSON passes when it mentions PASS.
func parseVerdict(text string) Verdict {
	var reply struct {
		Result   string `json:"result"`
		Feedback string `json:"feedback"`
	}
	candidate := text
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidate = text[start : end+1]
	}
	if err := json.Unmarshal([]byte(candidate), &reply); err == nil && reply.Result != "" {
		return Verdict{
			Pass:     strings.EqualFold(strings.TrimSpace(reply.Result), "PASS"),
			Feedback: reply.Feedback,
		}
	}

	return Verdict{
		Pass:     strings.Contains(strings.ToUpper(text), "PASS"),
		Feedback: strings.TrimSpace(text),
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// Static always returns the same verdict.
type Static struct {
	name    string
	Verdict Verdict
}

// NewStatic creates a judge with a fixed verdict.
func NewStatic(name string, pass bool, feedback string) *Static {
	return &Static{name: name, Verdict: Verdict{Pass: pass, Feedback: feedback}}
}

func (s *Static) Name() string { return s.name }

func (s *Static) Evaluate(ctx context.Context, _, _, _ string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	return s.Verdict, nil
}

// Development returns a random verdict. It stands in for a provider that
// has no API key.
type Development struct {
	name string
}

// NewDevelopment creates a development-mode judge.
func NewDevelopment(name string) *Development {
	return &Development{name: name}
}

var (
	passFeedback = []string{"creative and evocative", "the two words work well together", "an original construction"}
	failFeedback = []string{"reads like a list of words", "the words lack a meaningful link", "not very creative"}
)

func (d *Development) Name() string { return d.name }

func (d *Development) Evaluate(ctx context.Context, _, _, _ string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	if rand.IntN(2) == 0 {
		return Verdict{Pass: true, Feedback: passFeedback[rand.IntN(len(passFeedback))]}, nil
	}
	return Verdict{Pass: false, Feedback: failFeedback[rand.IntN(len(failFeedback))]}, nil
}
