package judge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/lockbox/internal/config"
	"github.com/rs/zerolog"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		pass     bool
		feedback string
	}{
		{"json pass", `{"result": "PASS", "feedback": "lovely"}`, true, "lovely"},
		{"json fail", `{"result": "FAIL", "feedback": "a list"}`, false, "a list"},
		{"lowercase result", `{"result": "pass", "feedback": "ok"}`, true, "ok"},
		{"json wrapped in prose", "Here you go:\n{\"result\": \"FAIL\", \"feedback\": \"dull\"}\nThanks", false, "dull"},
		{"text mentions pass", "I would PASS this sentence.", true, "I would PASS this sentence."},
		{"text without pass", "Not good enough.", false, "Not good enough."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := parseVerdict(tt.text)
			if v.Pass != tt.pass || v.Feedback != tt.feedback {
				t.Errorf("parseVerdict(%q) = %+v", tt.text, v)
			}
		})
	}
}

func TestOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "gpt-test") || !strings.Contains(string(body), `\"바다\"`) {
			t.Errorf("unexpected request body: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"{\"result\":\"PASS\",\"feedback\":\"vivid\"}"}}]}`)
	}))
	defer srv.Close()

	ev, err := New("a", config.JudgeConfig{Provider: "openai", APIKey: "sk-test", Model: "gpt-test", Endpoint: srv.URL}, srv.Client(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	v, err := ev.Evaluate(context.Background(), "바다에서 꿈같은 일몰", "바다", "꿈")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !v.Pass || v.Feedback != "vivid" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestAnthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic headers: %v", r.Header)
		}
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"{\"result\":\"FAIL\",\"feedback\":\"flat\"}"}]}`)
	}))
	defer srv.Close()

	ev, err := New("b", config.JudgeConfig{Provider: "anthropic", APIKey: "key", Model: "m", Endpoint: srv.URL}, srv.Client(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	v, err := ev.Evaluate(context.Background(), "바다에서 꿈같은 일몰", "바다", "꿈")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if v.Pass || v.Feedback != "flat" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(200 * time.Millisecond)
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ev, _ := New("a", config.JudgeConfig{Provider: "openai", APIKey: "k", Endpoint: srv.URL}, srv.Client(), zerolog.Nop())
	if _, err := ev.Evaluate(context.Background(), "s", "a", "b"); !errors.Is(err, ErrStatus) {
		t.Errorf("expected ErrStatus, got %v", err)
	}

	slow, _ := New("a", config.JudgeConfig{Provider: "openai", APIKey: "k", Endpoint: srv.URL + "/slow"}, srv.Client(), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := slow.Evaluate(ctx, "s", "a", "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestNewProviders(t *testing.T) {
	ev, err := New("a", config.JudgeConfig{Provider: "openai"}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ev.(*Development); !ok {
		t.Errorf("missing API key should select development mode, got %T", ev)
	}

	ev, err = New("b", config.JudgeConfig{Provider: "static", Verdict: "pass"}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	v, _ := ev.Evaluate(context.Background(), "", "", "")
	if !v.Pass {
		t.Error("static pass judge failed")
	}

	if _, err := New("c", config.JudgeConfig{Provider: "gemini"}, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown provider")
	}
}
