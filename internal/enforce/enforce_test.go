package enforce

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/lockbox/internal/config"
	"github.com/rs/zerolog"
)

type recordingAgent struct {
	engaged, cleared int
	err              error
}

func (r *recordingAgent) Engage(context.Context, Restriction) error { r.engaged++; return r.err }
func (r *recordingAgent) Clear(context.Context) error               { r.cleared++; return r.err }

func TestMultiCallsEveryAgent(t *testing.T) {
	boom := errors.New("boom")
	first := &recordingAgent{err: boom}
	second := &recordingAgent{}

	m := Multi{first, second}
	if err := m.Engage(context.Background(), Restriction{}); !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if err := m.Clear(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if second.engaged != 1 || second.cleared != 1 {
		t.Errorf("second agent skipped: %+v", second)
	}
}

func TestExecPassesRestriction(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "env")
	engage := []string{"sh", "-c", `echo "$LOCKBOX_ACTION $LOCKBOX_BLOCKED_APPS $LOCKBOX_UNLOCK_AT" > ` + out}
	clear := []string{"sh", "-c", `echo "$LOCKBOX_ACTION" > ` + out}

	agent, err := NewExec(engage, clear, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	until := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	if err := agent.Engage(context.Background(), Restriction{Apps: []string{"games", "video"}, Until: until}); err != nil {
		t.Fatalf("engage: %v", err)
	}
	got, _ := os.ReadFile(out)
	if want := "engage games,video 2025-03-11T00:00:00Z"; strings.TrimSpace(string(got)) != want {
		t.Errorf("engage env = %q, want %q", got, want)
	}

	if err := agent.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = os.ReadFile(out)
	if strings.TrimSpace(string(got)) != "clear" {
		t.Errorf("clear env = %q", got)
	}
}

func TestExecFailure(t *testing.T) {
	agent, err := NewExec([]string{"sh", "-c", "echo denied >&2; exit 3"}, []string{"true"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	err = agent.Engage(context.Background(), Restriction{})
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("expected failure with stderr, got %v", err)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(config.EnforcementConfig{Type: "log"}, zerolog.Nop()); err != nil {
		t.Errorf("log agent: %v", err)
	}
	if _, err := New(config.EnforcementConfig{Type: "exec"}, zerolog.Nop()); err == nil {
		t.Error("exec agent without commands should fail")
	}
	if _, err := New(config.EnforcementConfig{Type: "mdm"}, zerolog.Nop()); err == nil {
		t.Error("unknown type should fail")
	}
}
