// Package enforce tells the device-side enforcement agent to apply or lift
// restrictions. Lockbox decides when; the agent decides how.
package enforce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/goodtune/lockbox/internal/config"
	"github.com/rs/zerolog"
)

// Restriction describes what the agent should block while locked.
type Restriction struct {
	Apps       []string
	Domains    []string
	Categories []string
	// Until is the scheduled unlock time, zero when unknown.
	Until time.Time
}

// Agent applies and lifts restrictions on the device.
type Agent interface {
	Engage(ctx context.Context, r Restriction) error
	Clear(ctx context.Context) error
}

// New builds the agent selected by cfg.
func New(cfg config.EnforcementConfig, logger zerolog.Logger) (Agent, error) {
	switch cfg.Type {
	case "log", "":
		return NewLog(logger), nil
	case "exec":
		return NewExec(cfg.EngageCommand, cfg.ClearCommand, logger)
	default:
		return nil, fmt.Errorf("unknown enforcement type: %s", cfg.Type)
	}
}

// RestrictionFrom returns the configured block lists.
func RestrictionFrom(cfg config.EnforcementConfig) Restriction {
	return Restriction{
		Apps:       cfg.BlockedApps,
		Domains:    cfg.BlockedDomains,
		Categories: cfg.BlockedCategories,
	}
}

// Log only records what would be enforced.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a logging agent.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "enforce").Logger()}
}

func (l *Log) Engage(_ context.Context, r Restriction) error {
	ev := l.logger.Info().
		Strs("apps", r.Apps).
		Strs("domains", r.Domains).
		Strs("categories", r.Categories)
	if !r.Until.IsZero() {
		ev = ev.Time("until", r.Until)
	}
	ev.Msg("Restrictions engaged")
	return nil
}

func (l *Log) Clear(context.Context) error {
	l.logger.Info().Msg("Restrictions cleared")
	return nil
}

// Exec runs external commands. The restriction is passed in the
// environment as LOCKBOX_BLOCKED_APPS, LOCKBOX_BLOCKED_DOMAINS,
// LOCKBOX_BLOCKED_CATEGORIES (comma separated) and LOCKBOX_UNLOCK_AT
// (RFC 3339).
type Exec struct {
	engage []string
	clear  []string
	logger zerolog.Logger
}

// NewExec creates an agent running engage and clear.
func NewExec(engage, clear []string, logger zerolog.Logger) (*Exec, error) {
	if len(engage) == 0 || len(clear) == 0 {
		return nil, errors.New("enforce: exec agent requires engage and clear commands")
	}
	return &Exec{
		engage: engage,
		clear:  clear,
		logger: logger.With().Str("component", "enforce").Logger(),
	}, nil
}

func (e *Exec) Engage(ctx context.Context, r Restriction) error {
	env := []string{
		"LOCKBOX_ACTION=engage",
		"LOCKBOX_BLOCKED_APPS=" + strings.Join(r.Apps, ","),
		"LOCKBOX_BLOCKED_DOMAINS=" + strings.Join(r.Domains, ","),
		"LOCKBOX_BLOCKED_CATEGORIES=" + strings.Join(r.Categories, ","),
	}
	if !r.Until.IsZero() {
		env = append(env, "LOCKBOX_UNLOCK_AT="+r.Until.Format(time.RFC3339))
	}
	return e.run(ctx, e.engage, env)
}

func (e *Exec) Clear(ctx context.Context) error {
	return e.run(ctx, e.clear, []string{"LOCKBOX_ACTION=clear"})
}

func (e *Exec) run(ctx context.Context, argv []string, env []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	e.logger.Debug().Strs("command", argv).Msg("Enforcement command completed")
	return nil
}

// Multi fans out to several agents. Every agent is called even when an
// earlier one fails.
type Multi []Agent

func (m Multi) Engage(ctx context.Context, r Restriction) error {
	var errs []error
	for _, a := range m {
		if err := a.Engage(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Clear(ctx context.Context) error {
	var errs []error
	for _, a := range m {
		if err := a.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
