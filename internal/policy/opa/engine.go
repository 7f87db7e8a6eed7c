package opa

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/goodtune/lockbox/internal/usage"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed lock.rego
var builtinPolicy string

const decisionQuery = "data.lockbox.lock.decision"

// Engine evaluates the lock rule with OPA. It implements policy.Decider.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu      sync.RWMutex
	query   rego.PreparedEvalQuery
	modules map[string]*ast.Module
}

// NewEngine creates an OPA engine. With an empty policyDir the built-in
// lock policy is used; otherwise every .rego file in policyDir is loaded.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := e.load(); err != nil {
		return nil, err
	}

	e.logger.Info().Str("policy_dir", policyDir).Int("modules", len(e.modules)).Msg("OPA engine initialized")

	return e, nil
}

func (e *Engine) load() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for name, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
		e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare lock query: %w", err)
	}

	e.mu.Lock()
	e.modules = modules
	e.query = query
	e.mu.Unlock()

	return nil
}

// loadPolicies parses the policy modules
func (e *Engine) loadPolicies() (map[string]*ast.Module, error) {
	modules := make(map[string]*ast.Module)

	if e.policyDir == "" {
		module, err := ast.ParseModule("lock.rego", builtinPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to parse built-in policy: %w", err)
		}
		modules["lock.rego"] = module
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.policyDir)
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}
		modules[file] = module
	}

	return modules, nil
}

// Reload reloads the policies and swaps the prepared query atomically.
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading OPA policies")
	if err := e.load(); err != nil {
		return err
	}
	e.logger.Info().Msg("OPA policies reloaded successfully")
	return nil
}

// Decide implements policy.Decider.
func (e *Engine) Decide(ctx context.Context, settings subscription.Settings, record usage.Record, now time.Time) (policy.Decision, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(BuildInput(settings, record, now)))
	if err != nil {
		return policy.Decision{}, fmt.Errorf("lock query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration", time.Since(startTime)).Msg("Lock query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return policy.Decision{}, fmt.Errorf("no results from lock query")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("failed to marshal lock decision: %w", err)
	}

	var decision policy.Decision
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return policy.Decision{}, fmt.Errorf("failed to unmarshal lock decision: %w", err)
	}

	return decision, nil
}

// BuildInput gathers the facts the lock policy is evaluated against.
func BuildInput(settings subscription.Settings, record usage.Record, now time.Time) map[string]interface{} {
	slotSeconds := make(map[string]interface{}, len(record.SlotSeconds))
	for id, seconds := range record.SlotSeconds {
		slotSeconds[id] = seconds
	}

	input := map[string]interface{}{
		"tier":       string(settings.Tier),
		"now_minute": clock.MinuteOfDay(now),
		"usage": map[string]interface{}{
			"total_seconds": record.TotalSeconds,
			"slot_seconds":  slotSeconds,
		},
		"free": map[string]interface{}{
			"daily_limit_seconds": int64(0),
		},
		"premium": map[string]interface{}{
			"use_time_slot_mode": false,
			"time_slots":         []interface{}{},
		},
	}

	if settings.Free != nil {
		input["free"] = map[string]interface{}{
			"daily_limit_seconds": settings.Free.DailyLimitSeconds,
		}
	}
	if settings.Premium != nil {
		slots := make([]interface{}, 0, len(settings.Premium.TimeSlots))
		for _, slot := range settings.Premium.TimeSlots {
			slots = append(slots, map[string]interface{}{
				"id":              slot.ID,
				"start_minute":    slot.Start.Minutes(),
				"end_minute":      slot.End.Minutes(),
				"allowed_seconds": slot.AllowedSeconds,
			})
		}
		input["premium"] = map[string]interface{}{
			"use_time_slot_mode": settings.Premium.UseTimeSlotMode,
			"time_slots":         slots,
		}
	}

	return input
}
