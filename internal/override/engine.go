package override

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Override actions. ActionNone defers to the limit calculator.
const (
	ActionAllow = "allow"
	ActionBlock = "block"
	ActionNone  = "none"
)

// Override is the result of evaluating the operator's rego policies
// against a navigation.
type Override struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// Engine wraps OPA rego engine for override policy evaluation.
// Operators can drop .rego files into the policy directory to force
// allow or block decisions ahead of the limit calculator.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	query   rego.PreparedEvalQuery
	modules map[string]*ast.Module
}

// NewEngine creates a new override engine. It fails when the policy
// directory contains no .rego files; callers treat the engine as
// optional and skip it entirely when no directory is configured.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "override").Logger(),
		modules:   make(map[string]*ast.Module),
	}

	if err := e.loadPolicies(); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	if err := e.prepareQuery(); err != nil {
		return nil, fmt.Errorf("failed to prepare override query: %w", err)
	}

	e.logger.Info().Str("policy_dir", policyDir).Msg("Override engine initialized")

	return e, nil
}

// loadPolicies loads all .rego files from the policy directory
func (e *Engine) loadPolicies() error {
	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return fmt.Errorf("failed to glob policy files: %w", err)
	}

	if len(files) == 0 {
		return fmt.Errorf("no policy files found in %s", e.policyDir)
	}

	e.logger.Info().Int("count", len(files)).Msg("Loading policy files")

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}

		e.modules[file] = module
		e.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return nil
}

func (e *Engine) prepareQuery() error {
	ctx := context.Background()

	opts := append([]func(*rego.Rego){rego.Query("data.focusgate.override.decision")}, e.withModules()...)
	r := rego.New(opts...)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.query = query
	e.logger.Debug().Msg("Override query prepared")

	return nil
}

// withModules returns rego options for all loaded modules
func (e *Engine) withModules() []func(*rego.Rego) {
	opts := make([]func(*rego.Rego), 0, len(e.modules))
	for _, module := range e.modules {
		opts = append(opts, rego.Module(module.Package.Path.String(), module.String()))
	}
	return opts
}

// Evaluate runs the override query for a navigation. Input carries
// the matched site/group, hostname, today's usage, and the local
// time, so policies can express schedules like homework hours or a
// weekend pass.
func (e *Engine) Evaluate(ctx context.Context, input map[string]interface{}) (*Override, error) {
	startTime := time.Now()

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("override query evaluation failed: %w", err)
	}

	duration := time.Since(startTime)
	e.logger.Debug().Dur("duration_ms", duration).Msg("Override query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// No decision rule matched; defer to the calculator.
		return &Override{Action: ActionNone}, nil
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal override decision: %w", err)
	}

	var decision Override
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal override decision: %w", err)
	}

	if decision.Action == "" {
		decision.Action = ActionNone
	}

	return &decision, nil
}

// Reload reloads all policies from disk
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading override policies")

	e.modules = make(map[string]*ast.Module)

	if err := e.loadPolicies(); err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	if err := e.prepareQuery(); err != nil {
		return fmt.Errorf("failed to re-prepare override query: %w", err)
	}

	e.logger.Info().Msg("Override policies reloaded successfully")

	return nil
}
