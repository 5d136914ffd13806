package router

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// BoostEvaluator compiles and evaluates persona boost expressions.
// Programs are compiled once per expression and cached.
type BoostEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
	failures map[string]error
}

// NewBoostEvaluator creates an evaluator whose expressions can reference
// text (string), keywords (list of string), error_state (bool) and
// recent_files (list of string).
func NewBoostEvaluator() (*BoostEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("keywords", cel.ListType(cel.StringType)),
		cel.Variable("error_state", cel.BoolType),
		cel.Variable("recent_files", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create boost environment: %w", err)
	}
	return &BoostEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
		failures: make(map[string]error),
	}, nil
}

// Compile checks that expr is a valid boolean expression.
func (b *BoostEvaluator) Compile(expr string) error {
	_, err := b.program(expr)
	return err
}

func (b *BoostEvaluator) program(expr string) (cel.Program, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prg, ok := b.programs[expr]; ok {
		return prg, nil
	}
	if err, ok := b.failures[expr]; ok {
		return nil, err
	}

	prg, err := b.compile(expr)
	if err != nil {
		b.failures[expr] = err
		return nil, err
	}
	b.programs[expr] = prg
	return prg, nil
}

func (b *BoostEvaluator) compile(expr string) (cel.Program, error) {
	ast, iss := b.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile boost %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("boost %q must be boolean, got %s", expr, ast.OutputType())
	}
	prg, err := b.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program boost %q: %w", expr, err)
	}
	return prg, nil
}

// Eval evaluates expr against the task variables.
func (b *BoostEvaluator) Eval(expr, text string, keywords []string, signals Signals) (bool, error) {
	prg, err := b.program(expr)
	if err != nil {
		return false, err
	}

	if keywords == nil {
		keywords = []string{}
	}
	recent := signals.RecentFiles
	if recent == nil {
		recent = []string{}
	}

	out, _, err := prg.Eval(map[string]any{
		"text":         text,
		"keywords":     keywords,
		"error_state":  signals.ErrorState,
		"recent_files": recent,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate boost %q: %w", expr, err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("boost %q returned %T", expr, out.Value())
	}
	return v, nil
}
