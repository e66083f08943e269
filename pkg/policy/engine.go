package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Engine holds the plan catalogue and a cache of compiled rule programs.
// Safe for concurrent use.
type Engine struct {
	env *cel.Env

	mu    sync.RWMutex
	progs map[string]cel.Program
	plans map[string]PlanSpec
}

// NewEngine builds an engine preloaded with the built-in plans.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("plan", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("usage", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	e := &Engine{
		env:   env,
		progs: make(map[string]cel.Program),
		plans: make(map[string]PlanSpec),
	}
	for _, p := range defaultPlans() {
		e.plans[p.Name] = p
	}
	return e, nil
}

// Plan returns the named plan. Unknown names fall back to FREE so a stale
// tenant row can never bypass limits.
func (e *Engine) Plan(name string) PlanSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.plans[strings.ToUpper(name)]; ok {
		return p
	}
	return e.plans[PlanFree]
}

// Check evaluates every rule of the tenant's plan against the usage
// snapshot and returns a *Violation for the first rule that fails.
func (e *Engine) Check(planName string, u Usage) error {
	spec := e.Plan(planName)

	input := map[string]any{
		"plan": map[string]any{
			"max_documents_per_month":  spec.Limits.MaxDocumentsPerMonth,
			"max_signers_per_document": spec.Limits.MaxSignersPerDocument,
			"max_file_size_bytes":      spec.Limits.MaxFileSizeBytes,
			"allow_whatsapp":           spec.Limits.AllowWhatsapp,
		},
		"usage": map[string]any{
			"documents_this_month": u.DocumentsThisMonth,
			"signer_count":         u.SignerCount,
			"file_size_bytes":      u.FileSizeBytes,
			"wants_whatsapp":       u.WantsWhatsapp,
		},
	}

	rules := spec.Rules
	if len(rules) == 0 {
		rules = defaultRules()
	}
	for _, r := range rules {
		ok, err := e.eval(r.Expr, input)
		if err != nil {
			return fmt.Errorf("plan %s rule %s: %w", spec.Name, r.Name, err)
		}
		if !ok {
			msg := r.Message
			if msg == "" {
				msg = fmt.Sprintf("rule %s not satisfied", r.Name)
			}
			return &Violation{Plan: spec.Name, Rule: r.Name, Kind: r.Kind, Message: msg}
		}
	}
	return nil
}

func (e *Engine) eval(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule did not evaluate to bool")
	}
	return val, nil
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.progs[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.progs[expr]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.progs[expr] = prg
	return prg, nil
}
