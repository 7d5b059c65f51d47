// Package policy evaluates Rego policies that guard database creation.
//
// Policies live in package astra.create and may define:
//
//	allow := false            # veto without a message
//	deny contains msg if {..} # veto with reasons
//
// A creation is allowed unless some policy denies it.
package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/astra/telemetry"
	"github.com/yairfalse/astra/types"
)

// Query is the document every guard policy contributes to
const Query = "data.astra.create"

// PolicyEngine evaluates creation policies
type PolicyEngine struct {
	mu      sync.RWMutex
	logger  *telemetry.Logger
	tracer  trace.Tracer
	queries map[string]rego.PreparedEvalQuery
	now     func() time.Time
}

// NewPolicyEngine creates an engine with no policies; it allows everything
func NewPolicyEngine() *PolicyEngine {
	return &PolicyEngine{
		logger:  telemetry.NewLogger("policy-engine"),
		tracer:  otel.Tracer("policy-engine"),
		queries: make(map[string]rego.PreparedEvalQuery),
		now:     time.Now,
	}
}

// LoadPolicy loads and compiles a Rego policy
func (pe *PolicyEngine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := pe.tracer.Start(ctx, "policy_engine.load_policy",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query(Query),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		pe.logger.WithContext(ctx).Error().
			Err(err).
			Str("policy_name", name).
			Msg("failed to compile policy")
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	pe.mu.Lock()
	pe.queries[name] = prepared
	pe.mu.Unlock()

	pe.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("policy loaded successfully")

	return nil
}

// Policies returns the names of the loaded policies, sorted
func (pe *PolicyEngine) Policies() []string {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	names := make([]string, 0, len(pe.queries))
	for name := range pe.queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate runs all loaded policies against a creation request
func (pe *PolicyEngine) Evaluate(ctx context.Context, spec types.DatabaseSpec) (Decision, error) {
	ctx, span := pe.tracer.Start(ctx, "policy_engine.evaluate",
		trace.WithAttributes(
			attribute.String("database.name", spec.Name),
			attribute.String("cloud", string(spec.CloudProvider)),
			attribute.String("region", spec.Region)))
	defer span.End()

	input := BuildPolicyInput(spec, pe.now())
	decision := Decision{Name: spec.Name, Result: ResultAllow}

	for _, name := range pe.Policies() {
		pe.mu.RLock()
		query := pe.queries[name]
		pe.mu.RUnlock()

		verdict, err := evaluatePolicy(ctx, query, input)
		if err != nil {
			return Decision{}, fmt.Errorf("policy %s: %w", name, err)
		}
		if !verdict.opinion {
			continue
		}

		decision.Policies = append(decision.Policies, name)
		if verdict.denied() {
			decision.Result = ResultDeny
			if len(verdict.reasons) == 0 {
				decision.Reasons = append(decision.Reasons, fmt.Sprintf("denied by %s", name))
			}
			decision.Reasons = append(decision.Reasons, verdict.reasons...)
		}
	}

	pe.logger.WithContext(ctx).Info().
		Str("database_name", spec.Name).
		Str("decision", string(decision.Result)).
		Strs("matched_policies", decision.Policies).
		Strs("reasons", decision.Reasons).
		Msg("create policy evaluated")

	return decision, nil
}

// Check evaluates spec and turns a deny into a CreateDeniedError
func (pe *PolicyEngine) Check(ctx context.Context, spec types.DatabaseSpec) error {
	decision, err := pe.Evaluate(ctx, spec)
	if err != nil {
		return err
	}
	if !decision.Allowed() {
		return &types.CreateDeniedError{Name: spec.Name, Reasons: decision.Reasons}
	}
	return nil
}

// verdict is what one policy said
type verdict struct {
	opinion  bool
	allowSet bool
	allow    bool
	reasons  []string
}

func (v verdict) denied() bool {
	return len(v.reasons) > 0 || (v.allowSet && !v.allow)
}

// evaluatePolicy evaluates a single policy
func evaluatePolicy(ctx context.Context, query rego.PreparedEvalQuery, input PolicyInput) (verdict, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return verdict{}, fmt.Errorf("evaluation failed: %w", err)
	}

	var v verdict
	for _, res := range results {
		if len(res.Expressions) == 0 {
			continue
		}
		// OPA returns the package document as a generic JSON object
		doc, ok := res.Expressions[0].Value.(map[string]interface{})
		if !ok {
			continue
		}

		if allow, ok := doc["allow"].(bool); ok {
			v.opinion = true
			v.allowSet = true
			v.allow = allow
		}
		if deny, ok := doc["deny"].([]interface{}); ok {
			v.opinion = true
			for _, item := range deny {
				if reason, ok := item.(string); ok {
					v.reasons = append(v.reasons, reason)
				}
			}
		}
	}
	sort.Strings(v.reasons)
	return v, nil
}
