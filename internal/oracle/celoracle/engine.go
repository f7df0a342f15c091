package celoracle

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/vyrodovalexey/policyguard/internal/identity"
	"github.com/vyrodovalexey/policyguard/internal/observability"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

const engineName = "cel"

// compiledPolicy pairs a policy with its compiled program.
type compiledPolicy struct {
	Policy
	program cel.Program
}

// Engine is an Oracle backed by CEL expressions. All policies are compiled
// by New; the engine never changes afterwards.
type Engine struct {
	policies []compiledPolicy
	logger   observability.Logger
	metrics  *Metrics
}

// Option is a functional option for the engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// New compiles the configured policies into an engine. Any invalid policy or
// compilation failure aborts construction.
func New(config *Config, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(e)
	}

	env, err := newEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e.policies = make([]compiledPolicy, 0, len(config.Policies))
	for _, p := range config.Policies {
		ast, issues := env.Compile(p.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy %q: failed to compile expression: %w", p.Name, issues.Err())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("policy %q: failed to create program: %w", p.Name, err)
		}
		e.policies = append(e.policies, compiledPolicy{Policy: p, program: program})
	}

	sort.SliceStable(e.policies, func(i, j int) bool {
		return e.policies[i].Priority > e.policies[j].Priority
	})

	return e, nil
}

// newEnvironment declares the variables and helper functions policies can use.
func newEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("now", cel.TimestampType),
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(globBinding),
			),
		),
	)
}

// globBinding implements glob(pattern, value) with path.Match semantics.
func globBinding(pattern, value ref.Val) ref.Val {
	p, ok := pattern.Value().(string)
	if !ok {
		return types.False
	}
	v, ok := value.Value().(string)
	if !ok {
		return types.False
	}
	matched, err := path.Match(p, v)
	if err != nil {
		return types.NewErr("glob: %v", err)
	}
	return types.Bool(matched)
}

// Evaluate implements oracle.Oracle. The first matching policy by priority
// decides; when none matches the answer is false. A policy that fails at
// runtime stops evaluation with an *oracle.EvaluationError, so a deny rule
// can never be skipped in favor of a lower-priority allow.
func (e *Engine) Evaluate(ctx context.Context, subject *identity.Identity, action, resource string) (bool, error) {
	start := time.Now()
	if subject == nil {
		subject = identity.Anonymous("")
	}

	vars := map[string]interface{}{
		"subject":  subject.Attributes(),
		"action":   action,
		"resource": resource,
		"now":      start,
	}

	for i := range e.policies {
		p := &e.policies[i]
		if !p.applies(resource, action) {
			continue
		}

		if err := ctx.Err(); err != nil {
			return false, oracle.NewEvaluationError(engineName, err)
		}

		result, _, err := p.program.ContextEval(ctx, vars)
		if err != nil {
			e.metrics.recordError(p.Name)
			e.logger.Warn("CEL evaluation error",
				observability.String("policy", p.Name),
				observability.Error(err),
			)
			return false, oracle.NewEvaluationError(engineName,
				fmt.Errorf("policy %q: %w", p.Name, err))
		}

		if matched, ok := result.Value().(bool); ok && matched {
			allowed := p.EffectiveEffect() == EffectAllow
			e.metrics.recordEvaluation(p.Name, decisionLabel(allowed), time.Since(start))
			e.logger.Debug("CEL decision",
				observability.String("policy", p.Name),
				observability.Bool("allowed", allowed),
				observability.String("subject", subject.Subject),
				observability.String("resource", resource),
				observability.String("action", action),
			)
			return allowed, nil
		}
	}

	e.metrics.recordEvaluation("default", decisionLabel(false), time.Since(start))
	return false, nil
}

// PolicyCount returns the number of compiled policies.
func (e *Engine) PolicyCount() int {
	return len(e.policies)
}

// applies checks the resource and action pre-filters.
func (p *compiledPolicy) applies(resource, action string) bool {
	if len(p.Resources) > 0 && !matchesAny(p.Resources, func(r string) bool {
		return r == "*" || r == resource || (strings.HasSuffix(r, "*") && strings.HasPrefix(resource, r[:len(r)-1]))
	}) {
		return false
	}
	if len(p.Actions) > 0 && !matchesAny(p.Actions, func(a string) bool {
		return a == "*" || strings.EqualFold(a, action)
	}) {
		return false
	}
	return true
}

func matchesAny(values []string, match func(string) bool) bool {
	for _, v := range values {
		if match(v) {
			return true
		}
	}
	return false
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// Ensure Engine implements oracle.Oracle.
var _ oracle.Oracle = (*Engine)(nil)
