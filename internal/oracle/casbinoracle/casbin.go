package casbinoracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"

	"github.com/vyrodovalexey/policyguard/internal/identity"
	"github.com/vyrodovalexey/policyguard/internal/observability"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

const engineName = "casbin"

// DefaultModel is an RBAC model matching resources with keyMatch2, so
// policies may use /ok/* and /users/:id patterns. An action of * matches
// every method.
const DefaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// Config configures the casbin oracle.
type Config struct {
	// Model is the casbin model text. Empty uses DefaultModel.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Policy holds policy lines in casbin CSV form, one rule per line.
	Policy string `yaml:"policy" json:"policy" validate:"required"`
}

// Enforcer is an Oracle backed by a casbin enforcer.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
	logger   observability.Logger
}

// Option is a functional option for the enforcer.
type Option func(*Enforcer)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Enforcer) {
		e.logger = logger
	}
}

// New builds an enforcer from the model and policy text.
func New(config *Config, opts ...Option) (*Enforcer, error) {
	if config == nil {
		return nil, errors.New("casbin config is required")
	}
	if strings.TrimSpace(config.Policy) == "" {
		return nil, errors.New("casbin policy is required")
	}

	modelText := config.Model
	if strings.TrimSpace(modelText) == "" {
		modelText = DefaultModel
	}

	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, stringadapter.NewAdapter(config.Policy))
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	e := &Enforcer{
		enforcer: enforcer,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate implements oracle.Oracle. The subject is checked first, then each
// of its roles in order; the first allow wins.
func (e *Enforcer) Evaluate(ctx context.Context, subject *identity.Identity, action, resource string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oracle.NewEvaluationError(engineName, err)
	}
	if subject == nil {
		subject = identity.Anonymous("")
	}

	for _, sub := range subjects(subject) {
		allowed, err := e.enforcer.Enforce(sub, resource, action)
		if err != nil {
			return false, oracle.NewEvaluationError(engineName, err)
		}
		if allowed {
			e.logger.Debug("casbin decision",
				observability.String("subject", sub),
				observability.String("resource", resource),
				observability.String("action", action),
			)
			return true, nil
		}
	}
	return false, nil
}

// RuleCount returns the number of loaded p rules.
func (e *Enforcer) RuleCount() int {
	rules, err := e.enforcer.GetPolicy()
	if err != nil {
		return 0
	}
	return len(rules)
}

func subjects(id *identity.Identity) []string {
	out := make([]string, 0, len(id.Roles)+1)
	out = append(out, id.Subject)
	out = append(out, id.Roles...)
	return out
}

var _ oracle.Oracle = (*Enforcer)(nil)
