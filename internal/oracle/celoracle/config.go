package celoracle

import (
	"errors"
	"fmt"
)

// Config represents a set of CEL policies.
type Config struct {
	// Policies is the list of policies, evaluated by descending priority.
	Policies []Policy `yaml:"policies" json:"policies"`
}

// Policy is a single CEL rule.
type Policy struct {
	// Name is the policy name.
	Name string `yaml:"name" json:"name"`

	// Description is the policy description.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Expression is the CEL expression to evaluate. It sees subject (map),
	// action (string), resource (string) and now (timestamp).
	Expression string `yaml:"expression" json:"expression"`

	// Effect is the policy effect (allow or deny).
	Effect Effect `yaml:"effect,omitempty" json:"effect,omitempty"`

	// Priority orders evaluation; higher runs first.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Resources restricts the policy to matching resources. A trailing *
	// matches by prefix.
	Resources []string `yaml:"resources,omitempty" json:"resources,omitempty"`

	// Actions restricts the policy to matching actions (case-insensitive).
	Actions []string `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Effect represents the effect of a policy.
type Effect string

// Policy effects.
const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("cel config is required")
	}
	seen := make(map[string]struct{}, len(c.Policies))
	for i := range c.Policies {
		p := &c.Policies[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policies[%d]: %w", i, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("policies[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Validate validates a policy.
func (p *Policy) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.Expression == "" {
		return errors.New("expression is required")
	}
	if p.Effect != "" && p.Effect != EffectAllow && p.Effect != EffectDeny {
		return fmt.Errorf("invalid effect: %s (must be 'allow' or 'deny')", p.Effect)
	}
	return nil
}

// EffectiveEffect returns the policy effect, defaulting to allow.
func (p *Policy) EffectiveEffect() Effect {
	if p.Effect != "" {
		return p.Effect
	}
	return EffectAllow
}
