package policy

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/policyguard/internal/observability"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
	"github.com/vyrodovalexey/policyguard/internal/oracle/casbinoracle"
	"github.com/vyrodovalexey/policyguard/internal/oracle/celoracle"
	"github.com/vyrodovalexey/policyguard/internal/oracle/opaoracle"
)

// Builder turns policy documents into oracles. Engine metrics are created
// once per builder so repeated builds share collectors.
type Builder struct {
	logger     observability.Logger
	celMetrics *celoracle.Metrics
	opaMetrics *opaoracle.Metrics
}

// BuilderOption is a functional option for the builder.
type BuilderOption func(*Builder)

// WithBuilderLogger sets the logger handed to engines.
func WithBuilderLogger(logger observability.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithRegisterer registers engine metrics on registerer.
func WithRegisterer(registerer prometheus.Registerer) BuilderOption {
	return func(b *Builder) {
		b.celMetrics = celoracle.NewMetrics("", registerer)
		b.opaMetrics = opaoracle.NewMetrics("", registerer)
	}
}

// NewBuilder creates a builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates the oracle described by doc.
func (b *Builder) Build(doc *Document) (oracle.Oracle, error) {
	if doc == nil {
		return nil, fmt.Errorf("policy document is required")
	}

	logger := b.logger.With(observability.String("engine", doc.Engine))

	switch doc.Engine {
	case EngineCEL:
		engine, err := celoracle.New(doc.CEL,
			celoracle.WithLogger(logger),
			celoracle.WithMetrics(b.celMetrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build cel oracle: %w", err)
		}
		return engine, nil
	case EngineCasbin:
		enforcer, err := casbinoracle.New(doc.Casbin, casbinoracle.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to build casbin oracle: %w", err)
		}
		return enforcer, nil
	case EngineOPA:
		client, err := opaoracle.New(doc.OPA,
			opaoracle.WithLogger(logger),
			opaoracle.WithMetrics(b.opaMetrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build opa oracle: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown policy engine %q", doc.Engine)
	}
}
