package policy

import (
	"errors"
	"strings"

	"github.com/vyrodovalexey/policyguard/internal/observability"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// Reloader builds oracles from policy documents and publishes them into a
// Holder. A document that fails to parse or build leaves the current handle
// in place.
type Reloader struct {
	holder  *oracle.Holder
	builder *Builder
	logger  observability.Logger
	metrics *Metrics
}

// ReloaderOption is a functional option for the reloader.
type ReloaderOption func(*Reloader)

// WithReloaderLogger sets the logger.
func WithReloaderLogger(logger observability.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// WithReloaderMetrics sets the metrics.
func WithReloaderMetrics(metrics *Metrics) ReloaderOption {
	return func(r *Reloader) {
		r.metrics = metrics
	}
}

// NewReloader creates a reloader publishing into holder.
func NewReloader(holder *oracle.Holder, builder *Builder, opts ...ReloaderOption) *Reloader {
	if builder == nil {
		builder = NewBuilder()
	}
	r := &Reloader{
		holder:  holder,
		builder: builder,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Holder returns the holder the reloader publishes into.
func (r *Reloader) Holder() *oracle.Holder {
	return r.holder
}

// Apply parses data and swaps the resulting oracle in, labelled with source.
func (r *Reloader) Apply(data []byte, source string) (*oracle.Handle, error) {
	doc, err := Parse(data)
	if err != nil {
		return r.fail(source, err)
	}
	return r.ApplyDocument(doc, source)
}

// ApplyFile loads the document at path and swaps the resulting oracle in.
func (r *Reloader) ApplyFile(path string) (*oracle.Handle, error) {
	doc, err := LoadFile(path)
	if err != nil {
		return r.fail("file:"+path, err)
	}
	return r.ApplyDocument(doc, "file:"+path)
}

// ApplyDocument builds doc and swaps the resulting oracle in.
func (r *Reloader) ApplyDocument(doc *Document, source string) (*oracle.Handle, error) {
	if r.holder == nil {
		return r.fail(source, errors.New("policy reloader has no holder"))
	}

	o, err := r.builder.Build(doc)
	if err != nil {
		return r.fail(source, err)
	}

	h := r.holder.Swap(o, source)
	r.metrics.recordReload(sourceKind(source), nil, h.Version())
	r.logger.Info("policy loaded",
		observability.String("source", source),
		observability.String("engine", doc.Engine),
		observability.Uint64("version", h.Version()),
	)
	return h, nil
}

func (r *Reloader) fail(source string, err error) (*oracle.Handle, error) {
	r.metrics.recordReload(sourceKind(source), err, 0)
	r.logger.Error("policy reload failed",
		observability.String("source", source),
		observability.Error(err),
	)
	return nil, err
}

// sourceKind trims a source label such as file:/etc/policy.yaml to its
// scheme so metric cardinality stays bounded.
func sourceKind(source string) string {
	kind, _, _ := strings.Cut(source, ":")
	return kind
}
