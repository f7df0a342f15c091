package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/policyguard/internal/oracle"
	"github.com/vyrodovalexey/policyguard/internal/oracle/casbinoracle"
	"github.com/vyrodovalexey/policyguard/internal/oracle/celoracle"
	"github.com/vyrodovalexey/policyguard/internal/oracle/opaoracle"
)

const celDocument = `
engine: cel
cel:
  policies:
    - name: read-ok
      expression: action == "GET" && resource.startsWith("/ok")
`

const denyAllDocument = `
engine: cel
cel:
  policies:
    - name: nothing
      expression: "false"
`

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		engine  string
		wantErr bool
	}{
		{name: "cel", content: celDocument, engine: EngineCEL},
		{name: "casbin", content: "engine: casbin\ncasbin:\n  policy: p, _actor, /ok/*, GET\n", engine: EngineCasbin},
		{name: "opa", content: "engine: opa\nopa:\n  url: http://opa:8181\n  policy: policyguard/allow\n  timeout: 1s\n", engine: EngineOPA},
		{name: "missing engine", content: "cel:\n  policies: []\n", wantErr: true},
		{name: "unknown engine", content: "engine: rego\n", wantErr: true},
		{name: "missing section", content: "engine: casbin\n", wantErr: true},
		{name: "opa bad url", content: "engine: opa\nopa:\n  url: opa\n  policy: p\n", wantErr: true},
		{name: "bad yaml", content: "engine: [", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			doc, err := Parse([]byte(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, doc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.engine, doc.Engine)
		})
	}
}

func TestBuilder_Build(t *testing.T) {
	t.Parallel()

	b := NewBuilder()

	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, o oracle.Oracle)
	}{
		{
			name:    "cel",
			content: celDocument,
			check: func(t *testing.T, o oracle.Oracle) {
				assert.IsType(t, &celoracle.Engine{}, o)
			},
		},
		{
			name:    "casbin",
			content: "engine: casbin\ncasbin:\n  policy: p, _actor, /ok/*, GET\n",
			check: func(t *testing.T, o oracle.Oracle) {
				assert.IsType(t, &casbinoracle.Enforcer{}, o)
			},
		},
		{
			name:    "opa",
			content: "engine: opa\nopa:\n  url: http://opa:8181\n  policy: policyguard/allow\n",
			check: func(t *testing.T, o oracle.Oracle) {
				assert.IsType(t, &opaoracle.Client{}, o)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			doc, err := Parse([]byte(tt.content))
			require.NoError(t, err)

			o, err := b.Build(doc)
			require.NoError(t, err)
			tt.check(t, o)
		})
	}
}

func TestBuilder_Build_Errors(t *testing.T) {
	t.Parallel()

	b := NewBuilder()

	_, err := b.Build(nil)
	assert.Error(t, err)

	_, err = b.Build(&Document{Engine: "rego"})
	assert.Error(t, err)

	_, err = b.Build(&Document{Engine: EngineCEL, CEL: &celoracle.Config{
		Policies: []celoracle.Policy{{Name: "broken", Expression: "action =="}},
	}})
	assert.Error(t, err)
}

func TestReloader_Apply(t *testing.T) {
	t.Parallel()

	holder := oracle.NewHolder(nil, "")
	metrics := NewMetrics("test", nil)
	r := NewReloader(holder, nil, WithReloaderMetrics(metrics))
	assert.Same(t, holder, r.Holder())

	h, err := r.Apply([]byte(celDocument), "test:first")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Version())
	assert.Equal(t, "test:first", h.Source())

	allowed, err := h.Evaluate(context.Background(), nil, "GET", "/ok/x")
	require.NoError(t, err)
	assert.True(t, allowed)

	_, err = r.Apply([]byte("engine: nope"), "test:broken")
	require.Error(t, err)

	current, ok := holder.Current()
	require.True(t, ok)
	assert.Same(t, h, current, "a failed reload keeps the serving handle")

	h2, err := r.Apply([]byte(denyAllDocument), "test:second")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h2.Version())

	allowed, err = h.Evaluate(context.Background(), nil, "GET", "/ok/x")
	require.NoError(t, err)
	assert.True(t, allowed, "a handle resolved before the swap keeps its oracle")

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.reloadsTotal.WithLabelValues("test", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.reloadsTotal.WithLabelValues("test", "error")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.version))
}

func TestReloader_ApplyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(celDocument), 0o600))

	r := NewReloader(oracle.NewHolder(nil, ""), NewBuilder())
	h, err := r.ApplyFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file:"+path, h.Source())

	_, err = r.ApplyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReloader_NoHolder(t *testing.T) {
	t.Parallel()

	r := NewReloader(nil, nil)
	_, err := r.Apply([]byte(celDocument), "test")
	assert.Error(t, err)
}

func TestSourceKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "file", sourceKind("file:/etc/policy.yaml"))
	assert.Equal(t, "redis", sourceKind("redis:policyguard:policy"))
	assert.Equal(t, "static", sourceKind("static"))
}
