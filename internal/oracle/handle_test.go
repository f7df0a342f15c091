package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/policyguard/internal/identity"
)

// staticOracle answers every query with the same result.
type staticOracle struct {
	allowed bool
	err     error
	closed  bool
}

func (s *staticOracle) Evaluate(_ context.Context, _ *identity.Identity, _, _ string) (bool, error) {
	return s.allowed, s.err
}

func (s *staticOracle) Close() error {
	s.closed = true
	return nil
}

func TestNewHandle(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewHandle(nil))

	o := &staticOracle{allowed: true}
	h := NewHandle(o, WithVersion(7), WithSource("file:policy.yaml"))
	require.NotNil(t, h)
	assert.Same(t, o, h.Oracle())
	assert.Equal(t, uint64(7), h.Version())
	assert.Equal(t, "file:policy.yaml", h.Source())

	cur, ok := h.Current()
	assert.True(t, ok)
	assert.Same(t, h, cur)
}

func TestHandle_Same(t *testing.T) {
	t.Parallel()

	o := &staticOracle{}
	a := NewHandle(o)
	b := NewHandle(o, WithVersion(2))
	c := NewHandle(&staticOracle{})
	f1 := NewHandle(Func(func(context.Context, *identity.Identity, string, string) (bool, error) {
		return true, nil
	}))

	assert.True(t, a.Same(a))
	assert.True(t, a.Same(b), "different wrappers over the same oracle")
	assert.False(t, a.Same(c))
	assert.False(t, a.Same(nil))
	assert.True(t, f1.Same(f1))
	assert.NotPanics(t, func() {
		assert.False(t, f1.Same(NewHandle(f1.Oracle())))
	})

	var nilHandle *Handle
	assert.True(t, nilHandle.Same(nil))
}

func TestHandle_Evaluate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var seen *identity.Identity
	h := NewHandle(Func(func(_ context.Context, subject *identity.Identity, action, resource string) (bool, error) {
		seen = subject
		return action == "GET" && resource == "/ok", nil
	}))

	allowed, err := h.Evaluate(ctx, nil, "GET", "/ok")
	require.NoError(t, err)
	assert.True(t, allowed)
	require.NotNil(t, seen)
	assert.Equal(t, identity.AnonymousSubject, seen.Subject)

	allowed, err = h.Evaluate(ctx, &identity.Identity{Subject: "alice"}, "POST", "/ok")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "alice", seen.Subject)
}

func TestHandle_Evaluate_Error(t *testing.T) {
	t.Parallel()

	boom := NewEvaluationError("cel", errors.New("boom"))
	h := NewHandle(&staticOracle{allowed: true, err: boom})

	allowed, err := h.Evaluate(context.Background(), nil, "GET", "/")
	assert.False(t, allowed)
	assert.ErrorIs(t, err, ErrEvaluation)
	assert.Contains(t, err.Error(), "cel")
	assert.Contains(t, err.Error(), "boom")
}

func TestEvaluationError(t *testing.T) {
	t.Parallel()

	inner := errors.New("timeout")
	err := NewEvaluationError("opa", inner)

	assert.ErrorIs(t, err, inner)
	assert.ErrorIs(t, err, ErrEvaluation)
	assert.Equal(t, "opa: oracle evaluation failed", NewEvaluationError("opa", nil).Error())
}

func TestHolder_Swap(t *testing.T) {
	t.Parallel()

	empty := NewHolder(nil, "")
	_, ok := empty.Current()
	assert.False(t, ok)
	assert.Nil(t, empty.Swap(nil, "x"))

	first := &staticOracle{allowed: true}
	holder := NewHolder(first, "initial")

	h1, ok := holder.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(1), h1.Version())
	assert.Equal(t, "initial", h1.Source())

	second := &staticOracle{allowed: false}
	h2 := holder.Swap(second, "reload")
	assert.Equal(t, uint64(2), h2.Version())

	cur, _ := holder.Current()
	assert.Same(t, h2, cur)

	// The handle obtained before the swap is untouched.
	assert.Same(t, first, h1.Oracle())
	assert.False(t, first.closed)
}

func TestHolder_Close(t *testing.T) {
	t.Parallel()

	o := &staticOracle{}
	holder := NewHolder(o, "")
	require.NoError(t, holder.Close())
	assert.True(t, o.closed)

	_, ok := holder.Current()
	assert.False(t, ok)
	assert.NoError(t, holder.Close())
}

func TestHolder_ConcurrentReadersDuringSwap(t *testing.T) {
	t.Parallel()

	holder := NewHolder(&staticOracle{allowed: true}, "v1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h, ok := holder.Current()
				if !ok {
					t.Error("holder lost its handle")
					return
				}
				_, _ = h.Evaluate(context.Background(), nil, "GET", "/")
			}
		}()
	}
	for i := 0; i < 50; i++ {
		holder.Swap(&staticOracle{allowed: i%2 == 0}, "reload")
	}
	wg.Wait()

	cur, _ := holder.Current()
	assert.Equal(t, uint64(51), cur.Version())
}

func TestHolder_ConcurrentSwapsPublishLatestVersion(t *testing.T) {
	t.Parallel()

	holder := NewHolder(nil, "")

	const writers, swaps = 4, 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < swaps; j++ {
				next := holder.Swap(&staticOracle{}, "reload")
				cur, ok := holder.Current()
				if !ok {
					t.Error("holder lost its handle")
					return
				}
				if cur.Version() < next.Version() {
					t.Errorf("current version went backwards: got %d after publishing %d", cur.Version(), next.Version())
					return
				}
			}
		}()
	}
	wg.Wait()

	cur, ok := holder.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(writers*swaps), cur.Version())
}
