package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

func currentVersion(holder *oracle.Holder) uint64 {
	h, ok := holder.Current()
	if !ok {
		return 0
	}
	return h.Version()
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(celDocument), 0o600))

	holder := oracle.NewHolder(nil, "")
	r := NewReloader(holder, NewBuilder())
	_, err := r.ApplyFile(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, r, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx), "starting twice is a no-op")
	defer func() { assert.NoError(t, w.Stop()) }()

	require.NoError(t, os.WriteFile(path, []byte(denyAllDocument), 0o600))

	assert.Eventually(t, func() bool {
		return currentVersion(holder) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	h, ok := holder.Current()
	require.True(t, ok)
	allowed, err := h.Evaluate(context.Background(), nil, "GET", "/ok/x")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestWatcher_InvalidDocumentKeepsHandle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(celDocument), 0o600))

	holder := oracle.NewHolder(nil, "")
	r := NewReloader(holder, NewBuilder())
	_, err := r.ApplyFile(path)
	require.NoError(t, err)

	var failures atomic.Int32
	w, err := NewWatcher(path, r,
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(func(error) { failures.Add(1) }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { assert.NoError(t, w.Stop()) }()

	require.NoError(t, os.WriteFile(path, []byte("engine: [broken"), 0o600))

	assert.Eventually(t, func() bool {
		return failures.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), currentVersion(holder))
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(celDocument), 0o600))

	holder := oracle.NewHolder(nil, "")
	r := NewReloader(holder, NewBuilder())
	_, err := r.ApplyFile(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, r, WithDebounceDelay(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { assert.NoError(t, w.Stop()) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(denyAllDocument), 0o600))

	assert.Never(t, func() bool {
		return currentVersion(holder) != 1
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	t.Parallel()

	w, err := NewWatcher(filepath.Join(t.TempDir(), "policy.yaml"), NewReloader(oracle.NewHolder(nil, ""), nil))
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}
