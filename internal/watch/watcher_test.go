package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setup(t *testing.T, fn Func) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "autoclose.yaml")
	require.NoError(t, os.WriteFile(path, []byte("package: p\n"), 0644))

	w, err := New(path, 20*time.Millisecond, fn)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	var runs atomic.Int32
	w, path := setup(t, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package: p\n# edit\n"), 0644))
	}

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Events, 1)
	assert.Equal(t, 1, stats.Runs)
	assert.False(t, stats.LastEventTime.IsZero())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	var runs atomic.Int32
	_, path := setup(t, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	other := filepath.Join(filepath.Dir(path), "store_autoclose.go")
	require.NoError(t, os.WriteFile(other, []byte("package p\n"), 0644))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestWatcher_RecordsCallbackErrors(t *testing.T) {
	boom := errors.New("boom")
	w, path := setup(t, func(context.Context) error { return boom })

	require.NoError(t, os.WriteFile(path, []byte("package: q\n"), 0644))
	assert.Eventually(t, func() bool { return w.Stats().Runs == 1 }, 2*time.Second, 10*time.Millisecond)

	stats := w.Stats()
	assert.Equal(t, 1, stats.Errors)
	assert.ErrorIs(t, stats.LastError, boom)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "autoclose.yaml"), 0, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.debounceDur)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestWatcher_ContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := New(filepath.Join(t.TempDir(), "autoclose.yaml"), 0, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))

	cancel()
	select {
	case <-w.doneCh:
	case <-time.After(time.Second):
		t.Fatal("event loop did not exit after cancellation")
	}
	w.Stop()
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing", "autoclose.yaml"), 0, nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.watcher.Close())
}
