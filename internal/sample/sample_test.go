package sample

import (
	"context"
	"errors"
	"go/scanner"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"autoclose/internal/decl"
	"autoclose/internal/engine"
	"autoclose/pkg/lifecycle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// tokens lexes src, comments included, so that layout differences do not
// count as drift.
func tokens(t *testing.T, src []byte) []string {
	t.Helper()
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(src))
	var s scanner.Scanner
	s.Init(file, src, func(pos token.Position, msg string) { t.Errorf("%s: %s", pos, msg) }, scanner.ScanComments)
	var out []string
	for {
		_, tok, lit := s.Scan()
		if tok == token.EOF {
			return out
		}
		if lit == "\n" {
			continue
		}
		out = append(out, tok.String()+" "+lit)
	}
}

func TestGeneratedUnitsAreCurrent(t *testing.T) {
	pkg, err := decl.Load("autoclose.yaml")
	require.NoError(t, err)
	res, err := engine.New(engine.Options{}).Generate(context.Background(), pkg)
	require.NoError(t, err)
	require.Empty(t, res.Diagnostics)

	var generated []string
	for _, u := range res.Units {
		generated = append(generated, u.FileName)
		checkedIn, err := os.ReadFile(u.FileName)
		require.NoError(t, err, "missing unit for %s; run go generate", u.Type)
		if diff := cmp.Diff(tokens(t, checkedIn), tokens(t, u.Source)); diff != "" {
			t.Errorf("%s is stale; run go generate (-checked in +generated):\n%s", u.FileName, diff)
		}
	}

	onDisk, err := filepath.Glob("*_autoclose.go")
	require.NoError(t, err)
	sort.Strings(generated)
	sort.Strings(onDisk)
	assert.Equal(t, generated, onDisk)
}

func TestHandle_ReleasesInOrder(t *testing.T) {
	trace := &Trace{}
	h := NewHandle(trace, NewConn("fd", trace, nil), nil)

	require.NoError(t, h.Close())
	assert.Equal(t, []string{
		"handle releaseFD",
		"handle flush",
		"close fd",
		"close buffer",
	}, trace.Events())
	assert.True(t, h.IsClosed())
	assert.True(t, h.buf.closed)
}

func TestHandle_ExactlyOnceUnderConcurrency(t *testing.T) {
	trace := &Trace{}
	fd := NewConn("fd", trace, nil)
	h := NewHandle(trace, fd, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Close())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fd.Closes())
	assert.Len(t, trace.Events(), 4)
}

func TestHandle_ErrorsAreAggregated(t *testing.T) {
	errFlush := errors.New("flush failed")
	errFD := errors.New("fd close failed")
	trace := &Trace{}
	h := NewHandle(trace, NewConn("fd", trace, errFD), errFlush)

	err := h.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlush)
	assert.ErrorIs(t, err, errFD)
	// A failing step does not stop the ones after it.
	assert.Contains(t, trace.Events(), "close buffer")

	assert.NoError(t, h.Close(), "later calls return nil")
}

func TestHandle_FinalizerArming(t *testing.T) {
	h := NewHandle(nil, nil, nil)
	assert.True(t, h.gate.Armed())
	require.NoError(t, h.Close())
	assert.False(t, h.gate.Armed())

	// Teardown already started, so the finalizer is never re-armed.
	h.armFinalizer()
	assert.False(t, h.gate.Armed())
}

func TestHandle_FinalizingReleasesOnlyUnmanagedState(t *testing.T) {
	trace := &Trace{}
	fd := NewConn("fd", trace, nil)
	h := NewHandle(trace, fd, nil)

	require.NoError(t, h.closeLevel(true))
	assert.Equal(t, []string{"handle releaseFD"}, trace.Events())
	assert.Zero(t, fd.Closes())

	require.NoError(t, h.Close())
	assert.Zero(t, fd.Closes())
	assert.False(t, h.gate.Armed())
}

func count(events []string, event string) int {
	n := 0
	for _, e := range events {
		if e == event {
			n++
		}
	}
	return n
}

func TestDerived_ReleasesOwnLevelBeforeBase(t *testing.T) {
	trace := &Trace{}
	d := NewDerived(trace, NewConn("fd", trace, nil), NewConn("log", trace, nil))
	assert.True(t, d.gate.Armed())
	assert.False(t, d.Handle.gate.Armed())

	require.NoError(t, d.Close())
	assert.Equal(t, []string{
		"derived dropLog",
		"derived rotate",
		"close log",
		"handle releaseFD",
		"handle flush",
		"close fd",
		"close buffer",
	}, trace.Events())
	assert.True(t, d.IsClosed())
	assert.True(t, d.Handle.IsClosed())
	assert.False(t, d.gate.Armed())
}

func TestDerived_EachLevelRunsItsHooksOnce(t *testing.T) {
	trace := &Trace{}
	d := NewDerived(trace, NewConn("fd", trace, nil), NewConn("log", trace, nil))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Close())
		}()
	}
	wg.Wait()

	events := trace.Events()
	for _, e := range []string{"derived dropLog", "derived rotate", "handle releaseFD", "handle flush"} {
		assert.Equal(t, 1, count(events, e), e)
	}
}

func TestDerived_BaseClosedDirectly(t *testing.T) {
	trace := &Trace{}
	fd, log := NewConn("fd", trace, nil), NewConn("log", trace, nil)
	d := NewDerived(trace, fd, log)

	require.NoError(t, d.Handle.Close())
	assert.False(t, d.IsClosed(), "each level has its own gate")

	require.NoError(t, d.Close())
	assert.Equal(t, 1, fd.Closes())
	assert.Equal(t, 1, log.Closes())
	events := trace.Events()
	assert.Equal(t, 1, count(events, "derived dropLog"))
	assert.Equal(t, 1, count(events, "handle releaseFD"))
}

func TestDerived_FinalizerChainReachesBase(t *testing.T) {
	trace := &Trace{}
	fd, log := NewConn("fd", trace, nil), NewConn("log", trace, nil)
	d := NewDerived(trace, fd, log)

	require.NoError(t, d.closeLevel(true))
	assert.Equal(t, []string{"derived dropLog", "handle releaseFD"}, trace.Events())
	assert.Zero(t, log.Closes())
	assert.Zero(t, fd.Closes())

	require.NoError(t, d.Close())
	assert.Len(t, trace.Events(), 2, "both levels already settled")
}

type ctxKey struct{}

func TestPool_SyncEntryUsesBackgroundContext(t *testing.T) {
	trace := &Trace{}
	conns, worker := NewConn("conns", trace, nil), NewWorker("worker", trace)
	p := NewPool(trace, conns, worker)

	require.NoError(t, p.Close())
	assert.Equal(t, []string{"pool drain", "close conns", "shutdown worker"}, trace.Events())
	require.Len(t, worker.Contexts(), 1)
	assert.Equal(t, context.Background(), worker.Contexts()[0])

	ctx := context.WithValue(context.Background(), ctxKey{}, "x")
	assert.NoError(t, p.Shutdown(ctx), "the other entry point loses too")
	assert.Len(t, worker.Contexts(), 1)
}

func TestPool_AsyncEntryPassesContext(t *testing.T) {
	trace := &Trace{}
	conns, worker := NewConn("conns", trace, nil), NewWorker("worker", trace)
	p := NewPool(trace, conns, worker)

	ctx := context.WithValue(context.Background(), ctxKey{}, "x")
	require.NoError(t, p.Shutdown(ctx))
	assert.Equal(t, []string{"pool drainCtx", "close conns", "shutdown worker"}, trace.Events())
	require.Len(t, worker.Contexts(), 1)
	assert.Equal(t, "x", worker.Contexts()[0].Value(ctxKey{}))
	assert.NoError(t, p.Close())
	assert.Equal(t, 1, conns.Closes())
}

func TestPool_CancelledContextStillReleases(t *testing.T) {
	trace := &Trace{}
	conns, worker := NewConn("conns", trace, nil), NewWorker("worker", trace)
	p := NewPool(trace, conns, worker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, conns.Closes())
	assert.Len(t, worker.Contexts(), 1)
}

func TestPool_MixedEntryPointsRaceOnce(t *testing.T) {
	trace := &Trace{}
	conns, worker := NewConn("conns", trace, nil), NewWorker("worker", trace)
	p := NewPool(trace, conns, worker)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = p.Close()
		}()
		go func() {
			defer wg.Done()
			_ = p.Shutdown(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, conns.Closes())
	assert.Len(t, worker.Contexts(), 1)
	assert.Len(t, trace.Events(), 3)
}

func TestRunner_NilMembersAreSkipped(t *testing.T) {
	var r Runner
	require.NoError(t, r.Shutdown(context.Background()))
	assert.True(t, r.IsClosed())

	var typedNil *Conn
	r2 := NewRunner(nil, typedNil)
	require.NoError(t, r2.Shutdown(context.Background()))
}

func TestBridge_SyncEntryShutsDownBase(t *testing.T) {
	trace := &Trace{}
	worker, conn := NewWorker("worker", trace), NewConn("conn", trace, nil)
	b := NewBridge(worker, conn)

	require.NoError(t, b.Close())
	assert.Equal(t, []string{"shutdown worker", "close conn"}, trace.Events())
	assert.True(t, b.Runner.IsClosed())
	assert.Equal(t, context.Background(), worker.Contexts()[0])

	require.NoError(t, b.Shutdown(context.Background()))
	assert.Len(t, worker.Contexts(), 1)
}

func TestBox_Generic(t *testing.T) {
	trace := &Trace{}
	conns := NewConn("conns", trace, nil)
	box := NewBox(NewPool(trace, conns, nil))

	require.NoError(t, box.Close())
	assert.True(t, box.item.IsClosed())
	assert.Equal(t, 1, conns.Closes())

	worker := NewWorker("worker", trace)
	async := NewBox(NewPool(trace, nil, worker))
	ctx := context.WithValue(context.Background(), ctxKey{}, "y")
	require.NoError(t, async.Shutdown(ctx))
	assert.Equal(t, "y", worker.Contexts()[0].Value(ctxKey{}))

	var empty *Pool
	require.NoError(t, NewBox(empty).Close())
}

// stall blocks in Shutdown until released.
type stall struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stall) Close() error { return nil }

func (s *stall) Shutdown(ctx context.Context) error {
	close(s.entered)
	<-s.release
	return nil
}

func TestBox_LosersReturnWhileWinnerRuns(t *testing.T) {
	item := &stall{entered: make(chan struct{}), release: make(chan struct{})}
	box := NewBox(item)

	winner := make(chan error, 1)
	go func() { winner <- box.Shutdown(context.Background()) }()
	<-item.entered

	assert.True(t, box.IsClosed(), "closed from the moment the winner enters")
	assert.Equal(t, lifecycle.Closing, box.gate.State())

	loser := make(chan error, 1)
	go func() { loser <- box.Close() }()
	select {
	case err := <-loser:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Error("Close waited for the running teardown")
	}
	assert.NoError(t, box.Shutdown(context.Background()))

	close(item.release)
	require.NoError(t, <-winner)
	assert.Equal(t, lifecycle.Closed, box.gate.State())
}

func TestSession_NilPoolIsSkipped(t *testing.T) {
	trace := &Trace{}
	conn := NewConn("conn", trace, nil)
	s := NewSession(nil, conn)

	require.NotPanics(t, func() { require.NoError(t, s.Close()) })
	assert.Equal(t, 1, conn.Closes())

	var empty Session
	require.NotPanics(t, func() { require.NoError(t, empty.Shutdown(context.Background())) })
	assert.True(t, empty.IsClosed())
}

func TestSession_ReleasesAttachedPool(t *testing.T) {
	trace := &Trace{}
	conns, worker := NewConn("conns", trace, nil), NewWorker("worker", trace)
	s := NewSession(NewPool(trace, conns, worker), NewConn("conn", trace, nil))

	ctx := context.WithValue(context.Background(), ctxKey{}, "s")
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, []string{"close conn", "pool drainCtx", "close conns", "shutdown worker"}, trace.Events())
	assert.Equal(t, "s", worker.Contexts()[0].Value(ctxKey{}))
	assert.True(t, s.Pool.IsClosed())
	assert.NoError(t, s.Close())
}

func TestNative_ShutdownRunsUnmanagedHookFirst(t *testing.T) {
	trace := &Trace{}
	n := NewNative(trace, NewWorker("worker", trace))
	assert.True(t, n.gate.Armed())

	require.NoError(t, n.Shutdown(context.Background()))
	assert.Equal(t, []string{"native unmap", "shutdown worker"}, trace.Events())
	assert.False(t, n.gate.Armed())
}

func TestNative_FinalizerReleasesOnlyUnmanagedState(t *testing.T) {
	trace := &Trace{}
	worker := NewWorker("worker", trace)
	n := NewNative(trace, worker)

	require.NoError(t, n.closeLevel(true))
	assert.Equal(t, []string{"native unmap"}, trace.Events())
	assert.Empty(t, worker.Contexts())
	require.NoError(t, n.Shutdown(context.Background()))
	assert.Empty(t, worker.Contexts())
}
