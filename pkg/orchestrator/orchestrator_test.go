package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexhamidi/anyheart/internal/testutils"
	"github.com/alexhamidi/anyheart/pkg/adapters/memory"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/observation"
	"github.com/alexhamidi/anyheart/pkg/orchestrator"
	"github.com/alexhamidi/anyheart/pkg/pagecache"
	"github.com/alexhamidi/anyheart/pkg/session"
	"github.com/alexhamidi/anyheart/pkg/share"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pageURL = "https://example.com/pricing?ref=ad"
	page    = `<html><head><title>Pricing</title></head><body><p>hello</p></body></html>`
)

type statusLog struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusLog) Status(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, msg)
}

func (s *statusLog) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

type env struct {
	ctrl   *session.Controller
	shares *share.Service
	store  *memory.Store
	interp *testutils.EchoInterpreter
	host   *testutils.FakeHost
	kv     *memory.KV
	cache  *pagecache.Cache
	sink   *statusLog
	orch   *orchestrator.Orchestrator
}

func newEnv(t *testing.T, opts ...orchestrator.Option) *env {
	t.Helper()
	e := &env{
		store:  memory.NewStore(),
		interp: &testutils.EchoInterpreter{},
		host:   testutils.NewFakeHost(pageURL, page),
		kv:     memory.NewKV(),
		sink:   &statusLog{},
	}
	e.ctrl = session.NewController(e.store, e.interp, testutils.BodyMerger{})
	e.shares = share.NewService(memory.NewRecordStore())
	e.cache = pagecache.New(e.kv, pagecache.WithDebounce(0))
	t.Cleanup(e.cache.Close)
	e.orch = e.newOrchestrator(opts...)
	return e
}

func (e *env) newOrchestrator(opts ...orchestrator.Option) *orchestrator.Orchestrator {
	base := []orchestrator.Option{
		orchestrator.WithStatusSink(e.sink),
		orchestrator.WithCollectorOptions(observation.WithSettleDelay(0)),
	}
	return orchestrator.New(&orchestrator.Local{Controller: e.ctrl, Shares: e.shares}, e.host, e.kv, e.cache, append(base, opts...)...)
}

func (e *env) pointer(t *testing.T) domain.SessionPointer {
	t.Helper()
	data, err := e.kv.Get(context.Background(), orchestrator.PointerPrefix+"https://example.com/pricing")
	require.NoError(t, err)
	var ptr domain.SessionPointer
	require.NoError(t, json.Unmarshal(data, &ptr))
	return ptr
}

func TestOrchestrator_SubmitAppliesAndObserves(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.orch.Submit(ctx, "dark mode")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iteration)
	e.orch.Wait()

	assert.Contains(t, e.host.Page, "<p>dark mode</p>")
	assert.Equal(t, 1, e.host.Probes())

	stored, err := e.store.Load(ctx, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, stored.Rounds[0].Observation, "the observation reaches the backend")
	assert.Greater(t, stored.Rounds[0].Observation.VisualChangeScore, 0.0)

	ptr := e.pointer(t)
	assert.Equal(t, res.SessionID, ptr.SessionID)
	require.Len(t, ptr.History, 2)
	assert.Equal(t, domain.RoleUser, ptr.History[0].Role)
	assert.Equal(t, "dark mode", ptr.History[0].Content)
	assert.Equal(t, domain.RoleAssistant, ptr.History[1].Role)

	e.cache.Flush()
	snap, ok := e.cache.Restore(ctx, pageURL)
	require.True(t, ok)
	assert.Contains(t, snap.Markup, "<p>dark mode</p>")
}

func TestOrchestrator_FollowUpsShareTheSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	r1, err := e.orch.Submit(ctx, "one")
	require.NoError(t, err)
	r2, err := e.orch.Submit(ctx, "two")
	require.NoError(t, err)
	r3, err := e.orch.Submit(ctx, "three")
	require.NoError(t, err)
	e.orch.Wait()

	assert.Equal(t, r1.SessionID, r2.SessionID)
	assert.Equal(t, r1.SessionID, r3.SessionID)
	assert.Equal(t, []int{1, 2, 3}, []int{r1.Iteration, r2.Iteration, r3.Iteration})

	stored, err := e.store.Load(ctx, r1.SessionID)
	require.NoError(t, err)
	for _, r := range stored.Rounds {
		assert.NotNil(t, r.Observation, "round %d observed", r.Seq)
	}
	assert.Len(t, e.pointer(t).History, 6)
}

func TestOrchestrator_FailedRoundWritesNoHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.orch.Submit(ctx, "one")
	require.NoError(t, err)
	e.orch.Wait()
	applied := len(e.host.Applied())

	e.interp.Fail(errors.New("model overloaded"))
	res, err := e.orch.Submit(ctx, "two")
	require.ErrorIs(t, err, domain.ErrUpstreamError)
	require.NotNil(t, res)
	assert.Equal(t, domain.RoundErrored, res.Outcome)

	assert.Len(t, e.pointer(t).History, 2, "the failed round is not remembered")
	assert.Len(t, e.host.Applied(), applied, "the page is untouched")

	lines := e.sink.all()
	require.NotEmpty(t, lines)
	last := lines[len(lines)-1]
	assert.Equal(t, strings.ToLower(last), last)
	assert.Equal(t, domain.StatusMessage(domain.ErrUpstreamError), last)
}

func TestOrchestrator_HostUnresponsive(t *testing.T) {
	e := newEnv(t, orchestrator.WithHostTimeout(20*time.Millisecond))
	e.host.ApplyDelay = time.Second

	_, err := e.orch.Submit(context.Background(), "dark")
	assert.ErrorIs(t, err, domain.ErrHostUnresponsive)
}

func TestOrchestrator_HostErrorIsNotUnresponsive(t *testing.T) {
	e := newEnv(t)
	e.host.ApplyErr = errors.New("document is read-only")

	_, err := e.orch.Submit(context.Background(), "dark")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrHostUnresponsive)
	assert.ErrorContains(t, err, "read-only")
}

func TestOrchestrator_Resume(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.orch.Submit(ctx, "dark")
	require.NoError(t, err)
	e.orch.Wait()

	// A reload gives a fresh orchestrator over the same host storage.
	reloaded := e.newOrchestrator()
	ptr, err := reloaded.Resume(ctx)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	assert.Equal(t, res.SessionID, ptr.SessionID)

	id, err := reloaded.SessionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, id)

	r2, err := reloaded.Submit(ctx, "darker")
	require.NoError(t, err)
	assert.Equal(t, 2, r2.Iteration)
	reloaded.Wait()
}

func TestOrchestrator_ResumeDiscardsDeadSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.orch.Submit(ctx, "dark")
	require.NoError(t, err)
	e.orch.Wait()
	require.NoError(t, e.ctrl.Abandon(ctx, res.SessionID))

	ptr, err := e.newOrchestrator().Resume(ctx)
	require.NoError(t, err)
	assert.Nil(t, ptr)

	_, err = e.kv.Get(ctx, orchestrator.PointerPrefix+"https://example.com/pricing")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestOrchestrator_ResumeWithNothingStored(t *testing.T) {
	e := newEnv(t)
	ptr, err := e.orch.Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ptr)
}

func TestOrchestrator_RestartsWhenSessionIsGone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	r1, err := e.orch.Submit(ctx, "dark")
	require.NoError(t, err)
	e.orch.Wait()
	require.NoError(t, e.store.Delete(ctx, r1.SessionID))

	r2, err := e.orch.Submit(ctx, "darker")
	require.NoError(t, err)
	e.orch.Wait()
	assert.NotEqual(t, r1.SessionID, r2.SessionID)
	assert.Equal(t, 1, r2.Iteration)

	ptr := e.pointer(t)
	assert.Equal(t, r2.SessionID, ptr.SessionID)
	assert.Len(t, ptr.History, 2, "history of the lost session is dropped")
}

func TestOrchestrator_Reset(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.orch.Submit(ctx, "dark")
	require.NoError(t, err)
	e.orch.Wait()
	e.cache.Flush()

	require.NoError(t, e.orch.Reset(ctx))

	_, err = e.kv.Get(ctx, orchestrator.PointerPrefix+"https://example.com/pricing")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	_, ok := e.cache.Restore(ctx, pageURL)
	assert.False(t, ok)

	id, err := e.orch.SessionID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

type brokenDelete struct{ *memory.KV }

func (brokenDelete) Delete(context.Context, string) error { return errors.New("disk full") }

func TestOrchestrator_ResetReportsBothHalves(t *testing.T) {
	e := newEnv(t)
	kv := brokenDelete{memory.NewKV()}
	cache := pagecache.New(kv)
	defer cache.Close()
	o := orchestrator.New(&orchestrator.Local{Controller: e.ctrl, Shares: e.shares}, e.host, kv, cache)

	err := o.Reset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session pointer")
	assert.Contains(t, err.Error(), "snapshot")
}

func TestOrchestrator_RestoreSnapshot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ok, err := e.orch.RestoreSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.cache.Save(pageURL, "<html><body>cached</body></html>", "Pricing"))
	e.cache.Flush()

	ok, err = e.orch.RestoreSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<html><body>cached</body></html>", e.host.Page)
}

func TestOrchestrator_ShareRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.orch.Submit(ctx, "dark")
	require.NoError(t, err)
	e.orch.Wait()
	modified := e.host.Page

	res, err := e.orch.Share(ctx, "", "night", nil)
	require.NoError(t, err)

	e.host.Page = page
	rec, err := e.orch.ApplyShared(ctx, res.ShareID)
	require.NoError(t, err)
	assert.Equal(t, "Test page", rec.Title)
	assert.Equal(t, modified, e.host.Page)
}

func TestOrchestrator_ApplySharedDropsPendingObservation(t *testing.T) {
	e := newEnv(t)
	e.orch = e.newOrchestrator(orchestrator.WithCollectorOptions(observation.WithSettleDelay(300 * time.Millisecond)))
	ctx := context.Background()

	shared, err := e.shares.Create(ctx, domain.ShareRequest{URL: pageURL, HTML: "<html><body>shared</body></html>"})
	require.NoError(t, err)

	res, err := e.orch.Submit(ctx, "dark")
	require.NoError(t, err)
	_, err = e.orch.ApplyShared(ctx, shared.ShareID)
	require.NoError(t, err)
	e.orch.Wait()

	assert.Equal(t, "<html><body>shared</body></html>", e.host.Page)
	stored, err := e.store.Load(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Nil(t, stored.Rounds[0].Observation, "the round no longer describes the page")
}

func TestOrchestrator_RestoreDropsPendingObservation(t *testing.T) {
	e := newEnv(t)
	e.orch = e.newOrchestrator(orchestrator.WithCollectorOptions(observation.WithSettleDelay(300 * time.Millisecond)))
	ctx := context.Background()

	res, err := e.orch.Submit(ctx, "dark")
	require.NoError(t, err)
	require.NoError(t, e.cache.Save(pageURL, "<html><body>cached</body></html>", "Pricing"))
	e.cache.Flush()

	ok, err := e.orch.RestoreSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	e.orch.Wait()

	stored, err := e.store.Load(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Nil(t, stored.Rounds[0].Observation)
}

func TestOrchestrator_ApplySharedRejectsOtherPage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.shares.Create(ctx, domain.ShareRequest{URL: "https://example.com/about", HTML: "<p>about</p>"})
	require.NoError(t, err)
	applied := len(e.host.Applied())

	_, err = e.orch.ApplyShared(ctx, res.ShareID)
	assert.ErrorIs(t, err, domain.ErrPageMismatch)
	assert.Len(t, e.host.Applied(), applied, "nothing is applied")
	assert.Equal(t, page, e.host.Page)
}

func TestOrchestrator_ApplySharedExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	zero := 0

	res, err := e.shares.Create(ctx, domain.ShareRequest{URL: pageURL, HTML: "<p>x</p>", ExpiresInDays: &zero})
	require.NoError(t, err)

	_, err = e.orch.ApplyShared(ctx, res.ShareID)
	assert.ErrorIs(t, err, domain.ErrRecordExpired)
	lines := e.sink.all()
	assert.Equal(t, domain.StatusMessage(domain.ErrRecordExpired), lines[len(lines)-1])
}

func TestOrchestrator_SlotsArePerPage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	r1, err := e.orch.Submit(ctx, "dark")
	require.NoError(t, err)
	e.orch.Wait()

	e.host.Navigate("https://example.com/about")
	r2, err := e.orch.Submit(ctx, "dark")
	require.NoError(t, err)
	e.orch.Wait()
	assert.NotEqual(t, r1.SessionID, r2.SessionID)

	e.host.Navigate("https://example.com/pricing#plans")
	r3, err := e.orch.Submit(ctx, "darker")
	require.NoError(t, err)
	e.orch.Wait()
	assert.Equal(t, r1.SessionID, r3.SessionID)
	assert.Equal(t, 2, r3.Iteration)
}
