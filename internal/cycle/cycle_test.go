package cycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchwatch/engine/internal/state"
	"github.com/launchwatch/engine/internal/store"
)

const network = 8453

var (
	deployer = "0x" + "dead" + strings.Repeat("0", 32) + "beef"
	tokenA   = "0x" + strings.Repeat("a", 36) + "1111"
	tokenB   = "0x" + strings.Repeat("b", 36) + "2222"
	tokenC   = "0x" + strings.Repeat("c", 36) + "3333"
	tokenD   = "0x" + strings.Repeat("d", 36) + "4444"
)

type staticFetcher struct {
	mu    sync.Mutex
	batch []store.Item
	calls int
}

func (f *staticFetcher) set(items ...store.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batch = items
}

func (f *staticFetcher) FetchCandidates(context.Context, int) []store.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]store.Item(nil), f.batch...)
}

type recordingObserver struct{ results []Result }

func (r *recordingObserver) ObserveCycle(res Result) { r.results = append(r.results, res) }

type harness struct {
	fetcher  *staticFetcher
	backend  *state.MemoryBackend
	registry *state.Registry
	orch     *Orchestrator
}

func newHarness(t *testing.T, seenMax int) *harness {
	t.Helper()
	backend := state.NewMemoryBackend()
	reg, err := state.OpenRegistry(context.Background(), backend, store.WatchList{})
	require.NoError(t, err)
	fetcher := &staticFetcher{}
	return &harness{
		fetcher:  fetcher,
		backend:  backend,
		registry: reg,
		orch:     NewOrchestrator(fetcher, backend, reg, Options{NetworkScope: network, SeenMaxSize: seenMax}),
	}
}

func launch(id, primary string) store.Item {
	return store.Item{ItemID: id, NetworkScope: network, Primary: store.Actor{Address: primary}}
}

func globalTenant(filter store.FilterConfig) store.Tenant {
	return store.Tenant{ID: state.GlobalScope, Filter: filter}
}

func seenKeys(t *testing.T, h *harness, scope string) []string {
	t.Helper()
	s, err := state.LoadSeenSet(context.Background(), h.backend, scope)
	require.NoError(t, err)
	return s.Keys()
}

func TestFreshItemIsDeliveredAndMarkedSeen(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.set(launch(tokenA, deployer))

	res, err := h.orch.Run(context.Background(), globalTenant(store.FilterConfig{}))
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	got := res.Items[0]
	assert.True(t, got.Delivered)
	assert.True(t, got.PassesGeneralFilter)
	assert.False(t, got.WatchMatch)
	assert.Equal(t, []string{"8453:" + tokenA}, seenKeys(t, h, state.GlobalScope))
	assert.NotEmpty(t, res.CycleID)
	assert.False(t, res.Degraded)
}

func TestRerunYieldsDuplicate(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.set(launch(tokenA, deployer))
	tenant := globalTenant(store.FilterConfig{})

	_, err := h.orch.Run(context.Background(), tenant)
	require.NoError(t, err)
	res, err := h.orch.Run(context.Background(), tenant)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Duplicates)
	assert.Empty(t, res.Items)
	assert.Len(t, seenKeys(t, h, state.GlobalScope), 1)
}

func TestMixedCaseIdentityCollapses(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.set(launch(strings.ToUpper(tokenA), deployer), launch(tokenA, deployer))

	res, err := h.orch.Run(context.Background(), globalTenant(store.FilterConfig{}))
	require.NoError(t, err)

	assert.Len(t, res.Items, 1)
	assert.Equal(t, 1, res.Duplicates)
}

func TestWatchedAddressBypassesSharedIdentity(t *testing.T) {
	h := newHarness(t, 0)
	ok, err := h.registry.Add(context.Background(), state.GlobalScope, store.AxisAddress, deployer)
	require.NoError(t, err)
	require.True(t, ok)
	h.fetcher.set(launch(tokenB, deployer))

	res, err := h.orch.Run(context.Background(), globalTenant(store.FilterConfig{RequireSharedIdentity: true}))
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	assert.True(t, res.Items[0].Delivered)
	assert.True(t, res.Items[0].WatchMatch)
	assert.False(t, res.Items[0].PassesGeneralFilter)
	assert.Equal(t, 1, res.WatchCount())
	assert.Equal(t, 0, res.GeneralCount())
}

func TestMaxItemsPerActorSuppressesButStillAttributes(t *testing.T) {
	h := newHarness(t, 0)
	limit := 1
	tenant := globalTenant(store.FilterConfig{MaxItemsPerActor: &limit})
	ctx := context.Background()

	h.fetcher.set(launch(tokenA, deployer))
	first, err := h.orch.Run(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.True(t, first.Items[0].Delivered)

	h.fetcher.set(launch(tokenB, strings.ToUpper(deployer)))
	second, err := h.orch.Run(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.False(t, second.Items[0].Delivered)
	assert.False(t, second.Items[0].PassesGeneralFilter)
	assert.Equal(t, 1, second.Suppressed)

	count, err := h.orch.DeployCount(ctx, state.GlobalScope, deployer)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Suppressed items are still marked seen.
	assert.Len(t, seenKeys(t, h, state.GlobalScope), 2)
}

func TestAttributionCoversWholeBatchBeforeFiltering(t *testing.T) {
	h := newHarness(t, 0)
	limit := 1
	h.fetcher.set(launch(tokenA, deployer), launch(tokenB, deployer))

	res, err := h.orch.Run(context.Background(), globalTenant(store.FilterConfig{MaxItemsPerActor: &limit}))
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	for _, a := range res.Items {
		assert.False(t, a.PassesGeneralFilter, "%s should see the batch count of 2", a.Item.ItemID)
	}
}

func TestSeenSetEvictsOldestOnPersist(t *testing.T) {
	h := newHarness(t, 2)
	h.fetcher.set(launch(tokenA, ""), launch(tokenB, ""), launch(tokenC, ""))

	_, err := h.orch.Run(context.Background(), globalTenant(store.FilterConfig{}))
	require.NoError(t, err)

	assert.Equal(t, []string{"8453:" + tokenB, "8453:" + tokenC}, seenKeys(t, h, state.GlobalScope))
}

func TestKeywordMatchIsCaseInsensitive(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.registry.Add(context.Background(), "guild", store.AxisKeyword, "MoonCoin")
	require.NoError(t, err)

	item := launch(tokenA, "")
	item.FreeText = "supermooncoin ($SMC)"
	h.fetcher.set(item)

	res, err := h.orch.Run(context.Background(), store.Tenant{ID: "guild", Filter: store.FilterConfig{RequireSharedIdentity: true}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.True(t, res.Items[0].WatchMatch)
	assert.Equal(t, []string{"keyword:mooncoin"}, res.Items[0].Reasons)
}

func TestScopesAreIsolated(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.set(launch(tokenA, deployer))
	ctx := context.Background()

	_, err := h.orch.Run(ctx, store.Tenant{ID: "guild-1"})
	require.NoError(t, err)
	res, err := h.orch.Run(ctx, store.Tenant{ID: "guild-2"})
	require.NoError(t, err)

	assert.Len(t, res.Items, 1, "guild-2 has its own seen-set")
	assert.Equal(t, 0, res.Duplicates)
}

func TestEmptyFetchEndsCycleWithoutWrites(t *testing.T) {
	h := newHarness(t, 0)
	obs := &recordingObserver{}
	h.orch.AddObserver(obs)

	res, err := h.orch.Run(context.Background(), globalTenant(store.FilterConfig{}))
	require.NoError(t, err)
	assert.Zero(t, res.Fetched)
	assert.Empty(t, res.Items)

	data, err := h.backend.Load(context.Background(), "seen/"+state.GlobalScope)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.Len(t, obs.results, 1)
	assert.Equal(t, res.CycleID, obs.results[0].CycleID)
}

func TestLoadFailureDegradesToEmptyState(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.set(launch(tokenA, deployer))
	tenant := globalTenant(store.FilterConfig{})
	_, err := h.orch.Run(context.Background(), tenant)
	require.NoError(t, err)

	h.backend.FailLoad = errors.New("disk unavailable")
	res, err := h.orch.Run(context.Background(), tenant)
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	require.Len(t, res.Items, 1, "with no readable state the item is treated as new")
	assert.True(t, res.Items[0].Delivered)
}

func TestDegradedCycleKeepsStoredHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	tenant := globalTenant(store.FilterConfig{})
	h.fetcher.set(launch(tokenA, deployer), launch(tokenB, deployer), launch(tokenC, deployer))
	_, err := h.orch.Run(ctx, tenant)
	require.NoError(t, err)

	h.backend.FailLoad = errors.New("disk unavailable")
	h.fetcher.set(launch(tokenD, deployer))
	res, err := h.orch.Run(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	h.backend.FailLoad = nil

	assert.Equal(t, []string{
		store.SeenKey(network, tokenA),
		store.SeenKey(network, tokenB),
		store.SeenKey(network, tokenC),
	}, seenKeys(t, h, state.GlobalScope))
	count, err := h.orch.DeployCount(ctx, state.GlobalScope, deployer)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

// flakyBackend fails the first n loads of each listed key.
type flakyBackend struct {
	*state.MemoryBackend
	mu       sync.Mutex
	failures map[string]int
}

func (f *flakyBackend) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	if f.failures[key] > 0 {
		f.failures[key]--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.MemoryBackend.Load(ctx, key)
}

func TestTransientLoadFailureMergesIntoStoredState(t *testing.T) {
	ctx := context.Background()
	mem := state.NewMemoryBackend()
	backend := &flakyBackend{MemoryBackend: mem, failures: map[string]int{}}
	reg, err := state.OpenRegistry(ctx, backend, store.WatchList{})
	require.NoError(t, err)
	fetcher := &staticFetcher{}
	orch := NewOrchestrator(fetcher, backend, reg, Options{NetworkScope: network})
	tenant := globalTenant(store.FilterConfig{})

	fetcher.set(launch(tokenA, deployer), launch(tokenB, deployer), launch(tokenC, deployer))
	_, err = orch.Run(ctx, tenant)
	require.NoError(t, err)

	backend.mu.Lock()
	backend.failures["seen/"+state.GlobalScope] = 1
	backend.failures["deploys/"+state.GlobalScope] = 1
	backend.mu.Unlock()

	fetcher.set(launch(tokenD, deployer))
	res, err := orch.Run(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, res.Degraded)

	seen, err := state.LoadSeenSet(ctx, mem, state.GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, 4, seen.Len())
	assert.True(t, seen.Contains(store.SeenKey(network, tokenA)))
	assert.True(t, seen.Contains(store.SeenKey(network, tokenD)))

	count, err := orch.DeployCount(ctx, state.GlobalScope, deployer)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestCorruptStateIsReplaced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	require.NoError(t, h.backend.Save(ctx, "seen/"+state.GlobalScope, []byte("{broken")))
	h.fetcher.set(launch(tokenA, deployer))

	res, err := h.orch.Run(ctx, globalTenant(store.FilterConfig{}))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{store.SeenKey(network, tokenA)}, seenKeys(t, h, state.GlobalScope))
}

func TestSaveFailureStillReturnsResult(t *testing.T) {
	h := newHarness(t, 0)
	h.backend.FailSave = errors.New("read-only")
	h.fetcher.set(launch(tokenA, deployer))

	res, err := h.orch.Run(context.Background(), globalTenant(store.FilterConfig{}))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Items, 1)
	assert.True(t, res.Items[0].Delivered)
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) FetchCandidates(ctx context.Context, _ int) []store.Item {
	close(b.started)
	<-b.release
	return nil
}

func TestConcurrentRunForSameScopeIsRejected(t *testing.T) {
	backend := state.NewMemoryBackend()
	reg, err := state.OpenRegistry(context.Background(), backend, store.WatchList{})
	require.NoError(t, err)
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	orch := NewOrchestrator(fetcher, backend, reg, Options{NetworkScope: network})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = orch.Run(context.Background(), store.Tenant{ID: "guild"})
	}()

	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never started")
	}
	assert.Equal(t, PhaseFetching, orch.Phase("guild"))

	_, err = orch.Run(context.Background(), store.Tenant{ID: "guild"})
	assert.ErrorIs(t, err, ErrInFlight)

	close(fetcher.release)
	<-done
	assert.Equal(t, PhaseIdle, orch.Phase("guild"))
}
