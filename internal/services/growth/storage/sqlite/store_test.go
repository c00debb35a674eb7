package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/storage"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	var (
		mu  sync.Mutex
		seq int
	)
	ids := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%03d", seq), nil
	}
	base := []Option{WithIDGenerator(ids), WithClock(func() time.Time { return testNow })}
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "growth.db"), append(base, opts...)...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func bootstrapUser(t *testing.T, store *Store, userID string) growth.State {
	t.Helper()
	state := growth.SeedState(userID, testNow)
	created, err := store.BootstrapAccount(context.Background(), action.DefaultProfile(userID, testNow), state)
	if err != nil {
		t.Fatalf("bootstrap %s: %v", userID, err)
	}
	if !created {
		t.Fatalf("expected bootstrap to create %s", userID)
	}
	return state
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenIsIdempotentAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growth.db")
	first, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if err := second.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestNilStoreIsNotConfigured(t *testing.T) {
	var store *Store
	if _, err := store.GetGrowthState(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error from nil store")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
}

func TestGetGrowthStateMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetGrowthState(context.Background(), "nobody")
	if !errors.Is(err, growth.ErrStateNotFound) {
		t.Fatalf("expected growth.ErrStateNotFound, got %v", err)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected storage.ErrNotFound, got %v", err)
	}
}

func TestBootstrapAccountCreatesSeedOnce(t *testing.T) {
	store := openTestStore(t)
	bootstrapUser(t, store, "user-1")

	state, err := store.GetGrowthState(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Mass != growth.SeedMass || state.Structure != growth.SeedStructure || state.Vitality != growth.SeedVitality {
		t.Fatalf("unexpected seed state: %+v", state)
	}
	if state.Version != 1 || !state.LastUpdatedAt.Equal(testNow) {
		t.Fatalf("unexpected seed bookkeeping: %+v", state)
	}

	profile, err := store.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.Timezone != "UTC" || profile.HasCompletedOnboarding {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	changed := growth.SeedState("user-1", testNow.Add(time.Hour))
	changed.Mass = 9
	created, err := store.BootstrapAccount(context.Background(), action.DefaultProfile("user-1", testNow), changed)
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if created {
		t.Fatal("expected second bootstrap to be a no-op")
	}
	again, err := store.GetGrowthState(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if again.Mass != growth.SeedMass {
		t.Fatalf("bootstrap overwrote state: %+v", again)
	}
}

func TestBootstrapAccountRejectsMismatchedUser(t *testing.T) {
	store := openTestStore(t)
	_, err := store.BootstrapAccount(context.Background(), action.DefaultProfile("a", testNow), growth.SeedState("b", testNow))
	if err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestGetProfileMissing(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetProfile(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSwapGrowthState(t *testing.T) {
	store := openTestStore(t)
	seed := bootstrapUser(t, store, "user-1")
	occurred := testNow.Add(time.Minute)
	next := growth.NextForTask(growth.DefaultLimits, seed, growth.DepthDeep, occurred)

	if err := store.SwapGrowthState(context.Background(), seed.Version, next, "evt-1"); err != nil {
		t.Fatalf("swap: %v", err)
	}
	got, err := store.GetGrowthState(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got.Version != 2 || got.Mass != next.Mass || got.Structure != next.Structure || got.Vitality != next.Vitality {
		t.Fatalf("unexpected state after swap: %+v", got)
	}
	if !got.LastUpdatedAt.Equal(occurred) {
		t.Fatalf("expected last updated %v, got %v", occurred, got.LastUpdatedAt)
	}
}

func TestSwapGrowthStateSameEventTwice(t *testing.T) {
	store := openTestStore(t)
	seed := bootstrapUser(t, store, "user-1")
	next := growth.NextForReflection(growth.DefaultLimits, seed, testNow)

	if err := store.SwapGrowthState(context.Background(), seed.Version, next, "evt-1"); err != nil {
		t.Fatalf("swap: %v", err)
	}
	following := growth.NextForReflection(growth.DefaultLimits, next, testNow)
	err := store.SwapGrowthState(context.Background(), next.Version, following, "evt-1")
	if !errors.Is(err, storage.ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	got, err := store.GetGrowthState(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got.Version != next.Version {
		t.Fatalf("expected version %d, got %d", next.Version, got.Version)
	}
}

func TestSwapGrowthStateStaleVersionRollsBackCheckpoint(t *testing.T) {
	store := openTestStore(t)
	seed := bootstrapUser(t, store, "user-1")
	next := growth.NextForReflection(growth.DefaultLimits, seed, testNow)
	if err := store.SwapGrowthState(context.Background(), seed.Version, next, "evt-1"); err != nil {
		t.Fatalf("swap: %v", err)
	}

	stale := growth.NextForReflection(growth.DefaultLimits, seed, testNow)
	err := store.SwapGrowthState(context.Background(), seed.Version, stale, "evt-2")
	if !errors.Is(err, storage.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}

	// The failed swap must not leave evt-2 marked as applied.
	fresh := growth.NextForReflection(growth.DefaultLimits, next, testNow)
	if err := store.SwapGrowthState(context.Background(), next.Version, fresh, "evt-2"); err != nil {
		t.Fatalf("retry swap: %v", err)
	}
}

func TestSwapGrowthStateMissingUser(t *testing.T) {
	store := openTestStore(t)
	next := growth.NextForReflection(growth.DefaultLimits, growth.SeedState("ghost", testNow), testNow)
	err := store.SwapGrowthState(context.Background(), 1, next, "evt-1")
	if !errors.Is(err, growth.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestSwapGrowthStateValidatesVersion(t *testing.T) {
	store := openTestStore(t)
	seed := bootstrapUser(t, store, "user-1")
	next := seed
	next.Version = seed.Version + 2
	if err := store.SwapGrowthState(context.Background(), seed.Version, next, "evt-1"); err == nil {
		t.Fatal("expected version gap error")
	}
	if err := store.SwapGrowthState(context.Background(), seed.Version, growth.NextForReflection(growth.DefaultLimits, seed, testNow), " "); err == nil {
		t.Fatal("expected event id error")
	}
}

func TestInterpreterOverStoreConcurrentEvents(t *testing.T) {
	store := openTestStore(t)
	bootstrapUser(t, store, "user-1")
	interpreter := growth.NewInterpreter(store, growth.WithMaxRetries(64))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := interpreter.ApplyReflection(context.Background(), growth.Reflection{
				UserID:     "user-1",
				OccurredAt: testNow,
				EventID:    fmt.Sprintf("evt-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("apply reflection: %v", err)
		}
	}

	got, err := store.GetGrowthState(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got.Version != 1+workers {
		t.Fatalf("expected version %d, got %d", 1+workers, got.Version)
	}
	if got.Vitality != growth.DefaultLimits.Vitality.Max {
		t.Fatalf("expected vitality clamped to max, got %v", got.Vitality)
	}
}
