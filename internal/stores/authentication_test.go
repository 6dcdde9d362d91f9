package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newAuthStoreTest(t *testing.T) (*AuthenticationStore, *redis.Client) {
	t.Helper()
	_, rdb := newTestRedis(t)
	return NewAuthenticationStore(rdb, "ga", 24*time.Hour, 15*time.Minute), rdb
}

// seedSession writes a minimal session hash the end script can act on.
func seedSession(t *testing.T, rdb *redis.Client, key, state string) {
	t.Helper()
	if err := rdb.HSet(context.Background(), key, "state", state, "user_id", "u1").Err(); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestCreateOrRenewReusesLiveRecord(t *testing.T) {
	store, _ := newAuthStoreTest(t)
	ctx := context.Background()

	first, err := store.CreateOrRenew(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateOrRenew: %v", err)
	}
	if first.Status != StatusCreated || first.SessionID != "s1" {
		t.Fatalf("unexpected record: %+v", first)
	}
	second, err := store.CreateOrRenew(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateOrRenew again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected reuse of %s, got %s", first.ID, second.ID)
	}

	if err := store.Activate(ctx, first.ID, "a1", "r1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	third, err := store.CreateOrRenew(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateOrRenew after activation: %v", err)
	}
	if third.ID != first.ID || third.Status != StatusActivated {
		t.Fatalf("activated record should be returned unchanged: %+v", third)
	}
}

func TestCreateOrRenewConcurrentConverges(t *testing.T) {
	store, _ := newAuthStoreTest(t)
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			auth, err := store.CreateOrRenew(ctx, "s-race")
			if err != nil {
				t.Errorf("CreateOrRenew: %v", err)
				return
			}
			ids[i] = auth.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent upserts diverged: %s vs %s", ids[0], ids[i])
		}
	}
}

func TestCreateOrRenewAfterTerminalStartsFresh(t *testing.T) {
	store, rdb := newAuthStoreTest(t)
	ctx := context.Background()
	seedSession(t, rdb, "gs:s1", "Active")

	first, _ := store.CreateOrRenew(ctx, "s1")
	if err := store.Activate(ctx, first.ID, "a1", "r1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := store.End(ctx, EndStrict, "gs:s1", "s1", StatusLoggedOut); err != nil {
		t.Fatalf("End: %v", err)
	}

	fresh, err := store.CreateOrRenew(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateOrRenew: %v", err)
	}
	if fresh.ID == first.ID || fresh.Status != StatusCreated {
		t.Fatalf("expected a new Created record, got %+v", fresh)
	}
	old, _ := store.Get(ctx, first.ID)
	if old == nil || old.Status != StatusLoggedOut {
		t.Fatalf("ended record must stay terminal: %+v", old)
	}
}

func TestActivateIndexesAccessToken(t *testing.T) {
	store, _ := newAuthStoreTest(t)
	ctx := context.Background()

	auth, _ := store.CreateOrRenew(ctx, "s1")
	if err := store.Activate(ctx, auth.ID, "access-1", "refresh-1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	got, err := store.GetByAccessToken(ctx, "access-1")
	if err != nil || got == nil || got.ID != auth.ID {
		t.Fatalf("GetByAccessToken = %+v, %v", got, err)
	}

	// Re-activation replaces the pair and retires the old access token.
	if err := store.Activate(ctx, auth.ID, "access-2", "refresh-2"); err != nil {
		t.Fatalf("Activate again: %v", err)
	}
	if got, _ := store.GetByAccessToken(ctx, "access-1"); got != nil {
		t.Fatalf("old access token still resolves")
	}
	if got, _ := store.GetByAccessToken(ctx, "access-2"); got == nil {
		t.Fatalf("new access token does not resolve")
	}
}

func TestActivateRejectsMissingAndTerminal(t *testing.T) {
	store, rdb := newAuthStoreTest(t)
	ctx := context.Background()

	if err := store.Activate(ctx, "missing", "a", "r"); !errors.Is(err, ErrAuthNotFound) {
		t.Fatalf("expected ErrAuthNotFound, got %v", err)
	}

	seedSession(t, rdb, "gs:s1", "Active")
	auth, _ := store.CreateOrRenew(ctx, "s1")
	if err := store.End(ctx, EndSweep, "gs:s1", "s1", StatusSessionClosed); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := store.Activate(ctx, auth.ID, "a", "r"); !errors.Is(err, ErrAuthTerminal) {
		t.Fatalf("expected ErrAuthTerminal, got %v", err)
	}
}

func TestRotateRefreshSingleWinner(t *testing.T) {
	store, _ := newAuthStoreTest(t)
	ctx := context.Background()

	auth, _ := store.CreateOrRenew(ctx, "s1")
	if err := store.Activate(ctx, auth.ID, "a0", "r0"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			suffix := string(rune('a' + i))
			_, err := store.RotateRefresh(ctx, "s1", "r0", "a-"+suffix, "r-"+suffix)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrRefreshMismatch) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if _, err := store.RotateRefresh(ctx, "s1", "r0", "x", "y"); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("old refresh token must be dead, got %v", err)
	}
}

func TestRotateRefreshRequiresActivated(t *testing.T) {
	store, _ := newAuthStoreTest(t)
	ctx := context.Background()

	if _, err := store.RotateRefresh(ctx, "nope", "r", "a", "r2"); !errors.Is(err, ErrAuthNotFound) {
		t.Fatalf("expected ErrAuthNotFound, got %v", err)
	}
	if _, err := store.CreateOrRenew(ctx, "s1"); err != nil {
		t.Fatalf("CreateOrRenew: %v", err)
	}
	if _, err := store.RotateRefresh(ctx, "s1", "", "a", "r2"); !errors.Is(err, ErrAuthNotActivated) {
		t.Fatalf("expected ErrAuthNotActivated, got %v", err)
	}
}

func TestEndStrictNeedsActivatedAuthentication(t *testing.T) {
	store, rdb := newAuthStoreTest(t)
	ctx := context.Background()
	seedSession(t, rdb, "gs:s1", "Active")

	if _, err := store.CreateOrRenew(ctx, "s1"); err != nil {
		t.Fatalf("CreateOrRenew: %v", err)
	}
	if err := store.End(ctx, EndStrict, "gs:s1", "s1", StatusLoggedOut); !errors.Is(err, ErrAuthNotActivated) {
		t.Fatalf("expected ErrAuthNotActivated, got %v", err)
	}
	state, _ := rdb.HGet(ctx, "gs:s1", "state").Result()
	if state != "Active" {
		t.Fatalf("session must be untouched, state=%q", state)
	}
}

func TestEndClosesSessionAndAuthenticationTogether(t *testing.T) {
	store, rdb := newAuthStoreTest(t)
	ctx := context.Background()
	seedSession(t, rdb, "gs:s1", "Active")

	auth, _ := store.CreateOrRenew(ctx, "s1")
	if err := store.Activate(ctx, auth.ID, "a1", "r1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := store.End(ctx, EndStrict, "gs:s1", "s1", StatusLoggedOut); err != nil {
		t.Fatalf("End: %v", err)
	}

	fields, _ := rdb.HGetAll(ctx, "gs:s1").Result()
	if fields["state"] != "Inactive" || fields["end"] == "" {
		t.Fatalf("session not closed: %v", fields)
	}
	got, _ := store.Get(ctx, auth.ID)
	if got.Status != StatusLoggedOut || got.AccessToken != "" || got.RefreshToken != "" {
		t.Fatalf("authentication not ended: %+v", got)
	}
	if byToken, _ := store.GetByAccessToken(ctx, "a1"); byToken != nil {
		t.Fatalf("ended access token still resolves")
	}
}

func TestEndSweepSkipsInactiveSession(t *testing.T) {
	store, rdb := newAuthStoreTest(t)
	ctx := context.Background()
	seedSession(t, rdb, "gs:s1", "Inactive")

	if err := store.End(ctx, EndSweep, "gs:s1", "s1", StatusSessionClosed); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if err := store.End(ctx, EndSweep, "gs:none", "none", StatusSessionClosed); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAuthenticationBackendFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewAuthenticationStore(rdb, "ga", time.Hour, time.Minute)
	mr.Close()

	if _, err := store.CreateOrRenew(context.Background(), "s1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestFailPendingOnlyEndsCreatedRecords(t *testing.T) {
	store, _ := newAuthStoreTest(t)
	ctx := context.Background()

	if changed, err := store.FailPending(ctx, "none"); err != nil || changed {
		t.Fatalf("missing session: changed=%v err=%v", changed, err)
	}

	pending, err := store.CreateOrRenew(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateOrRenew: %v", err)
	}
	changed, err := store.FailPending(ctx, "s1")
	if err != nil || !changed {
		t.Fatalf("pending record must fail: changed=%v err=%v", changed, err)
	}
	got, err := store.Get(ctx, pending.ID)
	if err != nil || got.Status != StatusExpiredWithFailure {
		t.Fatalf("expected status %d, got %+v err=%v", StatusExpiredWithFailure, got, err)
	}

	fresh, err := store.CreateOrRenew(ctx, "s1")
	if err != nil || fresh.ID == pending.ID || fresh.Status != StatusCreated {
		t.Fatalf("a failed record must be replaced, got %+v err=%v", fresh, err)
	}
	if err := store.Activate(ctx, fresh.ID, "a1", "r1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if changed, err := store.FailPending(ctx, "s1"); err != nil || changed {
		t.Fatalf("activated record must stay: changed=%v err=%v", changed, err)
	}
}
