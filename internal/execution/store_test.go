package execution

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/swapexec/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "swaps.db"), filepath.Join(dir, "swaps.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveGetList(t *testing.T) {
	store := openTestStore(t)

	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH", SwapperID: "uniswap"})
	if err := swap.SetTransaction(1, evmTx(true)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}
	if err := store.Save(*swap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(swap.RequestID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RequestID != swap.RequestID || got.Steps[0].SwapperID != "uniswap" {
		t.Fatalf("unexpected swap: %+v", got)
	}
	if got.Steps[0].ApprovalTransaction.Kind() != "EVM" || !got.Steps[0].Transaction.Empty() {
		t.Fatal("expected transaction slots to survive a round trip")
	}

	got.Status = SwapStatusSuccess
	if err := store.Save(got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	done, err := store.List(string(SwapStatusSuccess), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(done) != 1 {
		t.Fatalf("expected one finished swap, got %d", len(done))
	}
	running, err := store.List(string(SwapStatusRunning), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(running) != 0 {
		t.Fatalf("expected no running swaps, got %d", len(running))
	}
}

func TestStoreActiveSkipsPausedAndFinished(t *testing.T) {
	store := openTestStore(t)

	for _, tc := range []struct {
		id     string
		paused bool
		status SwapStatus
	}{
		{id: "a", status: SwapStatusRunning},
		{id: "b", paused: true, status: SwapStatusRunning},
		{id: "c", status: SwapStatusFailed},
	} {
		swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH"})
		swap.RequestID = tc.id
		swap.IsPaused = tc.paused
		swap.Status = tc.status
		if err := store.Save(*swap); err != nil {
			t.Fatalf("Save(%s) failed: %v", tc.id, err)
		}
	}

	active, err := store.Active(0)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if len(active) != 1 || active[0].RequestID != "a" {
		t.Fatalf("expected only swap a, got %+v", active)
	}
}

func TestStoreGetMissingSwap(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("missing")
	if !clierr.Is(err, clierr.CodeNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestStoreDeleteRefusesRunningSwap(t *testing.T) {
	store := openTestStore(t)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH"})
	if err := store.Save(*swap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(swap.RequestID); !IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	swap.Status = SwapStatusFailed
	if err := store.Save(*swap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(swap.RequestID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(swap.RequestID); !clierr.Is(err, clierr.CodeNotFound) {
		t.Fatalf("expected deleted swap to be gone, got %v", err)
	}
}

func TestStoreLockSwapIsExclusive(t *testing.T) {
	store := openTestStore(t)
	unlock, err := store.LockSwap(context.Background(), "req/1", time.Second)
	if err != nil {
		t.Fatalf("LockSwap failed: %v", err)
	}
	if _, err := store.LockSwap(context.Background(), "req/1", 200*time.Millisecond); !clierr.Is(err, clierr.CodeBusy) {
		t.Fatalf("expected busy error while locked, got %v", err)
	}
	unlock()
	again, err := store.LockSwap(context.Background(), "req/1", time.Second)
	if err != nil {
		t.Fatalf("LockSwap after unlock failed: %v", err)
	}
	again()
}

func TestStoreLockSwapKeepsSimilarIDsApart(t *testing.T) {
	store := openTestStore(t)
	unlock, err := store.LockSwap(context.Background(), "a/b", time.Second)
	if err != nil {
		t.Fatalf("LockSwap failed: %v", err)
	}
	defer unlock()
	other, err := store.LockSwap(context.Background(), "a_b", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("expected a_b to lock independently of a/b, got %v", err)
	}
	other()
}

func TestOpenStoreConcurrently(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "swaps.db")
	lockPath := filepath.Join(dir, "swaps.lock")

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			store, err := OpenStore(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()
			swap := PendingSwap{RequestID: fmt.Sprintf("req-%d", workerID), Status: SwapStatusRunning}
			if err := store.Save(swap); err != nil {
				errCh <- fmt.Errorf("worker %d save: %w", workerID, err)
				return
			}
			if _, err := store.Get(swap.RequestID); err != nil {
				errCh <- fmt.Errorf("worker %d get: %w", workerID, err)
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
