package execution

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/swapexec/internal/errors"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store persists pending swaps as JSON payloads keyed by request id.
type Store struct {
	db      *sql.DB
	lock    *flock.Flock
	lockDir string
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create swap store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create swap lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open swap sqlite: %w", err)
	}

	lock := flock.New(lockPath)
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if locked, err := lock.TryLockContext(initCtx, 50*time.Millisecond); err != nil || !locked {
		_ = db.Close()
		return nil, fmt.Errorf("lock swap store for init: %w", errors.Join(err, errors.New("lock not acquired")))
	}
	defer func() { _ = lock.Unlock() }()

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS pending_swaps (
			request_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			paused INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_pending_swaps_status_updated ON pending_swaps(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init swap schema: %w", err)
		}
	}
	return &Store{db: db, lock: lock, lockDir: filepath.Dir(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(swap PendingSwap) error {
	if strings.TrimSpace(swap.RequestID) == "" {
		return fmt.Errorf("save swap: missing request id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock swap store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock swap store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(swap)
	if err != nil {
		return fmt.Errorf("marshal swap: %w", err)
	}
	now := time.Now().UTC().Unix()
	createdUnix, ok := parseRFC3339Unix(swap.CreationTime)
	if !ok {
		createdUnix = now
	}
	paused := 0
	if swap.IsPaused {
		paused = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO pending_swaps (request_id, status, paused, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status=excluded.status,
			paused=excluded.paused,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, swap.RequestID, string(swap.Status), paused, createdUnix, now, payload)
	if err != nil {
		return fmt.Errorf("save swap: %w", err)
	}
	return nil
}

func (s *Store) Get(requestID string) (PendingSwap, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM pending_swaps WHERE request_id = ?", requestID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingSwap{}, clierr.New(clierr.CodeNotFound, fmt.Sprintf("swap not found: %s", requestID))
		}
		return PendingSwap{}, fmt.Errorf("read swap: %w", err)
	}
	var swap PendingSwap
	if err := json.Unmarshal(payload, &swap); err != nil {
		return PendingSwap{}, fmt.Errorf("decode swap payload: %w", err)
	}
	return swap, nil
}

// List returns swaps ordered by last update, newest first.
func (s *Store) List(status string, limit int) ([]PendingSwap, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.Query("SELECT payload FROM pending_swaps ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payload FROM pending_swaps WHERE status = ? ORDER BY updated_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list swaps: %w", err)
	}
	defer rows.Close()

	swaps := make([]PendingSwap, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}
		var swap PendingSwap
		if err := json.Unmarshal(payload, &swap); err != nil {
			return nil, fmt.Errorf("decode swap row: %w", err)
		}
		swaps = append(swaps, swap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}
	return swaps, nil
}

// Active returns every running swap that is not paused.
func (s *Store) Active(limit int) ([]PendingSwap, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query("SELECT payload FROM pending_swaps WHERE status = ? AND paused = 0 ORDER BY created_at ASC LIMIT ?", string(SwapStatusRunning), limit)
	if err != nil {
		return nil, fmt.Errorf("list active swaps: %w", err)
	}
	defer rows.Close()

	swaps := make([]PendingSwap, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}
		var swap PendingSwap
		if err := json.Unmarshal(payload, &swap); err != nil {
			return nil, fmt.Errorf("decode swap row: %w", err)
		}
		swaps = append(swaps, swap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}
	return swaps, nil
}

// Delete removes a finished swap. Running swaps are kept so an in-flight
// transaction is never orphaned.
func (s *Store) Delete(requestID string) error {
	swap, err := s.Get(requestID)
	if err != nil {
		return err
	}
	if !swap.Terminal() {
		return clierr.New(clierr.CodePrecondition, fmt.Sprintf("swap %s is still %s", requestID, swap.Status))
	}
	if _, err := s.db.Exec("DELETE FROM pending_swaps WHERE request_id = ?", requestID); err != nil {
		return fmt.Errorf("delete swap: %w", err)
	}
	return nil
}

// LockSwap takes an exclusive per-swap file lock so two processes never
// advance the same swap at once.
func (s *Store) LockSwap(ctx context.Context, requestID string, wait time.Duration) (func(), error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, fmt.Errorf("lock swap: missing request id")
	}
	l := flock.New(s.swapLockPath(requestID))
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	locked, err := l.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil || !locked {
		return nil, clierr.Wrap(clierr.CodeBusy, fmt.Sprintf("swap %s is being advanced by another process", requestID), err)
	}
	return func() { _ = l.Unlock() }, nil
}

// swapLockPath hashes the request id so distinct ids never share a lock file.
func (s *Store) swapLockPath(requestID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(requestID)))
	return filepath.Join(s.lockDir, "swap-"+hex.EncodeToString(sum[:16])+".lock")
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
