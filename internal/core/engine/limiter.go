package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigotlabs/spigot/internal/core"
)

// DefaultWindow is the cooling-off period between two claims by one identity.
const DefaultWindow = time.Hour

// LimitStore persists identity → eligible-at entries.
type LimitStore interface {
	GetLimit(ctx context.Context, key string) (*core.LimitEntry, error)
	SetLimit(ctx context.Context, key string, entry core.LimitEntry) error
	DeleteLimit(ctx context.Context, key string) error
	SweepLimits(ctx context.Context, now time.Time) (int, error)
}

// ClaimLimiter enforces at most one granted claim per identity per window.
// Reserve, Commit and Release are serialized so two requests for one identity
// can never both hold a slot.
type ClaimLimiter struct {
	Store  LimitStore
	Window time.Duration
	Clock  func() time.Time

	mu sync.Mutex
}

// Reservation is a provisional slot held while a payout is in flight.
type Reservation struct {
	Key        string
	ID         string
	ReservedAt time.Time
}

// NewClaimLimiter builds a limiter over store.
func NewClaimLimiter(store LimitStore, window time.Duration) (*ClaimLimiter, error) {
	if store == nil {
		return nil, errors.New("limit store is required")
	}
	if window <= 0 {
		return nil, errors.New("claim window must be positive")
	}
	return &ClaimLimiter{Store: store, Window: window}, nil
}

// Check reports whether key could claim now. Expired entries are swept first.
func (l *ClaimLimiter) Check(ctx context.Context, key string) (core.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, err := l.lookup(ctx, key, now)
	if err != nil {
		return core.Decision{}, err
	}
	switch {
	case entry == nil:
		return core.Decision{Eligible: true}, nil
	case entry.Pending:
		return core.Decision{Pending: true}, nil
	}
	return core.Decision{RetryAt: entry.EligibleAt}, nil
}

// Reserve claims the slot for key or returns a *core.RateLimitedError.
func (l *ClaimLimiter) Reserve(ctx context.Context, key string) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, err := l.lookup(ctx, key, now)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		if entry.Pending {
			return nil, &core.RateLimitedError{Pending: true}
		}
		return nil, &core.RateLimitedError{RetryAt: entry.EligibleAt}
	}

	res := &Reservation{Key: key, ID: uuid.New().String(), ReservedAt: now}
	pending := core.LimitEntry{
		EligibleAt:    now.Add(l.window()),
		Pending:       true,
		ReservationID: res.ID,
	}
	if err := l.Store.SetLimit(ctx, key, pending); err != nil {
		return nil, err
	}
	return res, nil
}

// Commit turns a reservation into the real window starting now and returns
// the time the identity becomes eligible again.
func (l *ClaimLimiter) Commit(ctx context.Context, res *Reservation) (time.Time, error) {
	if res == nil {
		return time.Time{}, errors.New("reservation is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	eligibleAt := l.now().Add(l.window())
	if err := l.Store.SetLimit(ctx, res.Key, core.LimitEntry{EligibleAt: eligibleAt}); err != nil {
		return time.Time{}, err
	}
	return eligibleAt, nil
}

// Release drops a reservation whose payout never happened. Entries written by
// anyone else are left alone.
func (l *ClaimLimiter) Release(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.Store.GetLimit(ctx, res.Key)
	if err != nil {
		return err
	}
	if entry == nil || !entry.Pending || entry.ReservationID != res.ID {
		return nil
	}
	return l.Store.DeleteLimit(ctx, res.Key)
}

// Record unconditionally starts a fresh window for key.
func (l *ClaimLimiter) Record(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.Store.SetLimit(ctx, key, core.LimitEntry{EligibleAt: l.now().Add(l.window())})
}

// Sweep removes every expired entry.
func (l *ClaimLimiter) Sweep(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.Store.SweepLimits(ctx, l.now())
}

// RunJanitor sweeps on every tick until ctx is done.
func (l *ClaimLimiter) RunJanitor(ctx context.Context, interval time.Duration, onSweep func(removed int, err error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := l.Sweep(ctx)
			if onSweep != nil {
				onSweep(removed, err)
			}
		}
	}
}

func (l *ClaimLimiter) lookup(ctx context.Context, key string, now time.Time) (*core.LimitEntry, error) {
	if _, err := l.Store.SweepLimits(ctx, now); err != nil {
		return nil, err
	}
	entry, err := l.Store.GetLimit(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Expired(now) {
		return nil, nil
	}
	return entry, nil
}

func (l *ClaimLimiter) window() time.Duration {
	if l.Window > 0 {
		return l.Window
	}
	return DefaultWindow
}

func (l *ClaimLimiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

// MemoryLimitStore keeps limiter entries in a map for the process lifetime.
type MemoryLimitStore struct {
	mu      sync.RWMutex
	entries map[string]core.LimitEntry
}

// NewMemoryLimitStore returns an empty store.
func NewMemoryLimitStore() *MemoryLimitStore {
	return &MemoryLimitStore{entries: make(map[string]core.LimitEntry)}
}

func (m *MemoryLimitStore) GetLimit(_ context.Context, key string) (*core.LimitEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryLimitStore) SetLimit(_ context.Context, key string, entry core.LimitEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry
	return nil
}

func (m *MemoryLimitStore) DeleteLimit(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *MemoryLimitStore) SweepLimits(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if entry.Expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryLimitStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
