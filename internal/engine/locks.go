package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"riskaudit/internal/services"
)

const lockRetryDelay = 25 * time.Millisecond

// countyLocks serializes work per county inside the process and across
// processes sharing the lock directory.
type countyLocks struct {
	dir     string
	timeout time.Duration

	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func newCountyLocks(dir string, timeout time.Duration) (*countyLocks, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &countyLocks{dir: dir, timeout: timeout, slots: make(map[int64]chan struct{})}, nil
}

func (l *countyLocks) slot(countyID int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[countyID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[countyID] = ch
	}
	return ch
}

// acquire locks every county in ascending id order and returns the release
// function. A lock not obtained within the timeout is a transient failure.
func (l *countyLocks) acquire(ctx context.Context, countyIDs ...int64) (func(), error) {
	ids := slices.Clone(countyIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var releases []func()
	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, id := range ids {
		unlock, err := l.acquireOne(ctx, id)
		if err != nil {
			release()
			return nil, err
		}
		releases = append(releases, unlock)
	}
	return release, nil
}

func (l *countyLocks) acquireOne(ctx context.Context, countyID int64) (func(), error) {
	slot := l.slot(countyID)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, busy(countyID, ctx.Err())
	}

	lock := flock.New(filepath.Join(l.dir, fmt.Sprintf("county-%d.lock", countyID)))
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		<-slot
		if err == nil {
			err = ctx.Err()
		}
		return nil, busy(countyID, err)
	}
	return func() {
		_ = lock.Unlock()
		<-slot
	}, nil
}

func busy(countyID int64, err error) error {
	return services.Wrap(services.ErrTransient, "engine", "lock county", fmt.Sprintf("county %d is busy", countyID), err)
}
