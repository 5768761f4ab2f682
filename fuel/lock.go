package fuel

import (
	"context"
	"sync"
)

// =============================================================================
// TANK LOCK - Serializes stock mutations per tank
// =============================================================================

// TankLocker grants exclusive access to one tank's stock.
//
// The returned unlock func must be called exactly once. Lock blocks until the
// tank is free or ctx is done.
type TankLocker interface {
	Lock(ctx context.Context, tankID string) (func(), error)
}

// LocalLocker is an in-process TankLocker. Each tank gets a one-slot channel.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ TankLocker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(tankID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[tankID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[tankID] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, tankID string) (func(), error) {
	ch := l.slot(tankID)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}
