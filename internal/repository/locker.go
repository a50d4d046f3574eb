package repository

import (
	"context"
	"sync"
)

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. Lock waits for the key or the context.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, transactionID string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[transactionID]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[transactionID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(transactionID, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.drop(transactionID, kl)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// ChainLocker acquires several lockers in order, for example the in-process mutex
// before the database advisory lock so local contention never holds a connection
type ChainLocker []TransactionLocker

func (c ChainLocker) Lock(ctx context.Context, transactionID string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, locker := range c {
		unlock, err := locker.Lock(ctx, transactionID)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
