package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// ResourceLock runs fn inside a serializable transaction while holding an exclusive lock on key.
// The lock is released on every exit path, including errors and panics.
type ResourceLock interface {
	WithLock(ctx context.Context, key string, fn func(tx *gorm.DB) error) error
}

var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

// NewResourceLock picks a lock implementation for the connected dialect. PostgreSQL uses
// transaction-scoped advisory locks so the lock spans every API and worker process; other
// dialects fall back to an in-process keyed mutex.
func NewResourceLock(db *gorm.DB) ResourceLock {
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return &advisoryLock{db: db}
	}
	return &localLock{db: db, keys: newKeyedMutex()}
}

type advisoryLock struct {
	db *gorm.DB
}

func (l *advisoryLock) WithLock(ctx context.Context, key string, fn func(tx *gorm.DB) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
			return fmt.Errorf("acquire advisory lock %q: %w", key, err)
		}
		return fn(tx)
	}, serializable)
}

type localLock struct {
	db   *gorm.DB
	keys *keyedMutex
}

func (l *localLock) WithLock(ctx context.Context, key string, fn func(tx *gorm.DB) error) error {
	unlock := l.keys.lock(key)
	defer unlock()

	return l.db.WithContext(ctx).Transaction(fn, serializable)
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &refMutex{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.Lock()

	return func() {
		entry.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
