package service

import (
	"sync"

	"github.com/google/uuid"
)

// AccountLocks serializes all balance-mutating work per account. SQLite has
// no row-level locking, so the execution and liquidation engines take the
// account's mutex before opening their transaction; margin reads stay
// lock-free and accept an eventually consistent snapshot.
type AccountLocks struct {
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewAccountLocks creates an empty lock set.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{}
}

// Lock acquires the mutex for an account, creating it on first use.
// The caller must call the returned unlock function.
func (a *AccountLocks) Lock(accountID uuid.UUID) func() {
	v, _ := a.locks.LoadOrStore(accountID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
