package backend

import (
	"log/slog"
	"sync"
)

// ItemLockManager hands out one RWMutex per item id so writes to different
// items never wait on each other
type ItemLockManager struct {
	locks    map[string]*sync.RWMutex
	locksMux sync.RWMutex
}

func NewItemLockManager() *ItemLockManager {
	return &ItemLockManager{
		locks: make(map[string]*sync.RWMutex),
	}
}

// GetItemLock returns the mutex for itemID, creating it on first use
func (m *ItemLockManager) GetItemLock(itemID string) *sync.RWMutex {
	m.locksMux.RLock()
	if lock, exists := m.locks[itemID]; exists {
		m.locksMux.RUnlock()
		return lock
	}
	m.locksMux.RUnlock()

	m.locksMux.Lock()
	defer m.locksMux.Unlock()

	// another goroutine may have created it meanwhile
	if lock, exists := m.locks[itemID]; exists {
		return lock
	}

	lock := &sync.RWMutex{}
	m.locks[itemID] = lock
	slog.Debug("Created new item lock", "item_id", itemID)
	return lock
}

// WithItemWriteLock runs fn while holding the item's write lock
func (m *ItemLockManager) WithItemWriteLock(itemID string, fn func()) {
	lock := m.GetItemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	fn()
}

// WithItemReadLock runs fn while holding the item's read lock
func (m *ItemLockManager) WithItemReadLock(itemID string, fn func()) {
	lock := m.GetItemLock(itemID)
	lock.RLock()
	defer lock.RUnlock()

	fn()
}

func (m *ItemLockManager) LockCount() int {
	m.locksMux.RLock()
	defer m.locksMux.RUnlock()
	return len(m.locks)
}
