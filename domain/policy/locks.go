package policy

import "sync"

// keyedLocks serializes mutations per (tenant, command) key while letting a
// tenant-wide purge exclude all of a tenant's per-key mutations at once.
//
// Change/Seed take the tenant read lock plus the command key lock; RemoveTenant
// takes the tenant write lock. Different commands in the same tenant mutate
// concurrently; different tenants never contend.
type keyedLocks struct {
	mu      sync.Mutex
	tenants map[string]*tenantLock
}

type tenantLock struct {
	rw sync.RWMutex

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func (k *keyedLocks) tenant(tenantID string) *tenantLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.tenants == nil {
		k.tenants = make(map[string]*tenantLock)
	}
	tl, ok := k.tenants[tenantID]
	if !ok {
		tl = &tenantLock{keys: make(map[string]*sync.Mutex)}
		k.tenants[tenantID] = tl
	}
	return tl
}

// drop forgets the tenant's lock entries. Called after a tenant purge so the
// map does not grow without bound under tenant churn.
func (k *keyedLocks) drop(tenantID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.tenants, tenantID)
}

// lockKey locks the mutex for one command key and returns its unlock func.
// Callers must already hold the tenant read lock.
func (t *tenantLock) lockKey(command string) func() {
	t.mu.Lock()
	m, ok := t.keys[command]
	if !ok {
		m = &sync.Mutex{}
		t.keys[command] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
