package distlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryTable is the process-wide lock table shared by every MemoryLock.
var memoryTable = struct {
	mu    sync.Mutex
	owner map[string]memoryHold
}{owner: make(map[string]memoryHold)}

type memoryHold struct {
	token   string
	expires time.Time
}

// MemoryLock implements DistLock within a single process. A hold expires
// after ttl so a crashed holder cannot wedge the key forever.
type MemoryLock struct {
	key   string
	token string
	ttl   time.Duration
}

// NewMemoryLock creates a process-local lock for key.
func NewMemoryLock(key string, ttl time.Duration) *MemoryLock {
	return &MemoryLock{key: key, token: uuid.NewString(), ttl: ttl}
}

// Acquire takes the key if it is free or its previous hold has expired.
func (l *MemoryLock) Acquire(_ context.Context) (bool, error) {
	memoryTable.mu.Lock()
	defer memoryTable.mu.Unlock()

	now := time.Now()
	if h, ok := memoryTable.owner[l.key]; ok && h.token != l.token && now.Before(h.expires) {
		return false, nil
	}
	memoryTable.owner[l.key] = memoryHold{token: l.token, expires: now.Add(l.ttl)}
	return true, nil
}

// Release frees the key if this lock still owns it.
func (l *MemoryLock) Release(_ context.Context) error {
	memoryTable.mu.Lock()
	defer memoryTable.mu.Unlock()
	if h, ok := memoryTable.owner[l.key]; ok && h.token == l.token {
		delete(memoryTable.owner, l.key)
	}
	return nil
}
