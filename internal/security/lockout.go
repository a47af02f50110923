package security

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultMaxLoginAttempts = 5
	DefaultLockDuration     = 15 * time.Minute
)

// LockoutStore tracks failed logins per username and computes lockout
// windows. The store is injected into the auth service so the backing
// implementation can be swapped without touching the flow logic.
type LockoutStore interface {
	// RecordAttempt mutates the record for username: a success resets it,
	// a failure increments the counter and may start a lockout window.
	RecordAttempt(ctx context.Context, username string, success bool) error
	// IsLocked reports whether username is currently locked and, when it
	// is, when the lock expires. Reading past the expiry resets the
	// record (lazy reset, no background sweep).
	IsLocked(ctx context.Context, username string) (bool, time.Time, error)
	// PurgeStale drops records whose last failure is older than the given
	// age and that are not currently locked. Returns the number removed.
	PurgeStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type lockoutRecord struct {
	failedAttempts int
	lastFailure    time.Time
	lockedUntil    *time.Time
}

// MemoryLockoutStore is a process-local LockoutStore: a map guarded by a
// mutex. The check-then-write sequence runs entirely under the lock, so two
// concurrent failed logins cannot both slip past the threshold.
type MemoryLockoutStore struct {
	mu           sync.Mutex
	maxAttempts  int
	lockDuration time.Duration
	records      map[string]*lockoutRecord
	now          func() time.Time
}

func NewMemoryLockoutStore(maxAttempts int, lockDuration time.Duration) *MemoryLockoutStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}

	return &MemoryLockoutStore{
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		records:      make(map[string]*lockoutRecord),
		now:          time.Now,
	}
}

func (s *MemoryLockoutStore) RecordAttempt(_ context.Context, username string, success bool) error {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		delete(s.records, username)
		return nil
	}

	record := s.records[username]
	if record == nil {
		record = &lockoutRecord{}
		s.records[username] = record
	}

	if record.lockedUntil != nil {
		if now.Before(*record.lockedUntil) {
			// Still locked; the attempt does not advance the counter.
			return nil
		}
		// Expired lockout: counting restarts from zero, not the prior total.
		record.failedAttempts = 0
		record.lockedUntil = nil
	}

	record.failedAttempts++
	record.lastFailure = now
	if record.failedAttempts >= s.maxAttempts {
		until := now.Add(s.lockDuration)
		record.lockedUntil = &until
	}

	return nil
}

func (s *MemoryLockoutStore) IsLocked(_ context.Context, username string) (bool, time.Time, error) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[username]
	if record == nil || record.lockedUntil == nil {
		return false, time.Time{}, nil
	}
	if now.Before(*record.lockedUntil) {
		return true, *record.lockedUntil, nil
	}

	delete(s.records, username)
	return false, time.Time{}, nil
}

func (s *MemoryLockoutStore) PurgeStale(_ context.Context, olderThan time.Duration) (int, error) {
	now := s.now().UTC()
	cutoff := now.Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for username, record := range s.records {
		if record.lockedUntil != nil && now.Before(*record.lockedUntil) {
			continue
		}
		if record.lastFailure.Before(cutoff) {
			delete(s.records, username)
			purged++
		}
	}

	return purged, nil
}
