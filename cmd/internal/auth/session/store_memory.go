package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in development mode (no database
// configured) and in unit tests.
//
// One mutex serializes every operation, which makes RevokeIfActive a true
// compare-and-swap.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[TokenHash]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[TokenHash]*Record)}
}

var _ TxStore = (*MemoryStore)(nil)

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(rec)
}

// FindByHash implements Store.
func (s *MemoryStore) FindByHash(_ context.Context, hash TokenHash) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByHash(hash)
}

// RevokeIfActive implements Store.
func (s *MemoryStore) RevokeIfActive(_ context.Context, hash TokenHash, now time.Time, reason RevocationReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeIfActive(hash, now, reason), nil
}

// FindLatestRevokedInFamily implements Store.
func (s *MemoryStore) FindLatestRevokedInFamily(_ context.Context, family FamilyID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLatestRevokedInFamily(family)
}

// RevokeFamily implements Store.
func (s *MemoryStore) RevokeFamily(_ context.Context, family FamilyID, now time.Time, reason RevocationReason) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeWhere(func(r *Record) bool { return r.FamilyID == family }, now, reason), nil
}

// RevokeAllForUser implements Store.
func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID UserID, now time.Time, reason RevocationReason) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeWhere(func(r *Record) bool { return r.UserID == userID }, now, reason), nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteExpired(now), nil
}

// InTx runs fn against an unlocked view of the store while holding the lock.
// If fn fails, the map is restored to its state before the call.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[TokenHash]*Record, len(s.byHash))
	for h, r := range s.byHash {
		cp := *r
		snapshot[h] = &cp
	}

	if err := fn(ctx, memoryTx{s}); err != nil {
		s.byHash = snapshot
		return err
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}

func (s *MemoryStore) save(rec Record) error {
	if rec.TokenHash == "" {
		return errors.New("memory store: empty token hash")
	}
	if _, ok := s.byHash[rec.TokenHash]; ok {
		return fmt.Errorf("memory store: duplicate token hash %s", rec.TokenHash.Short())
	}
	cp := copyRecord(&rec)
	s.byHash[rec.TokenHash] = &cp
	return nil
}

func (s *MemoryStore) findByHash(hash TokenHash) (Record, error) {
	r, ok := s.byHash[hash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return copyRecord(r), nil
}

func (s *MemoryStore) revokeIfActive(hash TokenHash, now time.Time, reason RevocationReason) bool {
	r, ok := s.byHash[hash]
	if !ok || r.IsRevoked || r.ExpiredAt(now) {
		return false
	}
	revoke(r, now, reason)
	return true
}

func (s *MemoryStore) findLatestRevokedInFamily(family FamilyID) (Record, error) {
	var latest *Record
	for _, r := range s.byHash {
		if r.FamilyID != family || r.RevokedAt == nil {
			continue
		}
		if latest == nil || revokedLater(r, latest) {
			latest = r
		}
	}
	if latest == nil {
		return Record{}, ErrRecordNotFound
	}
	return copyRecord(latest), nil
}

// revokedLater orders by revoked_at, then by id; ids are minted in order, so
// the id breaks ties between rotations stamped with the same instant.
func revokedLater(a, b *Record) bool {
	if !a.RevokedAt.Equal(*b.RevokedAt) {
		return a.RevokedAt.After(*b.RevokedAt)
	}
	return a.ID > b.ID
}

func (s *MemoryStore) revokeWhere(match func(*Record) bool, now time.Time, reason RevocationReason) int64 {
	var n int64
	for _, r := range s.byHash {
		if r.IsRevoked || !match(r) {
			continue
		}
		revoke(r, now, reason)
		n++
	}
	return n
}

func (s *MemoryStore) deleteExpired(now time.Time) int64 {
	var n int64
	for h, r := range s.byHash {
		if r.IsRevoked && r.ExpiredAt(now) {
			delete(s.byHash, h)
			n++
		}
	}
	return n
}

func revoke(r *Record, now time.Time, reason RevocationReason) {
	at := now
	r.IsRevoked = true
	r.RevokedAt = &at
	r.RevocationReason = reason
}

func copyRecord(r *Record) Record {
	cp := *r
	if r.RevokedAt != nil {
		at := *r.RevokedAt
		cp.RevokedAt = &at
	}
	return cp
}

// memoryTx exposes the store's unlocked internals to an InTx callback.
type memoryTx struct{ s *MemoryStore }

func (t memoryTx) Save(_ context.Context, rec Record) error { return t.s.save(rec) }

func (t memoryTx) FindByHash(_ context.Context, hash TokenHash) (Record, error) {
	return t.s.findByHash(hash)
}

func (t memoryTx) RevokeIfActive(_ context.Context, hash TokenHash, now time.Time, reason RevocationReason) (bool, error) {
	return t.s.revokeIfActive(hash, now, reason), nil
}

func (t memoryTx) FindLatestRevokedInFamily(_ context.Context, family FamilyID) (Record, error) {
	return t.s.findLatestRevokedInFamily(family)
}

func (t memoryTx) RevokeFamily(_ context.Context, family FamilyID, now time.Time, reason RevocationReason) (int64, error) {
	return t.s.revokeWhere(func(r *Record) bool { return r.FamilyID == family }, now, reason), nil
}

func (t memoryTx) RevokeAllForUser(_ context.Context, userID UserID, now time.Time, reason RevocationReason) (int64, error) {
	return t.s.revokeWhere(func(r *Record) bool { return r.UserID == userID }, now, reason), nil
}

func (t memoryTx) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return t.s.deleteExpired(now), nil
}
