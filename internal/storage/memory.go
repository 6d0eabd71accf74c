package storage

import (
	"context"
	"sort"
	"sync"

	"familyconnect/internal/family"
)

// memoryStore keeps everything in maps guarded by one mutex.
type memoryStore struct {
	mu        sync.RWMutex
	byAccount map[string]family.Family
	byCode    map[string]string // code -> account
	members   map[string]family.Member
	audit     []AuditEntry
}

func NewMemory() Store {
	return &memoryStore{
		byAccount: map[string]family.Family{},
		byCode:    map[string]string{},
		members:   map[string]family.Member{},
	}
}

func (s *memoryStore) FamilyByAccount(_ context.Context, accountID string) (family.Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byAccount[accountID]
	if !ok {
		return family.Family{}, ErrNotFound
	}
	return f, nil
}

func (s *memoryStore) FamilyByCode(_ context.Context, code string) (family.Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.byCode[code]
	if !ok {
		return family.Family{}, ErrNotFound
	}
	return s.byAccount[acc], nil
}

func (s *memoryStore) CreateFamily(_ context.Context, f family.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byAccount[f.AccountID]; ok {
		return ErrConflict
	}
	if _, ok := s.byCode[f.SetupCode]; ok {
		return ErrConflict
	}
	s.byAccount[f.AccountID] = f
	s.byCode[f.SetupCode] = f.AccountID
	return nil
}

func (s *memoryStore) CodeInUse(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byCode[code]
	return ok, nil
}

func (s *memoryStore) Members(_ context.Context, familyID string) ([]family.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []family.Member
	for _, m := range s.members {
		if m.FamilyID == familyID {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out, nil
}

func (s *memoryStore) Member(_ context.Context, deviceID string) (family.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[deviceID]
	if !ok {
		return family.Member{}, ErrNotFound
	}
	return m, nil
}

func (s *memoryStore) AddMember(_ context.Context, m family.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.ID]; ok {
		return ErrConflict
	}
	s.members[m.ID] = m
	return nil
}

func (s *memoryStore) DeviceExists(_ context.Context, deviceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[deviceID]
	return ok, nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }

// sortMembers orders by join time, then device id.
func sortMembers(ms []family.Member) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
