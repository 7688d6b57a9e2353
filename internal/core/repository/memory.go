package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/centsible/identity-service/internal/core/domain"
)

// In-memory implementations of the domain store interfaces. They back the
// service tests and local demos without a database; behavior mirrors the pgx
// implementations, including the one-active-record-per-target guarantee.

// MemoryUserRepository implements domain.UserRepository in memory.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[int]*domain.User
	next  int
}

// NewMemoryUserRepository creates an empty in-memory user repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int]*domain.User), next: 1}
}

// Add inserts a user as-is, assigning an id when unset.
func (r *MemoryUserRepository) Add(u *domain.User) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == 0 {
		u.ID = r.next
	}
	if u.ID >= r.next {
		r.next = u.ID + 1
	}
	cp := *u
	r.users[cp.ID] = &cp
	return u
}

// Remove deletes a user, simulating hard removal mid-session.
func (r *MemoryUserRepository) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

// SetActive flips the active flag.
func (r *MemoryUserRepository) SetActive(id int, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.Active = active
	}
}

// SetRole changes a user's role.
func (r *MemoryUserRepository) SetRole(id int, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.Role = role
	}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id int) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, email, passwordHash string, role domain.Role) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.users[id] = &domain.User{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	return id, nil
}

func (r *MemoryUserRepository) UpdateLastLogin(_ context.Context, userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		now := time.Now()
		u.LastLoginAt = &now
	}
	return nil
}

// MemorySessionStore implements domain.SessionStore in memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *MemorySessionStore) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[cp.ID] = &cp
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *MemorySessionStore) SetImpersonation(_ context.Context, id string, originalAdminID, impersonatedUserID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return errSessionMissing
	}
	sess.IsImpersonating = true
	sess.OriginalAdminID = originalAdminID
	sess.ImpersonatedUserID = impersonatedUserID
	return nil
}

func (s *MemorySessionStore) ClearImpersonation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.IsImpersonating = false
	sess.OriginalAdminID = 0
	sess.ImpersonatedUserID = 0
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// MemoryAPIKeyRepository implements domain.APIKeyRepository in memory.
type MemoryAPIKeyRepository struct {
	mu   sync.RWMutex
	keys map[string]*domain.APIKey
	next int
}

// NewMemoryAPIKeyRepository creates an empty in-memory API key repository.
func NewMemoryAPIKeyRepository() *MemoryAPIKeyRepository {
	return &MemoryAPIKeyRepository{keys: make(map[string]*domain.APIKey), next: 1}
}

// Add inserts a key as-is, assigning an id when unset.
func (r *MemoryAPIKeyRepository) Add(k *domain.APIKey) *domain.APIKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k.ID == 0 {
		k.ID = r.next
	}
	if k.ID >= r.next {
		r.next = k.ID + 1
	}
	cp := *k
	r.keys[cp.Key] = &cp
	return k
}

func (r *MemoryAPIKeyRepository) GetByKey(_ context.Context, key string) (*domain.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[key]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (r *MemoryAPIKeyRepository) TouchLastUsed(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.ID == id {
			now := time.Now()
			k.LastUsedAt = &now
		}
	}
	return nil
}

// MemoryImpersonationRepository implements domain.ImpersonationRepository in
// memory. Close-stale and insert happen under one lock, matching the pgx
// implementation's single transaction.
type MemoryImpersonationRepository struct {
	mu      sync.RWMutex
	records []*domain.ImpersonationRecord
}

// NewMemoryImpersonationRepository creates an empty in-memory ledger.
func NewMemoryImpersonationRepository() *MemoryImpersonationRepository {
	return &MemoryImpersonationRepository{}
}

func (r *MemoryImpersonationRepository) Start(_ context.Context, superAdminID, targetUserID int) (*domain.ImpersonationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, rec := range r.records {
		if rec.TargetUserID == targetUserID && rec.Active {
			rec.Active = false
			ended := now
			rec.EndedAt = &ended
		}
	}

	record := &domain.ImpersonationRecord{
		ID:           uuid.NewString(),
		SuperAdminID: superAdminID,
		TargetUserID: targetUserID,
		StartedAt:    now,
		Active:       true,
	}
	r.records = append(r.records, record)

	cp := *record
	return &cp, nil
}

func (r *MemoryImpersonationRepository) EndActiveByTarget(_ context.Context, targetUserID int, endedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ended := false
	for _, rec := range r.records {
		if rec.TargetUserID == targetUserID && rec.Active {
			rec.Active = false
			t := endedAt
			rec.EndedAt = &t
			ended = true
		}
	}
	return ended, nil
}

func (r *MemoryImpersonationRepository) FindActiveByTarget(_ context.Context, targetUserID int) (*domain.ImpersonationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.TargetUserID == targetUserID && rec.Active {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

// ActiveCount returns the number of active records for the target.
func (r *MemoryImpersonationRepository) ActiveCount(targetUserID int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.records {
		if rec.TargetUserID == targetUserID && rec.Active {
			n++
		}
	}
	return n
}

// Len returns the total number of ledger records ever written.
func (r *MemoryImpersonationRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

var errSessionMissing = errors.New("session not found")
