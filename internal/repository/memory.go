package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Proton-105/user-sync/internal/domain"
)

// MemoryStore keeps user records in process memory. It backs local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

var _ UserStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]domain.User)}
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}

	return &user, nil
}

func (s *MemoryStore) GetBySecondaryKey(ctx context.Context, email, dob string) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*domain.User
	for _, user := range s.users {
		if user.Email == email && user.DOB == dob {
			copied := user
			matches = append(matches, &copied)
		}
	}
	sortByID(matches)

	return matches, nil
}

func (s *MemoryStore) Put(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("put user: id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) UpdateFields(ctx context.Context, id string, fields map[string]string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}

	writable := make(map[string]string, len(fields))
	for name, value := range fields {
		if mutableField(name) {
			writable[name] = value
		}
	}

	user = user.Apply(writable)
	user.UpdatedAt = updatedAt
	s.users[id] = user

	return nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
