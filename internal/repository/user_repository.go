// Package repository holds the user record store adapters.
package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Proton-105/user-sync/internal/domain"
)

// ErrUserNotFound is returned when no record exists for the requested id.
var ErrUserNotFound = errors.New("user not found")

// UserStore defines persistence operations for user records. Transport failures are
// returned as STORE_UNAVAILABLE application errors.
type UserStore interface {
	// GetByID returns the record or ErrUserNotFound.
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetBySecondaryKey returns every record matching email and dob, ordered by id.
	GetBySecondaryKey(ctx context.Context, email, dob string) ([]*domain.User, error)
	// Put replaces the full record, creating it when absent.
	Put(ctx context.Context, user *domain.User) error
	// UpdateFields merges fields into an existing record and stamps updatedAt.
	// Returns ErrUserNotFound when the record does not exist.
	UpdateFields(ctx context.Context, id string, fields map[string]string, updatedAt time.Time) error
	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

func sortByID(users []*domain.User) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID < users[j].ID
	})
}

// mutableField reports whether an update may write the attribute.
func mutableField(name string) bool {
	for _, attr := range domain.MutableAttributes {
		if attr == name {
			return true
		}
	}
	return false
}

func sortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
