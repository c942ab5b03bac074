// Package profile stores user preference snapshots and the append-only
// interaction history they are derived from.
package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

// ErrNotFound is returned for users with no recorded interactions.
var ErrNotFound = errors.New("profile not found")

// Store is the profile collaborator: read a snapshot, append an event.
type Store interface {
	// Get returns a snapshot the caller may freely read.
	Get(ctx context.Context, userID string) (*domain.UserProfile, error)

	// AppendInteraction records an event and folds it into the preference
	// summary, returning the updated snapshot. Concurrent appends for the
	// same user keep every history entry; summary fields are last-writer-wins.
	AppendInteraction(ctx context.Context, userID string, in domain.Interaction) (*domain.UserProfile, error)

	Close() error
}

func validateInteraction(userID string, in *domain.Interaction) error {
	if userID == "" {
		return domain.ValidationError("user id is required", nil)
	}
	if in.ProductID == "" {
		return domain.ValidationError("product id is required", nil)
	}
	if !in.Action.Valid() {
		return domain.ValidationError("unknown action "+string(in.Action), nil)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*domain.UserProfile
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*domain.UserProfile)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) AppendInteraction(ctx context.Context, userID string, in domain.Interaction) (*domain.UserProfile, error) {
	if err := validateInteraction(userID, &in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		p = &domain.UserProfile{UserID: userID}
		s.profiles[userID] = p
	}
	p.ApplyInteraction(in)
	return clone(p), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func clone(p *domain.UserProfile) *domain.UserProfile {
	out := &domain.UserProfile{
		UserID:              p.UserID,
		PreferredCategories: append([]string(nil), p.PreferredCategories...),
		PreferredBrands:     append([]string(nil), p.PreferredBrands...),
		History:             append([]domain.Interaction(nil), p.History...),
	}
	if p.MaxPrice != nil {
		v := *p.MaxPrice
		out.MaxPrice = &v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
