package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
)

type identityStore struct {
	mu  sync.RWMutex
	byID map[string]domain.Identity
}

var _ store.IdentityStore = (*identityStore)(nil)

func newIdentityStore() *identityStore {
	return &identityStore{byID: make(map[string]domain.Identity)}
}

func (s *identityStore) Create(_ context.Context, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[identity.ID]; exists {
		return apierrors.Conflict("already-exists", "identity already exists")
	}
	s.byID[identity.ID] = identity
	return nil
}

func (s *identityStore) Get(_ context.Context, id string) (domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.byID[id]
	if !ok {
		return domain.Identity{}, apierrors.NotFound("identity not found")
	}
	return ident, nil
}

func (s *identityStore) ListByUser(_ context.Context, userID string) ([]domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Identity
	for _, ident := range s.byID {
		if ident.UserID == userID {
			out = append(out, ident)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *identityStore) MarkDestroyed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return apierrors.NotFound("identity not found")
	}
	ident.Status = domain.IdentityDestroyed
	s.byID[id] = ident
	return nil
}
