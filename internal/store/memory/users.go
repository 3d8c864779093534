package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
)

type userStore struct {
	mu                sync.RWMutex
	byID              map[string]domain.User
	idByExternalID    map[string]string
}

var _ store.UserStore = (*userStore)(nil)

func newUserStore() *userStore {
	return &userStore{
		byID:           make(map[string]domain.User),
		idByExternalID: make(map[string]string),
	}
}

func (s *userStore) CreateOrGetByExternalID(_ context.Context, externalID string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.idByExternalID[externalID]; ok {
		return s.byID[id], false, nil
	}

	u := domain.User{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Status:     domain.UserActive,
		CreatedAt:  time.Now().UTC(),
	}
	s.byID[u.ID] = u
	s.idByExternalID[externalID] = u.ID
	return u, true, nil
}

func (s *userStore) GetByID(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return domain.User{}, apierrors.NotFound("user not found")
	}
	return u, nil
}
