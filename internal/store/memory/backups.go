package memory

import (
	"context"
	"sync"
	"time"

	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
)

type backupStore struct {
	mu  sync.Mutex
	byID map[string]domain.KeyBackup
}

var _ store.BackupStore = (*backupStore)(nil)

func newBackupStore() *backupStore {
	return &backupStore{byID: make(map[string]domain.KeyBackup)}
}

// Put upserts on identity_id, preserving created_at and bumping updated_at.
func (s *backupStore) Put(_ context.Context, backup domain.KeyBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.byID[backup.IdentityID]; ok {
		backup.CreatedAt = existing.CreatedAt
	} else {
		backup.CreatedAt = now
	}
	backup.UpdatedAt = now
	s.byID[backup.IdentityID] = backup
	return nil
}

func (s *backupStore) Get(_ context.Context, identityID string) (domain.KeyBackup, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[identityID]
	return b, ok, nil
}

func (s *backupStore) Delete(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byID, identityID)
	return nil
}
