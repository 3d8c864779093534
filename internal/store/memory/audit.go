package memory

import (
	"context"
	"sync"

	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
)

type auditStore struct {
	mu        sync.Mutex
	byUser    map[string][]domain.AuditEvent // insertion order, oldest first
}

var _ store.AuditStore = (*auditStore)(nil)

func newAuditStore() *auditStore {
	return &auditStore{byUser: make(map[string][]domain.AuditEvent)}
}

func (s *auditStore) Append(_ context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byUser[event.UserID] = append(s.byUser[event.UserID], event)
	return nil
}

// ListByUser returns events newest-first, paginated by limit/offset, plus
// the total count for that user.
func (s *auditStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.AuditEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.byUser[userID]
	total := len(all)

	// Reverse into newest-first order without mutating the stored slice.
	reversed := make([]domain.AuditEvent, total)
	for i, e := range all {
		reversed[total-1-i] = e
	}

	if offset >= total {
		return []domain.AuditEvent{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return reversed[offset:end], total, nil
}
