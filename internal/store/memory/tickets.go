package memory

import (
	"context"
	"sync"
	"time"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
)

type ticketStore struct {
	mu  sync.Mutex
	byID map[string]domain.Ticket
}

var _ store.TicketStore = (*ticketStore)(nil)

func newTicketStore() *ticketStore {
	return &ticketStore{byID: make(map[string]domain.Ticket)}
}

func (s *ticketStore) Create(_ context.Context, ticket domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[ticket.ID]; exists {
		return apierrors.Conflict("already-exists", "ticket already exists")
	}
	s.byID[ticket.ID] = ticket
	return nil
}

func (s *ticketStore) Get(_ context.Context, id string) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return domain.Ticket{}, apierrors.NotFound("ticket not found")
	}
	return t, nil
}

// MarkUsed is idempotent: a second call after used_at is already set is a
// no-op, per spec §8.
func (s *ticketStore) MarkUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return apierrors.NotFound("ticket not found")
	}
	if t.UsedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	t.UsedAt = &now
	s.byID[id] = t
	return nil
}
