package memory

import (
	"context"
	"sync"
	"time"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
)

type challengeRecord struct {
	challenge domain.Challenge
	consumed  bool
}

type challengeStore struct {
	mu   sync.Mutex
	byID map[string]*challengeRecord
}

var _ store.ChallengeStore = (*challengeStore)(nil)

func newChallengeStore() *challengeStore {
	return &challengeStore{byID: make(map[string]*challengeRecord)}
}

func (s *challengeStore) Create(_ context.Context, challenge domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[challenge.ID] = &challengeRecord{challenge: challenge}
	return nil
}

func (s *challengeStore) Get(_ context.Context, id string) (domain.Challenge, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok || rec.consumed || !time.Now().Before(rec.challenge.ExpiresAt) {
		return domain.Challenge{}, store.ChallengeNotFound, nil
	}
	if rec.challenge.ExternalID == "" {
		return rec.challenge, store.ChallengeNotYetResolved, nil
	}
	return rec.challenge, store.ChallengeResolved, nil
}

func (s *challengeStore) Resolve(_ context.Context, id, externalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok || time.Now().After(rec.challenge.ExpiresAt) {
		return store.ResolveNotFound, nil
	}
	if rec.consumed {
		return store.ResolveAlreadyConsumed, nil
	}
	if rec.challenge.ExternalID != "" {
		return store.ResolveAlreadyResolved, nil
	}
	rec.challenge.ExternalID = externalID
	return store.ResolveOK, nil
}

func (s *challengeStore) MarkConsumed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return apierrors.NotFound("challenge not found")
	}
	rec.consumed = true
	return nil
}

func (s *challengeStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	purged := 0
	for id, rec := range s.byID {
		if now.After(rec.challenge.ExpiresAt) {
			delete(s.byID, id)
			purged++
		}
	}
	return purged, nil
}
