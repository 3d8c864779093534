// Package memory is an in-memory implementation of the store interfaces,
// safe for concurrent use. It is the default store for local development
// and the store used throughout this repo's tests, grounded on the
// teacher's internal/app/storage/memory/memory.go (mutex-guarded maps,
// clone-on-read, compile-time interface assertions).
package memory

import (
	"github.com/keyvault-labs/custodian/internal/store"
)

// Store bundles one in-memory implementation per store interface. Each
// sub-store is its own type (rather than one type implementing every
// interface) because several interfaces share method names (Create, Get)
// with incompatible signatures.
type Store struct {
	users      *userStore
	identities *identityStore
	tickets    *ticketStore
	challenges *challengeStore
	backups    *backupStore
	audit      *auditStore
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:      newUserStore(),
		identities: newIdentityStore(),
		tickets:    newTicketStore(),
		challenges: newChallengeStore(),
		backups:    newBackupStore(),
		audit:      newAuditStore(),
	}
}

func (s *Store) Users() store.UserStore           { return s.users }
func (s *Store) Identities() store.IdentityStore   { return s.identities }
func (s *Store) Tickets() store.TicketStore         { return s.tickets }
func (s *Store) Challenges() store.ChallengeStore   { return s.challenges }
func (s *Store) Backups() store.BackupStore         { return s.backups }
func (s *Store) Audit() store.AuditStore            { return s.audit }
