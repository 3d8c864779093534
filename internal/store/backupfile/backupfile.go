// Package backupfile implements the durable sealed-backup store as a single
// JSON file, replaced atomically on every write via write-temp-then-rename
// (spec §5, §9 "Backup persistence — scoped write"). It is grounded on the
// teacher's internal/app/httpapi/audit.go fileAuditSink append-JSONL idiom,
// generalized here to a whole-file rewrite because backups are a small,
// keyed-by-identity map rather than an append-only stream.
package backupfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
)

// Store is a file-backed, durable implementation of store.BackupStore.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]domain.KeyBackup
	log  logger
}

type logger interface {
	Warnf(format string, args ...interface{})
}

var _ store.BackupStore = (*Store)(nil)

// Open loads path if it exists. A missing file starts empty; a
// truncated/corrupt file is treated as empty with a one-shot warning
// (startup-only concession, spec §7).
func Open(path string, log logger) (*Store, error) {
	s := &Store{path: path, data: make(map[string]domain.KeyBackup), log: log}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return s, nil
	}

	var loaded map[string]domain.KeyBackup
	if err := json.Unmarshal(raw, &loaded); err != nil {
		if s.log != nil {
			s.log.Warnf("backupfile: corrupt backup file at %s, starting empty: %v", path, err)
		}
		return s, nil
	}
	s.data = loaded
	return s, nil
}

func (s *Store) Put(_ context.Context, backup domain.KeyBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.data[backup.IdentityID]; ok {
		backup.CreatedAt = existing.CreatedAt
	} else {
		backup.CreatedAt = now
	}
	backup.UpdatedAt = now
	s.data[backup.IdentityID] = backup
	return s.flushLocked()
}

func (s *Store) Get(_ context.Context, identityID string) (domain.KeyBackup, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.data[identityID]
	return b, ok, nil
}

func (s *Store) Delete(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, identityID)
	return s.flushLocked()
}

// flushLocked serializes the whole map and replaces the file atomically.
// Caller must hold s.mu.
func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".backups-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, s.path)
}
