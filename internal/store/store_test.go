package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
	"github.com/keyvault-labs/custodian/internal/store/backupfile"
	"github.com/keyvault-labs/custodian/internal/store/memory"
)

// TestWithBackupsDelegatesEverythingButBackups verifies the wrapper routes
// Backups() to the durable store while every other container still comes
// from the in-memory base, matching how cmd/api composes BACKUP_FILE_PATH.
func TestWithBackupsDelegatesEverythingButBackups(t *testing.T) {
	ctx := context.Background()
	base := memory.New()

	dir := t.TempDir()
	backups, err := backupfile.Open(filepath.Join(dir, "backups.json"), logrus.New())
	if err != nil {
		t.Fatalf("backupfile.Open: %v", err)
	}

	var st store.Store = store.WithBackups(base, backups)

	if st.Identities() == nil || st.Users() == nil || st.Tickets() == nil || st.Challenges() == nil || st.Audit() == nil {
		t.Fatalf("expected every non-backup container to be non-nil")
	}
	if st.Backups() != backups {
		t.Fatalf("Backups() did not return the durable backing store")
	}

	if err := st.Backups().Put(ctx, domain.KeyBackup{IdentityID: "id-1", Alg: "secp256k1", SealedKey: "sealed"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, err := base.Backups().Get(ctx, "id-1"); err != nil || ok {
		t.Fatalf("expected the in-memory base's own backup store to remain untouched, got ok=%v err=%v", ok, err)
	}

	reopened, err := backupfile.Open(filepath.Join(dir, "backups.json"), logrus.New())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok, err := reopened.Get(ctx, "id-1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !ok || got.SealedKey != "sealed" {
		t.Fatalf("expected the write to have been flushed to disk, got %+v (ok=%v)", got, ok)
	}

	_ = os.Getenv // keep os imported without an unused diagnostic if the above changes
}
