package enclaveclient

import (
	"context"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
)

// Restorer performs the transparent-restore-on-404 retry loop (spec §4.4):
// if the enclave reports a key as absent, the sealed backup is loaded from
// the durable store and re-imported into the enclave, then the original
// call is retried exactly once. A second not-found is a hard failure.
type Restorer struct {
	Enclave *Client
	Backups store.BackupStore
}

// restoreFromBackup loads identityID's sealed backup and imports it back
// into the enclave. Absent backup is a hard 409 (spec: "key-not-present-and-
// no-backup").
func (r *Restorer) restoreFromBackup(ctx context.Context, identityID string) error {
	backup, ok, err := r.Backups.Get(ctx, identityID)
	if err != nil {
		return apierrors.Internal("failed to read backup", err)
	}
	if !ok {
		return apierrors.Conflict("key-not-present-and-no-backup", "no backup available to restore key")
	}
	return r.Enclave.Import(ctx, identityID, backup.Alg, backup.SealedKey)
}

// Sign calls the enclave's Sign, transparently restoring from backup and
// retrying exactly once if the key was not resident.
func (r *Restorer) Sign(ctx context.Context, identityID, digest, ticketToken, alg string) (domain.Signature, error) {
	sig, err := r.Enclave.Sign(ctx, identityID, digest, ticketToken, alg)
	if err == nil || !IsNotFound(err) {
		return sig, err
	}

	if restoreErr := r.restoreFromBackup(ctx, identityID); restoreErr != nil {
		return domain.Signature{}, restoreErr
	}

	sig, err = r.Enclave.Sign(ctx, identityID, digest, ticketToken, alg)
	if err != nil {
		if IsNotFound(err) {
			return domain.Signature{}, apierrors.Upstream("key missing from enclave after restore", err)
		}
		return domain.Signature{}, err
	}
	return sig, nil
}

// Destroy calls the enclave's Destroy, restoring from backup first on 404 so
// that any leaked in-memory copy in a recovered enclave instance is also
// wiped before the store's identity row is marked destroyed (spec §4.4
// "Destroy flow").
func (r *Restorer) Destroy(ctx context.Context, identityID string) error {
	err := r.Enclave.Destroy(ctx, identityID)
	if err == nil || !IsNotFound(err) {
		return err
	}

	if restoreErr := r.restoreFromBackup(ctx, identityID); restoreErr != nil {
		return restoreErr
	}

	err = r.Enclave.Destroy(ctx, identityID)
	if err != nil && IsNotFound(err) {
		return apierrors.Upstream("key missing from enclave after restore", err)
	}
	return err
}
