// Package audit is a thin wrapper around store.AuditStore for the handlers
// that append and list audit events, grounded on the teacher's
// internal/app/httpapi/audit.go auditLog/auditEntry shape, generalized to
// this service's domain.AuditEvent and per-user pagination.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/store"
)

// Recorder appends and lists audit events for a user.
type Recorder struct {
	Store store.AuditStore
}

// Record appends a new event with a generated id and current timestamp.
func (r *Recorder) Record(ctx context.Context, userID, identityID string, action domain.AuditAction, metadata map[string]interface{}) error {
	return r.Store.Append(ctx, domain.AuditEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		IdentityID: identityID,
		Action:     action,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	})
}

// Page is a paginated slice of a user's audit events, newest first.
type Page struct {
	Items  []domain.AuditEvent
	Limit  int
	Offset int
	Count  int
}

// defaultLimit and maxLimit bound GET /v1/audit's limit parameter.
const (
	defaultLimit = 20
	maxLimit     = 200
)

// List returns a newest-first page of userID's audit events. limit is
// clamped to (0, maxLimit]; a non-positive limit falls back to
// defaultLimit.
func (r *Recorder) List(ctx context.Context, userID string, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	items, count, err := r.Store.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Limit: limit, Offset: offset, Count: count}, nil
}
