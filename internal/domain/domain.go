// Package domain defines the persistent record types shared by the store,
// challenge, ticket, and audit packages (spec §3).
package domain

import "time"

// UserStatus is the lifecycle state of a User.
type UserStatus string

const (
	UserPending UserStatus = "pending"
	UserActive  UserStatus = "active"
)

// User ties an external chat identity to a server-side account.
type User struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	Status     UserStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IdentityStatus is the lifecycle state of an Identity.
type IdentityStatus string

const (
	IdentityActive    IdentityStatus = "active"
	IdentityDestroyed IdentityStatus = "destroyed"
)

// Identity is a named secp256k1 keypair owned by exactly one User. Its ID is
// reused as the enclave's internal key handle.
type Identity struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Alg       string         `json:"alg"`
	PublicKey string         `json:"public_key"`
	Status    IdentityStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Ticket is a single-use, digest-bound signing authorization.
type Ticket struct {
	ID         string     `json:"id"`
	IdentityID string     `json:"identity_id"`
	DigestHash string     `json:"digest_hash"`
	Scope      string     `json:"scope"`
	Nonce      string     `json:"nonce"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
}

// Challenge bridges the web flow and the out-of-band chat confirmation.
type Challenge struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// KeyBackup is the sealed ciphertext counterpart of an enclave key record.
type KeyBackup struct {
	IdentityID string    `json:"identity_id"`
	Alg        string    `json:"alg"`
	SealedKey  string    `json:"sealed_key"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AuditAction enumerates the append-only audit event kinds this service
// records.
type AuditAction string

const (
	ActionUserCreate      AuditAction = "user.create"
	ActionSessionCreate   AuditAction = "session.create"
	ActionIdentityCreate  AuditAction = "identity.create"
	ActionIdentityCreateFailed AuditAction = "identity.create_failed"
	ActionIdentitySign    AuditAction = "identity.sign"
	ActionIdentityDestroy AuditAction = "identity.destroy"
)

// AuditEvent is an append-only, never-mutated record of a notable action.
type AuditEvent struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	IdentityID string                 `json:"identity_id,omitempty"`
	Action     AuditAction            `json:"action"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Signature is the tagged-variant signing result (spec §9): Schnorr carries
// only Signature; ECDSA additionally carries R, S, V.
type Signature struct {
	Signature string `json:"signature"`
	R         string `json:"r,omitempty"`
	S         string `json:"s,omitempty"`
	V         *int   `json:"v,omitempty"`
}
