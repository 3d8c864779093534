// Package challenge implements the challenge/session state machine (spec
// §4.1): create-challenge, resolve-challenge (bot-driven, first-writer-wins),
// and verify (mints a session token). Grounded on the teacher's
// internal/app/httpapi challenge-polling handlers, generalized from polling
// a Supabase row to a store.ChallengeStore-backed state machine with an
// explicit resolve outcome (resolved, already-resolved, already-consumed,
// not-found).
package challenge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/session"
	"github.com/keyvault-labs/custodian/internal/store"
)

// Machine orchestrates challenge creation, bot resolution, and verification.
type Machine struct {
	Store        store.Store
	Sessions     *session.Issuer
	ChallengeTTL time.Duration
	// BotConfigured mirrors whether INTERNAL_API_KEY / a bot integration is
	// wired up. When false (test mode) and external_id is supplied at
	// creation, the challenge auto-resolves instead of waiting on the bot.
	BotConfigured bool
	// DeepLinkBase, when set, is used to build the deep_link returned to
	// callers that must hand off to the chat bot out-of-band.
	DeepLinkBase string
}

// CreateResult is the response shape for create-challenge.
type CreateResult struct {
	ChallengeID string
	ExpiresAt   time.Time
	DeepLink    string
}

// Create allocates a fresh challenge. If the bot is not configured and
// externalID is supplied, the challenge is atomically resolved at creation.
func (m *Machine) Create(ctx context.Context, externalID string) (CreateResult, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	ch := domain.Challenge{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ChallengeTTL),
	}

	autoResolve := !m.BotConfigured && externalID != ""
	if autoResolve {
		ch.ExternalID = externalID
	}

	if err := m.Store.Challenges().Create(ctx, ch); err != nil {
		return CreateResult{}, apierrors.Internal("failed to create challenge", err)
	}

	result := CreateResult{ChallengeID: id, ExpiresAt: ch.ExpiresAt}
	if !autoResolve {
		if m.DeepLinkBase != "" {
			result.DeepLink = m.DeepLinkBase + "?challenge_id=" + id
		}
	}
	return result, nil
}

// Resolve outcomes, re-exported from store for callers that don't want to
// import store directly.
const (
	ResolveOK              = store.ResolveOK
	ResolveAlreadyResolved = store.ResolveAlreadyResolved
	ResolveAlreadyConsumed = store.ResolveAlreadyConsumed
	ResolveNotFound        = store.ResolveNotFound
)

// Resolve is called by the bot collaborator (or, in test mode, never — Create
// handles the auto-resolve case directly) to bind externalID to a pending
// challenge. First writer wins.
func (m *Machine) Resolve(ctx context.Context, challengeID, externalID string) (string, error) {
	status, err := m.Store.Challenges().Resolve(ctx, challengeID, externalID)
	if err != nil {
		return "", apierrors.Internal("failed to resolve challenge", err)
	}
	return status, nil
}

// VerifyResult is the response shape for verify.
type VerifyResult struct {
	Token     string
	ExpiresAt time.Time
	User      domain.User
}

// Verify consumes a resolved challenge and mints a session token.
func (m *Machine) Verify(ctx context.Context, challengeID string) (VerifyResult, error) {
	ch, state, err := m.Store.Challenges().Get(ctx, challengeID)
	if err != nil {
		return VerifyResult{}, apierrors.Internal("failed to load challenge", err)
	}

	switch state {
	case store.ChallengeNotFound:
		return VerifyResult{}, apierrors.NotFound("challenge not found or expired")
	case store.ChallengeNotYetResolved:
		return VerifyResult{}, apierrors.NotYetResolved("challenge not yet resolved")
	}

	user, created, err := m.Store.Users().CreateOrGetByExternalID(ctx, ch.ExternalID)
	if err != nil {
		return VerifyResult{}, apierrors.Internal("failed to resolve user", err)
	}

	if err := m.Store.Challenges().MarkConsumed(ctx, challengeID); err != nil {
		return VerifyResult{}, apierrors.Internal("failed to mark challenge consumed", err)
	}

	if created {
		if err := m.Store.Audit().Append(ctx, domain.AuditEvent{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Action:    domain.ActionUserCreate,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return VerifyResult{}, apierrors.Internal("failed to append audit event", err)
		}
	}

	token, expiresAt, err := m.Sessions.Mint(user.ID, user.ExternalID)
	if err != nil {
		return VerifyResult{}, err
	}

	if err := m.Store.Audit().Append(ctx, domain.AuditEvent{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Action:    domain.ActionSessionCreate,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return VerifyResult{}, apierrors.Internal("failed to append audit event", err)
	}

	return VerifyResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}
