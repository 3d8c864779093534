package challenge

import (
	"context"
	"testing"
	"time"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/session"
	"github.com/keyvault-labs/custodian/internal/store/memory"
)

func newMachine() *Machine {
	return &Machine{
		Store:         memory.New(),
		Sessions:      &session.Issuer{Secret: "session-secret", TTL: time.Hour},
		ChallengeTTL:  time.Minute,
		BotConfigured: false,
	}
}

func TestCreateAutoResolvesInTestMode(t *testing.T) {
	m := newMachine()
	ctx := context.Background()

	res, err := m.Create(ctx, "chat-user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	verify, err := m.Verify(ctx, res.ChallengeID)
	if err != nil {
		t.Fatalf("Verify after auto-resolve: %v", err)
	}
	if verify.Token == "" {
		t.Fatalf("expected non-empty session token")
	}
	if verify.User.ExternalID != "chat-user-1" {
		t.Errorf("ExternalID = %q, want chat-user-1", verify.User.ExternalID)
	}
}

func TestCreateWithoutExternalIDWaitsForResolve(t *testing.T) {
	m := newMachine()
	ctx := context.Background()

	res, err := m.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = m.Verify(ctx, res.ChallengeID)
	se, ok := apierrors.As(err)
	if !ok || se.Kind != apierrors.KindNotYetResolved {
		t.Fatalf("expected KindNotYetResolved, got %v", err)
	}

	status, err := m.Resolve(ctx, res.ChallengeID, "chat-user-2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if status != ResolveOK {
		t.Fatalf("Resolve status = %q, want %q", status, ResolveOK)
	}

	verify, err := m.Verify(ctx, res.ChallengeID)
	if err != nil {
		t.Fatalf("Verify after resolve: %v", err)
	}
	if verify.User.ExternalID != "chat-user-2" {
		t.Errorf("ExternalID = %q, want chat-user-2", verify.User.ExternalID)
	}
}

func TestResolveIsFirstWriterWins(t *testing.T) {
	m := newMachine()
	ctx := context.Background()

	res, err := m.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	status1, err := m.Resolve(ctx, res.ChallengeID, "user-a")
	if err != nil || status1 != ResolveOK {
		t.Fatalf("first Resolve: status=%q err=%v", status1, err)
	}

	status2, err := m.Resolve(ctx, res.ChallengeID, "user-b")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if status2 != ResolveAlreadyResolved {
		t.Fatalf("second Resolve status = %q, want %q", status2, ResolveAlreadyResolved)
	}
}

func TestResolveAfterConsumeIsAlreadyConsumed(t *testing.T) {
	m := newMachine()
	ctx := context.Background()

	res, err := m.Create(ctx, "user-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Verify(ctx, res.ChallengeID); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	status, err := m.Resolve(ctx, res.ChallengeID, "user-b")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if status != ResolveAlreadyConsumed {
		t.Fatalf("Resolve status = %q, want %q", status, ResolveAlreadyConsumed)
	}
}

func TestVerifyUnknownChallengeIsNotFound(t *testing.T) {
	m := newMachine()
	ctx := context.Background()

	_, err := m.Verify(ctx, "does-not-exist")
	se, ok := apierrors.As(err)
	if !ok || se.Kind != apierrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestVerifySecondTimeIsNotFound(t *testing.T) {
	m := newMachine()
	ctx := context.Background()

	res, err := m.Create(ctx, "user-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Verify(ctx, res.ChallengeID); err != nil {
		t.Fatalf("first Verify: %v", err)
	}

	_, err = m.Verify(ctx, res.ChallengeID)
	se, ok := apierrors.As(err)
	if !ok || se.Kind != apierrors.KindNotFound {
		t.Fatalf("expected KindNotFound on consumed challenge re-verify, got %v", err)
	}
}
