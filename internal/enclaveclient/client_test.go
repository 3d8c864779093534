package enclaveclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keyvault-labs/custodian/internal/apierrors"
)

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty BaseURL")
	}
}

func TestGenerateSendsInternalAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-internal-api-key")
		json.NewEncoder(w).Encode(map[string]string{"public_key": "02abcd"})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, InternalAPIKey: "secret-123"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pub, err := c.Generate(context.Background(), "identity-1", "schnorr")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if pub != "02abcd" {
		t.Errorf("PublicKey = %q, want 02abcd", pub)
	}
	if gotKey != "secret-123" {
		t.Errorf("internal api key header = %q, want secret-123", gotKey)
	}
}

func TestSignMapsNotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("identity key not found"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, InternalAPIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Sign(context.Background(), "identity-1", "aa", "token", "schnorr")
	se, ok := apierrors.As(err)
	if !ok || se.Kind != apierrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(err) = false, want true")
	}
}

func TestSignMapsConflictStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("replay"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, InternalAPIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Sign(context.Background(), "identity-1", "aa", "token", "schnorr")
	se, ok := apierrors.As(err)
	if !ok || se.Kind != apierrors.KindConflict {
		t.Fatalf("expected KindConflict, got %v", err)
	}
}
