package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keyvault-labs/custodian/internal/app"
	"github.com/keyvault-labs/custodian/internal/config"
	"github.com/keyvault-labs/custodian/internal/enclaveclient"
	"github.com/keyvault-labs/custodian/internal/enclavesrv"
	"github.com/keyvault-labs/custodian/internal/sealing"
	"github.com/keyvault-labs/custodian/internal/store/memory"
	"github.com/keyvault-labs/custodian/internal/ticket"
)

const testInternalKey = "internal-test-key"

// newTestServer wires a live enclavesrv behind httptest and a full
// httpapi.Server in front of an in-memory store, mirroring how cmd/api
// composes the two processes, but in a single test binary.
func newTestServer(t *testing.T) (*Server, *enclavesrv.KeyStore) {
	t.Helper()

	keys := enclavesrv.NewKeyStore()
	nonces := enclavesrv.NewNonceLedger()
	ticketIssuer := &ticket.Issuer{Secret: "ticket-secret"}
	sealer, err := sealing.NewAESSealer(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewAESSealer: %v", err)
	}
	enclaveSrv := &enclavesrv.Server{
		Keys:           keys,
		Nonces:         nonces,
		Signer:         &enclavesrv.Signer{Keys: keys, Nonces: nonces, Tickets: ticketIssuer},
		Sealer:         sealer,
		InternalAPIKey: testInternalKey,
		Log:            logrus.New(),
	}
	enclaveHTTP := httptest.NewServer(enclaveSrv.Router())
	t.Cleanup(enclaveHTTP.Close)

	client, err := enclaveclient.New(enclaveclient.Config{
		BaseURL:        enclaveHTTP.URL,
		InternalAPIKey: testInternalKey,
	})
	if err != nil {
		t.Fatalf("enclaveclient.New: %v", err)
	}

	cfg := config.APIConfig{
		SessionSigningSecret: "session-secret",
		TicketSigningSecret:  "ticket-secret",
		TicketTTL:             time.Minute,
		SessionTTL:            time.Hour,
		ChallengeTTL:          time.Minute,
		RateLimitWindow:       time.Minute,
		RateLimitPerUser:      1000,
		RateLimitPerIdentity:  1000,
	}
	application := app.New(cfg, app.Deps{Store: memory.New(), Log: logrus.New(), Enclave: client})

	return &Server{App: application, Log: logrus.New()}, keys
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
}

// authenticate runs create-challenge -> verify in test mode (no bot
// configured, external_id supplied at creation) and returns the session
// token.
func authenticate(t *testing.T, router http.Handler, externalID string) string {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/v1/auth/challenge", "", map[string]string{"external_id": externalID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create-challenge status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created createChallengeResponse
	decodeJSON(t, rec, &created)

	rec = doJSON(t, router, http.MethodPost, "/v1/auth/verify", "", map[string]string{"challenge_id": created.ChallengeID})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var verified verifyChallengeResponse
	decodeJSON(t, rec, &verified)
	return verified.Token
}

func TestHappyPathSigningScenario(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	token := authenticate(t, router, "chat-user-1")

	rec := doJSON(t, router, http.MethodPost, "/v1/identities", token, map[string]string{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create identity status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var ident struct {
		ID        string `json:"id"`
		PublicKey string `json:"public_key"`
	}
	decodeJSON(t, rec, &ident)
	if len(ident.PublicKey) != 66 {
		t.Fatalf("PublicKey len = %d, want 66", len(ident.PublicKey))
	}

	digest := repeatHex("aa", 32)
	rec = doJSON(t, router, http.MethodPost, "/v1/identities/"+ident.ID+"/sign-intent", token, map[string]string{"digest": digest})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sign-intent status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var intent signIntentResponse
	decodeJSON(t, rec, &intent)

	rec = doJSON(t, router, http.MethodPost, "/v1/identities/"+ident.ID+"/sign", token, map[string]string{"digest": digest, "ticket": intent.Ticket})
	if rec.Code != http.StatusOK {
		t.Fatalf("sign status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sig struct {
		Signature string `json:"signature"`
	}
	decodeJSON(t, rec, &sig)
	if len(sig.Signature) != 128 {
		t.Fatalf("Signature len = %d, want 128", len(sig.Signature))
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/identities/"+ident.ID+"/sign", token, map[string]string{"digest": digest, "ticket": intent.Ticket})
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay sign status = %d, want 409, body = %s", rec.Code, rec.Body.String())
	}
}

func TestVerifyUnresolvedChallengeReturns202(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	// No external_id at creation and no bot configured means the challenge
	// stays unresolved.
	rec := doJSON(t, router, http.MethodPost, "/v1/auth/challenge", "", map[string]string{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create-challenge status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created createChallengeResponse
	decodeJSON(t, rec, &created)

	rec = doJSON(t, router, http.MethodPost, "/v1/auth/verify", "", map[string]string{"challenge_id": created.ChallengeID})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("verify status = %d, want 202, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCreateIdentityWithoutSessionIsUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/identities", "", map[string]string{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDestroyIsFinal(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	token := authenticate(t, router, "chat-user-2")

	rec := doJSON(t, router, http.MethodPost, "/v1/identities", token, map[string]string{})
	var ident struct {
		ID string `json:"id"`
	}
	decodeJSON(t, rec, &ident)

	rec = doJSON(t, router, http.MethodDelete, "/v1/identities/"+ident.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("destroy status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/identities/"+ident.ID+"/sign-intent", token, map[string]string{"digest": repeatHex("bb", 32)})
	if rec.Code != http.StatusConflict {
		t.Fatalf("sign-intent after destroy status = %d, want 409, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/audit", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var page auditListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal audit page: %v", err)
	}
	if page.Count == 0 {
		t.Fatalf("expected at least one audit event")
	}
}

func TestDigestWrongLengthIsValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	token := authenticate(t, router, "chat-user-3")

	rec := doJSON(t, router, http.MethodPost, "/v1/identities", token, map[string]string{})
	var ident struct {
		ID string `json:"id"`
	}
	decodeJSON(t, rec, &ident)

	rec = doJSON(t, router, http.MethodPost, "/v1/identities/"+ident.ID+"/sign-intent", token, map[string]string{"digest": repeatHex("aa", 31)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short digest status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}
