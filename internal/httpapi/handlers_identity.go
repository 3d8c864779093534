package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/httputil"
)

// rateLimitKey enforces the sliding-window buckets spec §4.5 defines, with
// the limit the caller passes in: handlers pass the per-identity-sign limit
// for identity:{id}:sign and the per-user limit for every other key.
func (s *Server) rateLimitKey(key string, limit int) error {
	if !s.App.RateLimit.Allow(key, limit, s.App.Config.RateLimitWindow) {
		return apierrors.RateLimited("rate limit exceeded")
	}
	return nil
}

type createIdentityRequest struct {
	Alg string `json:"alg,omitempty"`
}

func (s *Server) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req createIdentityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.create", claims.UserID, "", err)
		return
	}

	if err := s.rateLimitKey("user:"+claims.UserID+":identity_create", s.App.Config.RateLimitPerUser); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.create", claims.UserID, "", err)
		return
	}

	ident, err := s.App.Identity.Create(r.Context(), claims.UserID, req.Alg)
	if err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.create", claims.UserID, "", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, ident)
	s.logOutcome(r, "identity.create", claims.UserID, ident.ID, nil)
}

type signIntentRequest struct {
	Digest string `json:"digest"`
	Scope  string `json:"scope,omitempty"`
}

type signIntentResponse struct {
	ID         string `json:"id"`
	DigestHash string `json:"digest_hash"`
	Nonce      string `json:"nonce"`
	ExpiresAt  string `json:"expires_at"`
	Ticket     string `json:"ticket"`
}

func (s *Server) handleSignIntent(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	identityID := mux.Vars(r)["id"]

	var req signIntentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.sign_intent", claims.UserID, identityID, err)
		return
	}

	if err := s.rateLimitKey("user:"+claims.UserID+":sign_intent", s.App.Config.RateLimitPerUser); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.sign_intent", claims.UserID, identityID, err)
		return
	}

	result, err := s.App.Identity.SignIntent(r.Context(), claims.UserID, identityID, req.Digest, req.Scope)
	if err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.sign_intent", claims.UserID, identityID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, signIntentResponse{
		ID:         result.Ticket.ID,
		DigestHash: result.Ticket.DigestHash,
		Nonce:      result.Ticket.Nonce,
		ExpiresAt:  result.Ticket.ExpiresAt.Format(rfc3339),
		Ticket:     result.Token,
	})
	s.logOutcome(r, "identity.sign_intent", claims.UserID, identityID, nil)
}

type signRequest struct {
	Digest string `json:"digest"`
	Ticket string `json:"ticket"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	identityID := mux.Vars(r)["id"]

	var req signRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.sign", claims.UserID, identityID, err)
		return
	}

	if err := s.rateLimitKey("identity:"+identityID+":sign", s.App.Config.RateLimitPerIdentity); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.sign", claims.UserID, identityID, err)
		return
	}

	sig, err := s.App.Identity.Sign(r.Context(), claims.UserID, identityID, req.Digest, req.Ticket)
	if err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.sign", claims.UserID, identityID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, sig)
	s.logOutcome(r, "identity.sign", claims.UserID, identityID, nil)
}

type signBatchDigest struct {
	Digest string `json:"digest"`
}

type signBatchRequest struct {
	Digests []signBatchDigest `json:"digests"`
}

type signBatchResponse struct {
	Signatures []domain.Signature `json:"signatures"`
}

func (s *Server) handleSignBatch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	identityID := mux.Vars(r)["id"]

	var req signBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.sign_batch", claims.UserID, identityID, err)
		return
	}
	if len(req.Digests) == 0 {
		err := apierrors.Validation("digests must be a non-empty array")
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.sign_batch", claims.UserID, identityID, err)
		return
	}

	digests := make([]string, len(req.Digests))
	for i, d := range req.Digests {
		digests[i] = d.Digest
	}

	sigs, err := s.App.Identity.SignBatch(r.Context(), claims.UserID, identityID, digests)
	if err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.sign_batch", claims.UserID, identityID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, signBatchResponse{Signatures: sigs})
	s.logOutcome(r, "identity.sign_batch", claims.UserID, identityID, nil)
}

func (s *Server) handleDestroyIdentity(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	identityID := mux.Vars(r)["id"]

	if err := s.rateLimitKey("identity:"+identityID+":destroy", s.App.Config.RateLimitPerUser); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.destroy", claims.UserID, identityID, err)
		return
	}

	if err := s.App.Identity.Destroy(r.Context(), claims.UserID, identityID); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "identity.destroy", claims.UserID, identityID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	s.logOutcome(r, "identity.destroy", claims.UserID, identityID, nil)
}
