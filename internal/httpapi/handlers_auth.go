package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/httputil"
)

type createChallengeRequest struct {
	ExternalID string `json:"external_id,omitempty"`
}

type createChallengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	ExpiresAt   string `json:"expires_at"`
	DeepLink    string `json:"deep_link,omitempty"`
}

func (s *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req createChallengeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "auth.create_challenge", "", "", err)
		return
	}

	result, err := s.App.Challenge.Create(r.Context(), req.ExternalID)
	if err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "auth.create_challenge", "", "", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, createChallengeResponse{
		ChallengeID: result.ChallengeID,
		ExpiresAt:   result.ExpiresAt.Format(rfc3339),
		DeepLink:    result.DeepLink,
	})
	s.logOutcome(r, "auth.create_challenge", "", "", nil)
}

type verifyChallengeRequest struct {
	ChallengeID string `json:"challenge_id"`
}

type verifyUser struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}

type verifyChallengeResponse struct {
	Token     string     `json:"token"`
	ExpiresIn int64      `json:"expires_in"`
	User      verifyUser `json:"user"`
}

func (s *Server) handleVerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyChallengeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "auth.verify", "", "", err)
		return
	}
	if req.ChallengeID == "" {
		err := apierrors.Validation("challenge_id is required")
		httputil.WriteError(w, err)
		s.logOutcome(r, "auth.verify", "", "", err)
		return
	}

	result, err := s.App.Challenge.Verify(r.Context(), req.ChallengeID)
	if err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "auth.verify", "", "", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, verifyChallengeResponse{
		Token:     result.Token,
		ExpiresIn: int64(result.ExpiresAt.Sub(nowUTC()).Seconds()),
		User: verifyUser{
			ID:         result.User.ID,
			ExternalID: result.User.ExternalID,
			Status:     string(result.User.Status),
		},
	})
	s.logOutcome(r, "auth.verify", result.User.ID, "", nil)
}

type resolveChallengeRequest struct {
	ExternalID string `json:"external_id"`
}

// handleResolveChallenge is the bot collaborator's entry point (spec §6,
// "Chat bot collaborator"), guarded by requireInternalKey.
func (s *Server) handleResolveChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID := mux.Vars(r)["id"]

	var req resolveChallengeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "auth.resolve_challenge", "", "", err)
		return
	}
	if req.ExternalID == "" {
		err := apierrors.Validation("external_id is required")
		httputil.WriteError(w, err)
		s.logOutcome(r, "auth.resolve_challenge", "", "", err)
		return
	}

	status, err := s.App.Challenge.Resolve(r.Context(), challengeID, req.ExternalID)
	if err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "auth.resolve_challenge", "", "", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
	s.logOutcome(r, "auth.resolve_challenge", "", "", nil)
}
