package httpapi

import (
	"net/http"
	"strconv"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/httputil"
)

type auditListResponse struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Count  int         `json:"count"`
}

// handleListAudit serves GET /v1/audit?limit&offset. A present-but-malformed
// query parameter is a validation error; an absent one falls through to
// internal/audit.Recorder's own clamping (spec §8 "limit clamped to
// [1, 200], offset >= 0; invalid values -> validation").
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	limit, err := parseOptionalInt(r.URL.Query().Get("limit"))
	if err != nil {
		err := apierrors.Validation("limit must be an integer")
		httputil.WriteError(w, err)
		s.logOutcome(r, "audit.list", claims.UserID, "", err)
		return
	}
	offset, err := parseOptionalInt(r.URL.Query().Get("offset"))
	if err != nil {
		err := apierrors.Validation("offset must be an integer")
		httputil.WriteError(w, err)
		s.logOutcome(r, "audit.list", claims.UserID, "", err)
		return
	}

	page, err := s.App.Audit.List(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		s.logOutcome(r, "audit.list", claims.UserID, "", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, auditListResponse{
		Items:  page.Items,
		Limit:  page.Limit,
		Offset: page.Offset,
		Count:  page.Count,
	})
	s.logOutcome(r, "audit.list", claims.UserID, "", nil)
}

// parseOptionalInt returns 0 for an empty string (callers treat 0 as "use
// the default"), or an error for a non-empty, non-numeric value.
func parseOptionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
