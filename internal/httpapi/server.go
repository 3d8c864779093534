// Package httpapi is the client-facing HTTP surface (spec §6): challenge
// auth, identity lifecycle, sign-intent/sign/sign-batch, audit listing, and
// the internal bot-resolution route. Grounded on the teacher's
// cmd/gateway router wiring (gorilla/mux, one handler-factory function per
// route) and internal/middleware/auth.go's bearer-token middleware shape.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/app"
	"github.com/keyvault-labs/custodian/internal/httputil"
	"github.com/keyvault-labs/custodian/internal/session"
)

// Server hosts the API service's client-facing and internal-bot routes.
type Server struct {
	App *app.Application
	Log *logrus.Logger
}

// Router builds the gorilla/mux router for every route in spec §6.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/v1/auth/challenge", s.handleCreateChallenge).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/verify", s.handleVerifyChallenge).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.requireSession)
	authed.HandleFunc("/v1/identities", s.handleCreateIdentity).Methods(http.MethodPost)
	authed.HandleFunc("/v1/identities/{id}/sign-intent", s.handleSignIntent).Methods(http.MethodPost)
	authed.HandleFunc("/v1/identities/{id}/sign", s.handleSign).Methods(http.MethodPost)
	authed.HandleFunc("/v1/identities/{id}/sign-batch", s.handleSignBatch).Methods(http.MethodPost)
	authed.HandleFunc("/v1/identities/{id}", s.handleDestroyIdentity).Methods(http.MethodDelete)
	authed.HandleFunc("/v1/audit", s.handleListAudit).Methods(http.MethodGet)

	internal := r.NewRoute().Subrouter()
	internal.Use(s.requireInternalKey)
	internal.HandleFunc("/internal/challenges/{id}/resolve", s.handleResolveChallenge).Methods(http.MethodPost)

	return r
}

type contextKey string

const sessionClaimsKey contextKey = "session-claims"

// requireSession extracts and verifies the bearer session token, storing its
// claims in the request context for downstream handlers.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httputil.WriteError(w, apierrors.Unauthenticated("missing bearer session token"))
			return
		}
		claims, err := s.App.Sessions.Verify(token)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

func claimsFromContext(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(sessionClaimsKey).(*session.Claims)
	return claims
}

// requireInternalKey guards the bot-resolution route with the same shared
// secret used for the API-to-enclave channel (spec §6, "Chat bot
// collaborator"). When no internal key is configured the route is
// not-implemented rather than silently open.
func (s *Server) requireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.App.Config.InternalAPIKey == "" {
			httputil.WriteError(w, apierrors.NotImplemented("bot-resolution route requires INTERNAL_API_KEY"))
			return
		}
		key := r.Header.Get("x-internal-api-key")
		if key == "" || key != s.App.Config.InternalAPIKey {
			httputil.WriteError(w, apierrors.Unauthenticated("missing or invalid internal api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "service": "api"})
}

// logOutcome is the one-line-per-request logging convention from §AMBIENT:
// Info on success, Warn on a rejected (4xx) request, Error on 5xx.
func (s *Server) logOutcome(r *http.Request, action string, userID, identityID string, err error) {
	entry := s.Log.WithFields(logrus.Fields{
		"action":      action,
		"user_id":     userID,
		"identity_id": identityID,
	})
	if err == nil {
		entry.Info("request succeeded")
		return
	}
	se, ok := apierrors.As(err)
	if ok && se.HTTPStatus() < 500 {
		entry.WithError(err).Warn("request rejected")
		return
	}
	entry.WithError(err).Error("request failed")
}
