package enclavesrv

import (
	"encoding/hex"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/httputil"
	"github.com/keyvault-labs/custodian/internal/sealing"
)

// InternalAPIKeyHeader is the shared-secret header guarding every enclave
// route except /health, grounded on the teacher's X-Service-ID/X-Service-Token
// service-auth middleware shape, collapsed to a single static header since
// the enclave has exactly one caller (spec §4.3).
const InternalAPIKeyHeader = "x-internal-api-key"

// Server hosts the enclave's internal HTTP surface.
type Server struct {
	Keys           *KeyStore
	Nonces         *NonceLedger
	Signer         *Signer
	Sealer         sealing.Sealer
	InternalAPIKey string
	Log            *logrus.Logger
}

// Router builds the gorilla/mux router for the enclave's internal routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(s.requireInternalKey)
	internal.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	internal.HandleFunc("/sign", s.handleSign).Methods(http.MethodPost)
	internal.HandleFunc("/destroy", s.handleDestroy).Methods(http.MethodPost)
	internal.HandleFunc("/backup/export", s.handleExport).Methods(http.MethodPost)
	internal.HandleFunc("/backup/import", s.handleImport).Methods(http.MethodPost)

	return r
}

func (s *Server) requireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(InternalAPIKeyHeader)
		if key == "" || key != s.InternalAPIKey {
			httputil.WriteError(w, apierrors.Unauthenticated("missing or invalid internal api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "service": "enclave"})
}

type generateRequest struct {
	IdentityID string `json:"identity_id"`
	Alg        string `json:"alg"`
}

type generateResponse struct {
	PublicKey string `json:"public_key"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.IdentityID == "" {
		httputil.WriteError(w, apierrors.Validation("identity_id is required"))
		return
	}
	alg := req.Alg
	if alg == "" {
		alg = AlgSchnorr
	}

	pub, err := s.Keys.Generate(req.IdentityID, alg)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, generateResponse{PublicKey: hex.EncodeToString(pub)})
}

type signRequest struct {
	IdentityID string `json:"identity_id"`
	Digest     string `json:"digest"`
	Ticket     string `json:"ticket"`
	Alg        string `json:"alg"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.IdentityID == "" {
		httputil.WriteError(w, apierrors.Validation("identity_id is required"))
		return
	}

	sig, err := s.Signer.Sign(SignParams{
		IdentityID:  req.IdentityID,
		Alg:         req.Alg,
		Digest:      req.Digest,
		TicketToken: req.Ticket,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sig)
}

type destroyRequest struct {
	IdentityID string `json:"identity_id"`
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	var req destroyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.Keys.Destroy(req.IdentityID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type exportRequest struct {
	IdentityID string `json:"identity_id"`
}

type exportResponse struct {
	Alg       string `json:"alg"`
	SealedKey string `json:"sealed_key"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	keyBytes, alg, err := s.Keys.Export(req.IdentityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sealed, err := s.Sealer.Seal(keyBytes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exportResponse{Alg: alg, SealedKey: sealed})
}

type importRequest struct {
	IdentityID string `json:"identity_id"`
	Alg        string `json:"alg"`
	SealedKey  string `json:"sealed_key"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.IdentityID == "" || req.SealedKey == "" {
		httputil.WriteError(w, apierrors.Validation("identity_id and sealed_key are required"))
		return
	}

	keyBytes, err := s.Sealer.Unseal(req.SealedKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if _, err := s.Keys.Import(req.IdentityID, req.Alg, keyBytes); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
