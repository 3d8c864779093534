// Package httputil provides the JSON request/response helpers shared by the
// API and enclave HTTP surfaces.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/keyvault-labs/custodian/internal/apierrors"
)

// maxBodyBytes bounds request bodies to prevent memory exhaustion, matching
// the teacher's internal/secretstore client's response-side cap.
const maxBodyBytes = 1 << 20 // 1MiB

// DecodeJSON decodes a bounded JSON request body into v. A malformed body
// surfaces as a validation error.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierrors.Wrap(apierrors.KindValidation, "malformed request body", err)
	}
	return nil
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the wire shape of an error response.
type errorBody struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// WriteError maps err to its HTTP status and writes the standard error
// envelope. Any error not already an *apierrors.Error is treated as
// KindInternal.
func WriteError(w http.ResponseWriter, err error) {
	se, ok := apierrors.As(err)
	if !ok {
		se = apierrors.Internal("unexpected error", err)
	}

	body := errorBody{}
	body.Error.Code = se.Code
	body.Error.Message = se.Message
	body.Error.Details = se.Details

	WriteJSON(w, se.HTTPStatus(), body)
}
