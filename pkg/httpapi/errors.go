package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meshfed/gatewayd/pkg/admission"
	"github.com/meshfed/gatewayd/pkg/broker"
	"github.com/meshfed/gatewayd/pkg/connection"
	"github.com/meshfed/gatewayd/pkg/kms"
	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/storage"
	"github.com/meshfed/gatewayd/pkg/transport"
)

// errorResponse is the {error: <message>} shape every failed request renders.
type errorResponse struct {
	Error string `json:"error"`
}

// errBadRequest and errUnauthorized are httpapi-local sentinels for
// request-shape problems no domain package has a name for.
var (
	errBadRequest   = errors.New("httpapi: bad request")
	errUnauthorized = errors.New("httpapi: missing or invalid Message-Signature header")
)

// statusFor maps a domain sentinel error to the HTTP status the
// specification's error taxonomy assigns it. Unrecognised errors are
// treated as internal (500).
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, broker.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, kms.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, kms.ErrKeyManagement):
		return http.StatusInternalServerError
	case errors.Is(err, transport.ErrNetworkRequestFailed):
		return http.StatusBadGateway
	case errors.Is(err, transport.ErrSSRFBlocked):
		return http.StatusBadRequest
	case errors.Is(err, admission.ErrJoiningNetwork), errors.Is(err, admission.ErrInvitingNode):
		return http.StatusBadRequest
	case errors.Is(err, admission.ErrNetworkNotFound):
		return http.StatusNotFound
	case errors.Is(err, admission.ErrNetworkMessageSig):
		return http.StatusBadRequest
	case errors.Is(err, admission.ErrChallengeInvalid), errors.Is(err, admission.ErrChallengeUnsolved):
		return http.StatusForbidden
	case errors.Is(err, connection.ErrNodeNotApproved):
		return http.StatusForbidden
	case errors.Is(err, connection.ErrNodeNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, message.ErrConfigurationNotFound):
		return http.StatusNotFound
	case errors.Is(err, message.ErrParsing):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {error: <message>} with the status its
// sentinel maps to, adding the WWW-Authenticate challenge on 401s.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Signature realm="dedi-link"`)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
