package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/meshfed/gatewayd/pkg/admission"
	"github.com/meshfed/gatewayd/pkg/types"
)

// status implements GET /service/status.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// challenge implements GET /service/challenge.
func (s *Server) challenge(w http.ResponseWriter, r *http.Request) {
	ch, err := s.engine.Admission.IssueChallenge()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

type visibleNetworkBody struct {
	admission.NetworkBody
	CentralURL string `json:"centralUrl,omitempty"`
}

// visibleNetworks implements GET /service/networks: the public summary
// of every locally visible network, resolving the central node's URL
// when the network names one.
func (s *Server) visibleNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := s.engine.Store.ListNetworks()
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]visibleNetworkBody, 0, len(networks))
	for _, n := range networks {
		if !n.Visible {
			continue
		}
		entry := visibleNetworkBody{NetworkBody: networkBody(n)}
		if n.CentralNode != "" {
			if central, err := s.engine.Store.GetNode(n.NetworkID, n.CentralNode); err == nil {
				entry.CentralURL = central.URL
			}
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRequest implements POST /service/requests: admission ingress
// for AuthRequest/AuthInvite envelopes.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	sig := r.Header.Get("Message-Signature")
	if sig == "" {
		writeError(w, errUnauthorized)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	reachable, err := s.engine.Admission.HandleRequest(r.Context(), raw, sig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "pending", "reachable": reachable})
}

// pollRequest implements POST /service/requests/{id}: the original
// requester re-presents a signature over the exact `{messageId,
// challenge}` body it sends, proving it — not a third party — is
// entitled to learn the outcome.
func (s *Server) pollRequest(w http.ResponseWriter, r *http.Request) {
	sig := r.Header.Get("Message-Signature")
	if sig == "" {
		writeError(w, errUnauthorized)
		return
	}
	id := r.PathValue("id")
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	if err := s.engine.Admission.VerifyPollSignature(id, raw, sig); err != nil {
		writeError(w, err)
		return
	}

	status, response, err := s.engine.Admission.HandlePoll(id)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]interface{}{"status": status}
	if status == types.AdmissionAccepted && len(response) > 0 {
		body["response"] = json.RawMessage(response)
	}
	writeJSON(w, http.StatusOK, body)
}

// handleResponseEnvelope implements POST /service/responses.
func (s *Server) handleResponseEnvelope(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.engine.Admission.HandleResponse(r.Context(), raw); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
