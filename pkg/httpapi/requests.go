package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meshfed/gatewayd/pkg/broker"
	"github.com/meshfed/gatewayd/pkg/connection"
	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/types"
)

// admissionRecordBody is the wire shape of GET /manage/requests entries.
type admissionRecordBody struct {
	MessageID       string `json:"messageId"`
	NetworkID       string `json:"networkId"`
	Sent            bool   `json:"sent"`
	RequiresPolling bool   `json:"requiresPolling"`
	Status          string `json:"status"`
}

func recordBody(r *types.AdmissionRecord) admissionRecordBody {
	return admissionRecordBody{
		MessageID:       r.MessageID,
		NetworkID:       r.NetworkID,
		Sent:            r.Sent,
		RequiresPolling: r.RequiresPolling,
		Status:          string(r.Status),
	}
}

// listRequests implements GET /manage/requests?sent&status=..., listing
// across every network since admission records carry their own.
func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	networks, err := s.engine.Store.ListNetworks()
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filterSent := q.Has("sent")
	status := q.Get("status")

	out := make([]admissionRecordBody, 0)
	for _, n := range networks {
		records, err := s.engine.Store.ListMessages(n.NetworkID)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, rec := range records {
			if filterSent && !rec.Sent {
				continue
			}
			if status != "" && string(rec.Status) != status {
				continue
			}
			out = append(out, recordBody(rec))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type decideRequestBody struct {
	Approve       bool   `json:"approve"`
	Justification string `json:"justification,omitempty"`
}

// decideRequest implements PATCH /manage/requests/{id}.
func (s *Server) decideRequest(w http.ResponseWriter, r *http.Request) {
	var body decideRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if err := s.engine.Admission.Decide(r.Context(), r.PathValue("id"), body.Approve, body.Justification); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendMessageRequest is the body of POST /manage/messages.
type sendMessageRequest struct {
	Message    json.RawMessage `json:"message"`
	Broadcast  bool            `json:"broadcast,omitempty"`
	TargetNode string          `json:"targetNode,omitempty"`
}

type sendMessageResponse struct {
	DeliveredCount int               `json:"deliveredCount"`
	Responses      []json.RawMessage `json:"responses"`
}

// sendMessage implements POST /manage/messages: sends or broadcasts an
// operator-authored envelope and collects whatever responses the
// broker's response stream carries within the broker timeout.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}

	var env message.Envelope
	if err := json.Unmarshal(req.Message, &env); err != nil {
		writeError(w, fmt.Errorf("%w: %v", message.ErrParsing, err))
		return
	}
	if env.Metadata.MessageID == "" {
		env.Metadata.MessageID = uuid.NewString()
	}
	if env.Metadata.Timestamp.IsZero() {
		env.Metadata.Timestamp = time.Now()
	}
	if env.Metadata.NodeID == "" {
		env.Metadata.NodeID = s.engine.Config.NodeID
	}

	if cfg, err := s.engine.Registry.Lookup(env.MessageType); err == nil && cfg.IsResponseOnly() {
		writeError(w, fmt.Errorf("%w: %s is a response-only message type and cannot be originated", errBadRequest, env.MessageType))
		return
	}

	sender := connection.EnvelopeSender{Manager: s.engine.Connection}

	delivered := 0
	if req.Broadcast {
		n, err := sender.Broadcast(&env, env.Metadata.NetworkID)
		if err != nil {
			writeError(w, err)
			return
		}
		delivered = n
	} else {
		node, err := s.engine.Store.GetNode(env.Metadata.NetworkID, req.TargetNode)
		if err != nil {
			writeError(w, err)
			return
		}
		if !node.Approved {
			writeError(w, connection.ErrNodeNotApproved)
			return
		}
		if err := sender.Send(&env, node); err != nil {
			writeError(w, err)
			return
		}
		delivered = 1
	}

	responses := collectResponses(r.Context(), s.engine.Broker, env.Metadata.MessageID, s.engine.Config.BrokerTimeout)
	writeJSON(w, http.StatusOK, sendMessageResponse{DeliveredCount: delivered, Responses: responses})
}

// collectResponses drains the broker's response stream for messageID
// until timeout elapses, returning every response that arrived —
// the same bounded-collection-window pattern pkg/routing and
// pkg/connection use for proxy chain discovery.
func collectResponses(ctx context.Context, brk broker.Broker, messageID string, timeout time.Duration) []json.RawMessage {
	deadline := time.Now().Add(timeout)
	responses := make([]json.RawMessage, 0)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		raw, err := brk.ResponseStream(ctx, messageID, remaining)
		if err != nil {
			break
		}
		responses = append(responses, json.RawMessage(raw))
	}
	return responses
}
