package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/meshfed/gatewayd/pkg/admission"
	"github.com/meshfed/gatewayd/pkg/types"
)

// createNetworkRequest is the body of POST /manage/networks.
type createNetworkRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visible     bool   `json:"visible"`
	Registered  bool   `json:"registered"`
	CentralNode string `json:"centralNode,omitempty"`
}

func networkBody(n *types.Network) admission.NetworkBody {
	return admission.NetworkBody{
		NetworkID:   n.NetworkID,
		Name:        n.Name,
		Description: n.Description,
		NodeIDs:     n.NodeIDs,
		Visible:     n.Visible,
		Registered:  n.Registered,
		InstanceID:  n.InstanceID,
		CentralNode: n.CentralNode,
	}
}

// listNetworks implements GET /manage/networks?visible&registered.
func (s *Server) listNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := s.engine.Store.ListNetworks()
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	onlyVisible := q.Has("visible")
	onlyRegistered := q.Has("registered")

	out := make([]admission.NetworkBody, 0, len(networks))
	for _, n := range networks {
		if onlyVisible && !n.Visible {
			continue
		}
		if onlyRegistered && !n.Registered {
			continue
		}
		out = append(out, networkBody(n))
	}
	writeJSON(w, http.StatusOK, out)
}

// createNetwork implements POST /manage/networks: on create, a fresh
// instance id is minted and both a management keypair and a node key
// are generated for it.
func (s *Server) createNetwork(w http.ResponseWriter, r *http.Request) {
	var req createNetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}

	instanceID := uuid.NewString()
	if req.CentralNode != "" && req.CentralNode != instanceID {
		writeError(w, fmt.Errorf("%w: centralNode must be this network's own instance id", errBadRequest))
		return
	}

	network := &types.Network{
		NetworkID:   uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Visible:     req.Visible,
		Registered:  req.Registered,
		InstanceID:  instanceID,
		CentralNode: req.CentralNode,
	}
	if err := s.engine.Store.CreateNetwork(network); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.KMS.GenerateManagement(admission.ManagementKeyID(network.NetworkID)); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.KMS.Generate(network.NetworkID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, networkBody(network))
}

// networkDetailBody is the response shape of GET /manage/networks/{id}:
// the network document plus its current (and, once rotated, previous)
// management public key, so operators and `gatewayd keys show` can see
// what a newly joined peer will be asked to trust.
type networkDetailBody struct {
	admission.NetworkBody
	ManagementKey         string `json:"managementKey,omitempty"`
	ManagementKeyPrevious string `json:"managementKeyPrevious,omitempty"`
}

// getNetwork implements GET /manage/networks/{id}.
func (s *Server) getNetwork(w http.ResponseWriter, r *http.Request) {
	network, err := s.engine.Store.GetNetwork(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	detail := networkDetailBody{NetworkBody: networkBody(network)}
	if pub, err := s.engine.KMS.PublicKey(admission.ManagementKeyID(network.NetworkID)); err == nil {
		detail.ManagementKey = pub
	}
	if prev, err := s.engine.KMS.PreviousPublicKey(admission.ManagementKeyID(network.NetworkID)); err == nil {
		detail.ManagementKeyPrevious = prev
	}
	writeJSON(w, http.StatusOK, detail)
}

// updateNetwork implements PATCH /manage/networks/{id}: the mutable
// fields (name, description, visible, registered) are merged into the
// stored row; identity fields (networkId, instanceId) never change.
func (s *Server) updateNetwork(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	network, err := s.engine.Store.GetNetwork(id)
	if err != nil {
		writeError(w, err)
		return
	}

	var patch createNetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}

	updated := *network
	updated.Name = patch.Name
	updated.Description = patch.Description
	updated.Visible = patch.Visible
	updated.Registered = patch.Registered
	if err := s.engine.Store.UpdateNetwork(&updated); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, networkBody(&updated))
}

// deleteNetwork implements DELETE /manage/networks/{id}.
func (s *Server) deleteNetwork(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store.DeleteNetwork(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type joinOrInviteRequest struct {
	TargetURL     string `json:"targetUrl"`
	NetworkID     string `json:"networkId"`
	Justification string `json:"justification,omitempty"`
}

// joinNetwork implements POST /manage/networks/join.
func (s *Server) joinNetwork(w http.ResponseWriter, r *http.Request) {
	var req joinOrInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if err := s.engine.Admission.Join(r.Context(), req.TargetURL, req.NetworkID, req.Justification); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// inviteNode implements POST /manage/networks/invite.
func (s *Server) inviteNode(w http.ResponseWriter, r *http.Request) {
	var req joinOrInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if err := s.engine.Admission.Invite(r.Context(), req.TargetURL, req.NetworkID, req.Justification); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
