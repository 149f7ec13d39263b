package webservice

import (
	"encoding/json"
	"net/http"

	"github.com/desertwitch/junknas/internal/config"
	"github.com/desertwitch/junknas/internal/mesh"
)

// meshStateHandler serves the local mesh state: self, peers, and
// mount points.
func (s *Service) meshStateHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.coord.LocalState())
}

// meshConfigGetHandler serves the full local mesh configuration,
// bootstrap list and identity included.
func (s *Service) meshConfigGetHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.store.Snapshot())
}

type meshConfigUpdate struct {
	BootstrapPeers *[]string        `json:"bootstrap_peers"`
	WGPeers        *[]config.Peer   `json:"wg_peers"`
	NodeState      config.NodeState `json:"node_state"`
}

// meshConfigPostHandler replaces the bootstrap list and/or peer list,
// with an optional node_state switch, echoing the resulting config.
func (s *Service) meshConfigPostHandler(w http.ResponseWriter, r *http.Request) {
	var update meshConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if update.BootstrapPeers != nil {
		if err := s.store.ReplaceBootstrapPeers(*update.BootstrapPeers); err != nil {
			writeError(w, err)

			return
		}
	}

	if update.WGPeers != nil {
		if err := s.store.SetPeers(*update.WGPeers); err != nil {
			writeError(w, err)

			return
		}
	}

	if update.NodeState != "" {
		if err := s.store.SetNodeState(update.NodeState); err != nil {
			writeError(w, err)

			return
		}
	}

	s.logf("mesh config replaced via API\n")
	writeJSON(w, s.store.Snapshot())
}

type meshStatusResponse struct {
	Role  mesh.Role              `json:"role"`
	Peers map[string]mesh.Status `json:"peers"`
}

// meshStatusHandler serves the derived role plus per-peer reachability.
func (s *Service) meshStatusHandler(w http.ResponseWriter, _ *http.Request) {
	role, perPeer := s.coord.DeriveStatus(s.store.Snapshot())
	writeJSON(w, meshStatusResponse{Role: role, Peers: perPeer})
}

// meshMergeHandler merges an incoming mesh-state payload and echoes
// the merged state; the merge has fully committed before the response
// is sent.
func (s *Service) meshMergeHandler(w http.ResponseWriter, r *http.Request) {
	var incoming mesh.State
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	writeJSON(w, s.coord.MergeIncoming(incoming))
}

// meshBootstrapHandler mints a join config; only a node-role host may.
func (s *Service) meshBootstrapHandler(w http.ResponseWriter, _ *http.Request) {
	doc, err := mesh.Mint(s.store)
	if err != nil {
		writeError(w, err)

		return
	}

	s.logf("minted join config for %s\n", doc.PeerWGIP)
	writeJSON(w, doc)
}

type joinRequest struct {
	mesh.JoinConfig
	AllowAlternate bool `json:"allow_alternate"`
}

// meshJoinHandler adopts a minted join config as this node's identity.
func (s *Service) meshJoinHandler(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if err := s.coord.Join(r.Context(), req.JoinConfig, req.AllowAlternate); err != nil {
		writeError(w, err)

		return
	}

	s.logf("joined mesh via %s\n", req.ServerEndpoint)
	writeJSON(w, map[string]string{"status": "ok"})
}

// meshAlternateHandler rotates a stored peer's public key, keyed by
// its overlay address.
func (s *Service) meshAlternateHandler(w http.ResponseWriter, r *http.Request) {
	var req mesh.AlternateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if err := s.coord.Alternate(req); err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

// meshSyncHandler triggers one bidirectional sync round with every
// configured bootstrap and WG peer.
func (s *Service) meshSyncHandler(w http.ResponseWriter, r *http.Request) {
	synced := s.coord.SyncOnce(r.Context())
	writeJSON(w, map[string]int{"synced": synced})
}

// meshUIHandler serves the HTML shell the dashboard mounts itself
// into; its contents are opaque to the node core.
func (s *Service) meshUIHandler(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := meshTemplate.Execute(w, map[string]any{
		"Version":   s.version,
		"NodeState": snap.NodeState,
		"CanMint":   snap.NodeState == config.NodeStateNode,
	}); err != nil {
		s.logf("HTTP template execution error: %v\n", err)
	}
}
