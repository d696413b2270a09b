package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"

	"github.com/pubkit/adcoord/auction"
	"github.com/pubkit/adcoord/partners"
)

// NewStatusEndpoint returns a basic liveness probe.
func NewStatusEndpoint() httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewPartnerStatusEndpoint serves the partner orchestrator's current state.
func NewPartnerStatusEndpoint(po *partners.Orchestrator) httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, po.Snapshot())
	}
}

// NewAuctionStateEndpoint serves a unit's live auction state, 404 when none.
func NewAuctionStateEndpoint(ao *auction.Orchestrator) httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
		unitID := ps.ByName("unitId")
		snap, found := ao.State(unitID)
		if !found {
			http.Error(w, "no live auction state for unit "+unitID, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// NewAuctionHistoryEndpoint serves a unit's archived auction states.
func NewAuctionHistoryEndpoint(ao *auction.Orchestrator) httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
		writeJSON(w, http.StatusOK, ao.History(ps.ByName("unitId")))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		glog.Errorf("failed to encode status response: %v", err)
	}
}
