// Package taxis serves the admin registry over HTTP.
package taxis

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kilianp07/seta/core/logger"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/registry"
)

// NewHandler returns the registry routes:
//
//	POST   /taxis                  register a taxi
//	GET    /taxis                  list registered taxis
//	DELETE /taxis/{id}             deregister a taxi
//	POST   /taxis/{id}/statistics  load a statistics report
//	GET    /taxis/{id}/statistics  reports and summary of a taxi
func NewHandler(reg registry.Admin, log logger.Logger) http.Handler {
	h := &handler{reg: reg, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /taxis", h.register)
	mux.HandleFunc("GET /taxis", h.list)
	mux.HandleFunc("DELETE /taxis/{id}", h.deregister)
	mux.HandleFunc("POST /taxis/{id}/statistics", h.loadStatistics)
	mux.HandleFunc("GET /taxis/{id}/statistics", h.statistics)
	return mux
}

type handler struct {
	reg registry.Admin
	log logger.Logger
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var id model.TaxiIdentity
	if err := json.NewDecoder(r.Body).Decode(&id); err != nil {
		http.Error(w, fmt.Sprintf("decode taxi: %v", err), http.StatusBadRequest)
		return
	}
	reg, err := h.reg.Register(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.log.Infof("registered taxi %d at %s", id.ID, reg.Position)
	writeJSON(w, http.StatusCreated, reg)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.List(r.Context()))
}

func (h *handler) deregister(w http.ResponseWriter, r *http.Request) {
	id, ok := taxiID(w, r)
	if !ok {
		return
	}
	if err := h.reg.Deregister(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	h.log.Infof("deregistered taxi %d", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) loadStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := taxiID(w, r)
	if !ok {
		return
	}
	var st model.Statistics
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		http.Error(w, fmt.Sprintf("decode statistics: %v", err), http.StatusBadRequest)
		return
	}
	if st.TaxiID != id {
		http.Error(w, "taxi id mismatch", http.StatusBadRequest)
		return
	}
	if err := h.reg.LoadStatistics(r.Context(), st); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) statistics(w http.ResponseWriter, r *http.Request) {
	id, ok := taxiID(w, r)
	if !ok {
		return
	}
	rep, err := registry.ReportOf(r.Context(), h.reg, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, registry.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.log.Warnf("registry request failed: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func taxiID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid taxi id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
