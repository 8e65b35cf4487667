// Package httpapi is the thin admin HTTP surface (C9): a read-mostly
// go-chi router exposing the controller's public surface to operators and
// dashboards. It carries no business logic of its own.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vbrowser-pool/controller/internal/controller"
)

// assignRequest is the body of POST /pools/{pool}/assign.
type assignRequest struct {
	RoomID string `json:"room_id"`
	UID    string `json:"uid"`
}

// Router builds the admin HTTP surface over reg.
func Router(reg *PoolRegistry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger, middleware.Recoverer)

	r.Get("/pools/{pool}/available", handleAvailable(reg))
	r.Get("/pools/{pool}/staging", handleStaging(reg))
	r.Get("/pools/{pool}/jobs/reconcile", handleReconcileStatus(reg))
	r.Post("/pools/{pool}/assign", handleAssign(reg))
	r.Post("/vms/{vmid}/reset", handleReset(reg))

	return r
}

func handleAvailable(reg *PoolRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := reg.Lookup(chi.URLParam(r, "pool"))
		if !ok {
			http.Error(w, "pool not found", http.StatusNotFound)
			return
		}
		vmids, err := p.GetAvailableVBrowsers(r.Context())
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(vmids)
	}
}

func handleStaging(reg *PoolRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := reg.Lookup(chi.URLParam(r, "pool"))
		if !ok {
			http.Error(w, "pool not found", http.StatusNotFound)
			return
		}
		vmids, err := p.GetStagingVBrowsers(r.Context())
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(vmids)
	}
}

func handleAssign(reg *PoolRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := reg.Lookup(chi.URLParam(r, "pool"))
		if !ok {
			http.Error(w, "pool not found", http.StatusNotFound)
			return
		}
		var req assignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
			http.Error(w, "room_id is required", http.StatusBadRequest)
			return
		}
		assigned, err := p.AssignVM(r.Context(), req.RoomID, req.UID)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if assigned == nil {
			http.Error(w, "no vm could be assigned", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(assigned)
	}
}

// reconcileStatusResponse is the body of GET /pools/{pool}/jobs/reconcile.
type reconcileStatusResponse struct {
	LastRun   time.Time `json:"last_run,omitempty"`
	LastErr   string    `json:"last_error,omitempty"`
	Running   bool      `json:"running"`
	Scheduled bool      `json:"scheduled"`
}

func handleReconcileStatus(reg *PoolRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := reg.Lookup(chi.URLParam(r, "pool"))
		if !ok {
			http.Error(w, "pool not found", http.StatusNotFound)
			return
		}
		lastRun, lastErr, running, scheduled := p.ReconcileStatus()
		resp := reconcileStatusResponse{LastRun: lastRun, Running: running, Scheduled: scheduled}
		if lastErr != nil {
			resp.LastErr = lastErr.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func handleReset(reg *PoolRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vmid := chi.URLParam(r, "vmid")
		pool := r.URL.Query().Get("pool")
		p, ok := reg.Lookup(pool)
		if !ok {
			http.Error(w, "pool not found", http.StatusNotFound)
			return
		}
		if err := p.ResetVM(r.Context(), vmid, r.URL.Query().Get("uid")); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
	}
}

// PoolRegistry resolves a pool name to its running PoolManager.
type PoolRegistry struct {
	pools map[string]*controller.PoolManager
}

// NewPoolRegistry builds a registry from a set of running pool managers,
// keyed by their pool identity (types.PoolConfig.Name()).
func NewPoolRegistry(pools map[string]*controller.PoolManager) *PoolRegistry {
	return &PoolRegistry{pools: pools}
}

// Lookup resolves name to a PoolManager.
func (r *PoolRegistry) Lookup(name string) (*controller.PoolManager, bool) {
	p, ok := r.pools[name]
	return p, ok
}
