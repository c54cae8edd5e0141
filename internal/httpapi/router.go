// Package httpapi is the thin HTTP transport adapting the table in
// spec §6 to Go handlers over the Pool Engine. Per spec §1's Non-goals,
// route parsing and OpenAPI rendering are treated as external
// collaborators; this package is only what's needed to make the Engine
// reachable and testable end-to-end, grounded on the teacher's
// modules/chimux use of go-chi/chi for routing.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/r33drichards/ip-allocator-webserver/internal/engine"
	"github.com/r33drichards/ip-allocator-webserver/internal/registry"
	"github.com/r33drichards/ip-allocator-webserver/internal/store"
)

// NewRouter builds the full route table from spec §6 plus the
// liveness/readiness endpoints added in SPEC_FULL.md §6.2.
func NewRouter(e *engine.Engine, reg *registry.Registry, st store.Store) http.Handler {
	h := &handlers{engine: e, registry: reg, store: st}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/borrow", h.borrow)
	r.Post("/return", h.returnItem)
	r.Post("/submit", h.submit)
	r.Get("/operations/{id}", h.operationStatus)
	r.Get("/admin/stats", h.adminStats)
	r.Get("/admin/list", h.adminList)
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	return r
}
