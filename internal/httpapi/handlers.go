package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/r33drichards/ip-allocator-webserver/internal/engine"
	"github.com/r33drichards/ip-allocator-webserver/internal/registry"
	"github.com/r33drichards/ip-allocator-webserver/internal/store"
)

type handlers struct {
	engine   *engine.Engine
	registry *registry.Registry
	store    store.Store
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

// engineErrorStatus maps an Engine error to the HTTP status and error
// kind from spec §6/§7.
func engineErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrPoolExhausted):
		return http.StatusNotFound, "PoolExhausted"
	case errors.Is(err, engine.ErrInvalidToken):
		return http.StatusConflict, "InvalidToken"
	case errors.Is(err, engine.ErrInvalidItem):
		return http.StatusBadRequest, "InvalidItem"
	case errors.Is(err, engine.ErrSubscriberFailed):
		return http.StatusBadGateway, "SubscriberFailed"
	case errors.Is(err, engine.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "StoreUnavailable"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

// GET /borrow?params=<url-encoded JSON>
func (h *handlers) borrow(w http.ResponseWriter, r *http.Request) {
	var params json.RawMessage
	if raw := r.URL.Query().Get("params"); raw != "" {
		// r.URL.Query().Get already fully percent-decodes the query
		// value (and folds "+" to space); a second QueryUnescape here
		// would corrupt any literal "+" or "%XX"-shaped text the
		// client's JSON happens to contain.
		params = json.RawMessage(raw)
	}

	result, opID, err := h.engine.Borrow(r.Context(), params)
	if err != nil {
		status, kind := engineErrorStatus(err)
		writeError(w, status, kind, err.Error())
		return
	}
	if opID != "" {
		writeJSON(w, http.StatusAccepted, map[string]string{"operation_id": opID})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /return {item, borrow_token, params?}
func (h *handlers) returnItem(w http.ResponseWriter, r *http.Request) {
	var req engine.ReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	result, opID, err := h.engine.Return(r.Context(), req)
	if err != nil {
		status, kind := engineErrorStatus(err)
		writeError(w, status, kind, err.Error())
		return
	}
	if opID != "" {
		writeJSON(w, http.StatusAccepted, map[string]string{"operation_id": opID})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /submit {item}
func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidItem", err.Error())
		return
	}

	result, opID, err := h.engine.Submit(r.Context(), req.Item)
	if err != nil {
		status, kind := engineErrorStatus(err)
		writeError(w, status, kind, err.Error())
		return
	}
	if opID != "" {
		writeJSON(w, http.StatusAccepted, map[string]string{"operation_id": opID})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /operations/{id}
func (h *handlers) operationStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	op, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "UnknownOperation", err.Error())
		return
	}

	resp := map[string]any{"status": op.State}
	if op.Message != "" {
		resp["message"] = op.Message
	}
	if op.Result != nil {
		resp["result"] = op.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /admin/stats
func (h *handlers) adminStats(w http.ResponseWriter, r *http.Request) {
	free, err := h.store.FreelistCount(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "StoreUnavailable", err.Error())
		return
	}
	borrowed, err := h.store.BorrowCount(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "StoreUnavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"free_count":     free,
		"borrowed_count": borrowed,
		"leaked_count":   h.engine.Metrics().Leaked(),
	})
}

// GET /admin/list
func (h *handlers) adminList(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.FreelistList(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "StoreUnavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GET /healthz reports process liveness, independent of Redis
// reachability (SPEC_FULL.md §6.2).
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz reports liveness AND a successful Store ping.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "StoreUnavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
