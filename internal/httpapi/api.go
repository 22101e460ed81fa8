package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"taskgrid.org/internal/auth"
	"taskgrid.org/internal/obs"
)

// ReadyProbe checks readiness of downstream dependencies.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	auth       *auth.Service
	engine     *auth.Engine
	tasks      TaskDirectory

	rateBurst  int
	ratePerSec int
}

// New wires routes for the auth surface and the guarded collaborator endpoints.
func New(rp ReadyProbe, version string, svc *auth.Service, engine *auth.Engine, tasks TaskDirectory) *API {
	if tasks == nil {
		tasks = NewMemoryTaskDirectory()
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       svc,
		engine:     engine,
		tasks:      tasks,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReady)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("GET /v1/auth/me", a.protect(auth.OpWhoAmI, a.handleWhoAmI))

	a.mux.HandleFunc("GET /v1/departments", a.protect(auth.OpDepartmentList, a.handleDepartmentList))
	a.mux.HandleFunc("POST /v1/departments", a.protect(auth.OpDepartmentCreate, a.handleDepartmentCreate))
	a.mux.HandleFunc("POST /v1/departments/{id}/members", a.protect(auth.OpMemberAssign, a.handleMemberAssign))
	a.mux.HandleFunc("GET /v1/departments/{id}/tasks", a.protect(auth.OpTaskList, a.handleTaskList))
	a.mux.HandleFunc("POST /v1/departments/{id}/tasks", a.protect(auth.OpTaskCreate, a.handleTaskCreate))
	a.mux.HandleFunc("DELETE /v1/tasks/{id}", a.protect(auth.OpTaskDelete, a.handleTaskDelete))

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "taskgrid-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
