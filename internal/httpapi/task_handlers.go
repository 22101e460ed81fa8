package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"taskgrid.org/internal/audit"
	"taskgrid.org/internal/auth"
	"taskgrid.org/internal/ids"
)

// Task is a unit of work inside a department.
type Task struct {
	ID           string    `json:"id"`
	DepartmentID string    `json:"department_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// TaskDirectory stores tasks. The HTTP layer is the only consumer; the
// decision engine never touches task contents.
type TaskDirectory interface {
	Create(ctx context.Context, task Task) (Task, error)
	ListByDepartment(ctx context.Context, departmentID string) ([]Task, error)
	Find(ctx context.Context, id string) (Task, error)
	Delete(ctx context.Context, id string) error
}

// MemoryTaskDirectory is the in-process TaskDirectory.
type MemoryTaskDirectory struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewMemoryTaskDirectory() *MemoryTaskDirectory {
	return &MemoryTaskDirectory{tasks: make(map[string]Task)}
}

func (d *MemoryTaskDirectory) Create(ctx context.Context, task Task) (Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if task.ID == "" {
		task.ID = ids.New()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	d.tasks[task.ID] = task
	return task, nil
}

func (d *MemoryTaskDirectory) ListByDepartment(ctx context.Context, departmentID string) ([]Task, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Task, 0)
	for _, t := range d.tasks {
		if t.DepartmentID == departmentID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *MemoryTaskDirectory) Find(ctx context.Context, id string) (Task, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tasks[id]
	if !ok {
		return Task{}, auth.ErrNotFound
	}
	return t, nil
}

func (d *MemoryTaskDirectory) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tasks[id]; !ok {
		return auth.ErrNotFound
	}
	delete(d.tasks, id)
	return nil
}

type createTaskRequest struct {
	Title        string `json:"title" validate:"required,min=1,max=500"`
	Description  string `json:"description" validate:"max=4000"`
	DepartmentID string `json:"departmentId" validate:"omitempty"`
}

type createDepartmentRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

type assignMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=ADMIN VIEWER"`
}

func (a *API) handleDepartmentList(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	departments, err := a.auth.Departments(r.Context(), principal.OrganizationID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": departments})
}

func (a *API) handleDepartmentCreate(w http.ResponseWriter, r *http.Request) {
	var req createDepartmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	dept, err := a.auth.CreateDepartment(r.Context(), principal.OrganizationID, req.Name)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "department.created", map[string]any{
		"department_id": dept.ID,
	})
	writeJSON(w, http.StatusCreated, dept)
}

func (a *API) handleMemberAssign(w http.ResponseWriter, r *http.Request) {
	var req assignMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	departmentID := r.PathValue("id")
	grant, err := a.auth.AssignRole(r.Context(), req.UserID, role, departmentID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "member.assigned", map[string]any{
		"target_user_id": req.UserID,
		"department_id":  departmentID,
		"role":           string(role),
	})
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) handleTaskList(w http.ResponseWriter, r *http.Request) {
	departmentID := r.PathValue("id")
	tasks, err := a.tasks.ListByDepartment(r.Context(), departmentID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (a *API) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	departmentID := req.DepartmentID
	if departmentID == "" {
		departmentID = r.PathValue("id")
	}

	task, err := a.tasks.Create(r.Context(), Task{
		DepartmentID: departmentID,
		Title:        req.Title,
		Description:  req.Description,
		CreatedBy:    principal.UserID,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "task.created", map[string]any{
		"task_id":       task.ID,
		"department_id": task.DepartmentID,
	})
	writeJSON(w, http.StatusCreated, task)
}

func (a *API) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.tasks.Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "task not found")
			return
		}
		writeAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "task.deleted", map[string]any{
		"task_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
