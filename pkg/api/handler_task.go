package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/store"
)

type createTaskRequest struct {
	TaskType string                 `json:"task_type"`
	Input    map[string]interface{} `json:"input,omitempty"`
}

// createTaskHandler handles POST /api/v0/sandboxes/{name}/tasks.
// Accepts the sh/py/js/nl task types directly; create_response tasks go
// through the dedicated /agents/{name}/responses endpoint instead, so
// the response row is always created by the same caller that enqueues
// the task that drives it.
func (s *Server) createTaskHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "tasks", "create", name); err != nil {
		return httpError(c, err)
	}

	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	taskType := task.TaskType(req.TaskType)
	switch taskType {
	case task.TaskTypeSh, task.TaskTypePy, task.TaskTypeJs, task.TaskTypeNl:
	default:
		return httpError(c, sbBadRequest("task_type", "must be one of sh, py, js, nl"))
	}

	principal := principalFrom(c)
	t, err := s.store.EnqueueTask(c.Request().Context(), store.TaskRecord{
		SandboxName: name,
		TaskType:    taskType,
		Input:       req.Input,
		CreatedBy:   principal.Name,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// getTaskHandler handles GET /api/v0/sandboxes/{name}/tasks/{id}.
func (s *Server) getTaskHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "tasks", "get", name); err != nil {
		return httpError(c, err)
	}
	t, err := s.store.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	if t.SandboxName != name {
		return httpError(c, store.ErrNotFound)
	}
	return c.JSON(http.StatusOK, t)
}

// listTasksHandler handles GET /api/v0/sandboxes/{name}/tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "tasks", "list", name); err != nil {
		return httpError(c, err)
	}

	filter := store.TaskFilter{
		SandboxName: name,
		Limit:       queryInt(c, "limit", 50),
		Offset:      queryInt(c, "offset", 0),
	}
	if st := c.QueryParam("status"); st != "" {
		status := task.Status(st)
		filter.Status = &status
	}

	tasks, total, err := s.store.ListTasks(c.Request().Context(), filter)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": tasks, "total": total})
}

// countTasksHandler handles GET /api/v0/sandboxes/{name}/tasks/count.
func (s *Server) countTasksHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "tasks", "list", name); err != nil {
		return httpError(c, err)
	}

	filter := store.TaskFilter{SandboxName: name}
	if st := c.QueryParam("status"); st != "" {
		status := task.Status(st)
		filter.Status = &status
	}

	count, err := s.store.CountTasks(c.Request().Context(), filter)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

type updateTaskRequest struct {
	ErrorMessage *string `json:"error,omitempty"`
}

// updateTaskHandler handles PUT /api/v0/sandboxes/{name}/tasks/{id}.
// Limited to the error annotation a caller may attach; status and
// output are owned exclusively by the worker executing the task.
func (s *Server) updateTaskHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "tasks", "update", name); err != nil {
		return httpError(c, err)
	}

	var req updateTaskRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	t, err := s.store.UpdateTask(c.Request().Context(), c.Param("id"), store.TaskUpdate{ErrorMessage: req.ErrorMessage})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// cancelTaskHandler handles POST /api/v0/sandboxes/{name}/tasks/{id}/cancel.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "tasks", "update", name); err != nil {
		return httpError(c, err)
	}
	if err := s.store.CancelTask(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}
