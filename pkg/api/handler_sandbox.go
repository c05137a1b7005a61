package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	entsandbox "github.com/raworc/tsbx/ent/sandbox"
	"github.com/raworc/tsbx/pkg/sandbox"
	"github.com/raworc/tsbx/pkg/store"
)

type createSandboxRequest struct {
	Name               string                 `json:"name"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	Tags               []string               `json:"tags,omitempty"`
	Description        string                 `json:"description,omitempty"`
	Instructions       string                 `json:"instructions,omitempty"`
	SetupScript        string                 `json:"setup_script,omitempty"`
	InitialPrompt      string                 `json:"initial_prompt,omitempty"`
	EnvSecrets         map[string]string      `json:"env_secrets,omitempty"`
	IdleTimeoutSeconds int                    `json:"idle_timeout_seconds,omitempty"`
	BusyTimeoutSeconds *int                   `json:"busy_timeout_seconds,omitempty"`
}

// createSandboxHandler handles POST /api/v0/sandboxes.
func (s *Server) createSandboxHandler(c *echo.Context) error {
	if err := s.requirePermission(c, "sandboxes", "create", ""); err != nil {
		return httpError(c, err)
	}

	var req createSandboxRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	principal := principalFrom(c)
	sb, err := s.sandboxMgr.CreateSandbox(c.Request().Context(), sandbox.CreateSandboxRequest{
		Name:               req.Name,
		CreatedBy:          principal.Name,
		Metadata:           req.Metadata,
		Tags:               req.Tags,
		Description:        req.Description,
		Instructions:       req.Instructions,
		SetupScript:        req.SetupScript,
		InitialPrompt:      req.InitialPrompt,
		EnvSecrets:         req.EnvSecrets,
		IdleTimeoutSeconds: req.IdleTimeoutSeconds,
		BusyTimeoutSeconds: req.BusyTimeoutSeconds,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, sb)
}

// getSandboxHandler handles GET /api/v0/sandboxes/{name}.
func (s *Server) getSandboxHandler(c *echo.Context) error {
	if err := s.requirePermission(c, "sandboxes", "get", c.Param("name")); err != nil {
		return httpError(c, err)
	}
	sb, err := s.sandboxMgr.GetSandbox(c.Request().Context(), c.Param("name"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sb)
}

// listSandboxesHandler handles GET /api/v0/sandboxes.
func (s *Server) listSandboxesHandler(c *echo.Context) error {
	if err := s.requirePermission(c, "sandboxes", "list", ""); err != nil {
		return httpError(c, err)
	}

	filter := store.SandboxFilter{
		CreatedBy: c.QueryParam("created_by"),
		Limit:     queryInt(c, "limit", 50),
		Offset:    queryInt(c, "offset", 0),
	}
	if st := c.QueryParam("state"); st != "" {
		state := entsandbox.State(st)
		filter.State = &state
	}

	sandboxes, total, err := s.sandboxMgr.ListSandboxes(c.Request().Context(), filter)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": sandboxes, "total": total})
}

type updateSandboxRequest struct {
	Description        *string `json:"description,omitempty"`
	Instructions       *string `json:"instructions,omitempty"`
	IdleTimeoutSeconds *int    `json:"idle_timeout_seconds,omitempty"`
}

// updateSandboxHandler handles PUT /api/v0/sandboxes/{name}. Limited to
// the mutable metadata fields; state is only ever changed through the
// dedicated state endpoints so every transition goes through the
// sandbox manager's CAS path.
func (s *Server) updateSandboxHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "sandboxes", "update", name); err != nil {
		return httpError(c, err)
	}

	var req updateSandboxRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	sb, err := s.sandboxMgr.GetSandbox(c.Request().Context(), name)
	if err != nil {
		return httpError(c, err)
	}
	update := s.store.Client().Sandbox.UpdateOneID(sb.ID)
	if req.Description != nil {
		update = update.SetDescription(*req.Description)
	}
	if req.Instructions != nil {
		update = update.SetInstructions(*req.Instructions)
	}
	if req.IdleTimeoutSeconds != nil {
		update = update.SetIdleTimeoutSeconds(*req.IdleTimeoutSeconds)
	}
	updated, err := update.Save(c.Request().Context())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// deleteSandboxHandler handles DELETE /api/v0/sandboxes/{name}: an
// alias for terminate, since a sandbox row is never hard-deleted while
// its history (tasks, responses, snapshots) must stay queryable.
func (s *Server) deleteSandboxHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "sandboxes", "delete", name); err != nil {
		return httpError(c, err)
	}
	if err := s.sandboxMgr.Terminate(c.Request().Context(), name); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type setSandboxStateRequest struct {
	State string `json:"state"`
}

// setSandboxStateHandler handles PUT /api/v0/sandboxes/{name}/state.
func (s *Server) setSandboxStateHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "sandboxes", "update", name); err != nil {
		return httpError(c, err)
	}

	var req setSandboxStateRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	if err := s.sandboxMgr.UpdateSandboxState(c.Request().Context(), name, entsandbox.State(req.State)); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// markBusyHandler handles POST /api/v0/sandboxes/{name}/state/busy.
func (s *Server) markBusyHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "sandboxes", "update", name); err != nil {
		return httpError(c, err)
	}
	if err := s.sandboxMgr.MarkBusy(c.Request().Context(), name); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// markIdleHandler handles POST /api/v0/sandboxes/{name}/state/idle.
func (s *Server) markIdleHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "sandboxes", "update", name); err != nil {
		return httpError(c, err)
	}
	if err := s.sandboxMgr.MarkIdle(c.Request().Context(), name); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func queryInt(c *echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
