package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/response"
	entsandbox "github.com/raworc/tsbx/ent/sandbox"
	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/store"
)

type createResponseRequest struct {
	Input      map[string]interface{} `json:"input"`
	Background bool                   `json:"background,omitempty"`
}

// createResponseHandler handles POST /api/v0/agents/{name}/responses.
// Enqueues a create_response task under a caller-assigned response_id,
// rejecting with Conflict while the sandbox is busy. When
// background=false it blocks (polling the store) until the response
// reaches a terminal status or responseWaitTimeout elapses.
func (s *Server) createResponseHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "responses", "create", name); err != nil {
		return httpError(c, err)
	}

	var req createResponseRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	sb, err := s.sandboxMgr.GetSandbox(c.Request().Context(), name)
	if err != nil {
		return httpError(c, err)
	}
	if sb.State == entsandbox.StateBusy {
		return httpError(c, errSandboxBusy)
	}

	resp, err := s.store.CreateResponse(c.Request().Context(), uuid.NewString(), name, req.Input)
	if err != nil {
		return httpError(c, err)
	}

	responseID := resp.ID
	principal := principalFrom(c)
	_, err = s.store.EnqueueTask(c.Request().Context(), store.TaskRecord{
		SandboxName: name,
		TaskType:    task.TaskTypeCreateResponse,
		Input:       req.Input,
		CreatedBy:   principal.Name,
		ResponseID:  &responseID,
	})
	if err != nil {
		return httpError(c, err)
	}

	if req.Background {
		return c.JSON(http.StatusAccepted, resp)
	}

	final, err := s.waitForTerminalResponse(c.Request().Context(), responseID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, final)
}

// waitForTerminalResponse polls the store for a response to leave
// pending/queued/processing, returning ErrTimeout if responseWaitTimeout
// elapses first. The response row itself remains observable afterward
// regardless of which way this returns.
func (s *Server) waitForTerminalResponse(ctx context.Context, id string) (*ent.Response, error) {
	deadline := time.Now().Add(s.responseWaitTimeout)
	const pollInterval = 250 * time.Millisecond

	for {
		resp, err := s.store.GetResponse(ctx, id)
		if err != nil {
			return nil, err
		}
		switch resp.Status {
		case response.StatusCompleted, response.StatusFailed, response.StatusCancelled:
			return resp, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// getResponseHandler handles GET /api/v0/agents/{name}/responses/{id}.
func (s *Server) getResponseHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "responses", "get", name); err != nil {
		return httpError(c, err)
	}
	resp, err := s.store.GetResponse(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	if resp.AgentName != name {
		return httpError(c, store.ErrNotFound)
	}
	return c.JSON(http.StatusOK, resp)
}

// listResponsesHandler handles GET /api/v0/agents/{name}/responses.
func (s *Server) listResponsesHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "responses", "list", name); err != nil {
		return httpError(c, err)
	}
	responses, total, err := s.store.ListResponses(c.Request().Context(), name, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": responses, "total": total})
}

// countResponsesHandler handles GET /api/v0/agents/{name}/responses/count.
func (s *Server) countResponsesHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "responses", "list", name); err != nil {
		return httpError(c, err)
	}
	count, err := s.store.CountResponses(c.Request().Context(), name)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

type updateResponseRequest struct {
	Text     *string                  `json:"text,omitempty"`
	NewItems []map[string]interface{} `json:"new_items,omitempty"`
	Status   *string                  `json:"status,omitempty"`
}

// updateResponseHandler handles PUT /api/v0/agents/{name}/responses/{id}.
// output.text is replaced wholesale; output.items is append-only — both
// enforced by pkg/store.AppendResponseOutput, never by this handler.
func (s *Server) updateResponseHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "responses", "update", name); err != nil {
		return httpError(c, err)
	}

	var req updateResponseRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	var status *response.Status
	if req.Status != nil {
		st := response.Status(*req.Status)
		status = &st
	}

	resp, err := s.store.AppendResponseOutput(c.Request().Context(), c.Param("id"), req.Text, req.NewItems, status)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

var errSandboxBusy = store.ErrConflict
