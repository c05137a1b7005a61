package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/raworc/tsbx/ent/snapshot"
	"github.com/raworc/tsbx/pkg/sandbox"
)

type createSnapshotRequest struct {
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// createSnapshotHandler handles POST /api/v0/sandboxes/{name}/snapshots:
// a manual capture of the named sandbox's current state.
func (s *Server) createSnapshotHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.requirePermission(c, "snapshots", "create", name); err != nil {
		return httpError(c, err)
	}
	if _, err := s.sandboxMgr.GetSandbox(c.Request().Context(), name); err != nil {
		return httpError(c, err)
	}

	var req createSnapshotRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	sn, err := s.store.CreateSnapshot(c.Request().Context(), name, snapshot.TriggerTypeManual, req.Metadata)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, sn)
}

// getSnapshotHandler handles GET /api/v0/snapshots/{id}.
func (s *Server) getSnapshotHandler(c *echo.Context) error {
	sn, err := s.store.GetSnapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	if err := s.requirePermission(c, "snapshots", "get", sn.SandboxName); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sn)
}

// listSnapshotsHandler handles GET /api/v0/snapshots, optionally scoped
// by a sandbox_name query param.
func (s *Server) listSnapshotsHandler(c *echo.Context) error {
	sandboxName := c.QueryParam("sandbox_name")
	if err := s.requirePermission(c, "snapshots", "list", sandboxName); err != nil {
		return httpError(c, err)
	}

	snapshots, total, err := s.store.ListSnapshots(c.Request().Context(), sandboxName, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": snapshots, "total": total})
}

// deleteSnapshotHandler handles DELETE /api/v0/snapshots/{id}.
func (s *Server) deleteSnapshotHandler(c *echo.Context) error {
	sn, err := s.store.GetSnapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	if err := s.requirePermission(c, "snapshots", "delete", sn.SandboxName); err != nil {
		return httpError(c, err)
	}
	if err := s.store.DeleteSnapshot(c.Request().Context(), sn.ID); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

type createFromSnapshotRequest struct {
	Name        string `json:"name"`
	CopySecrets bool   `json:"copy_secrets,omitempty"`
}

// createSandboxFromSnapshotHandler handles POST /api/v0/snapshots/{id}/create:
// a remix lineaged off the snapshot's sandbox. Snapshots don't carry
// their own preserved volume distinct from their sandbox's, so this
// restores from the snapshot's parent sandbox the same way a direct
// remix would; the snapshot row itself only disambiguates which point
// in that sandbox's history the caller meant to return to.
func (s *Server) createSandboxFromSnapshotHandler(c *echo.Context) error {
	sn, err := s.store.GetSnapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	if err := s.requirePermission(c, "sandboxes", "create", ""); err != nil {
		return httpError(c, err)
	}

	var req createFromSnapshotRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	principal := principalFrom(c)
	sb, err := s.sandboxMgr.Remix(c.Request().Context(), sandbox.RemixRequest{
		ParentName:  sn.SandboxName,
		NewName:     req.Name,
		CreatedBy:   principal.Name,
		CopySecrets: req.CopySecrets,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, sb)
}
