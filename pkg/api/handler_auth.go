package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/raworc/tsbx/pkg/rbac"
)

type loginRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// loginHandler handles POST /auth/operators/{name}/login. Public —
// the operator's password is the only credential, bcrypt-verified.
func (s *Server) loginHandler(c *echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}

	name := c.Param("name")
	op, err := s.store.VerifyOperatorPassword(c.Request().Context(), name, req.Password)
	if err != nil {
		return httpError(c, errInvalidCredentials)
	}

	token, expiresAt, err := s.verifier.IssueToken(op.ID, rbac.PrincipalOperator, 24*time.Hour)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, &tokenResponse{Token: token, ExpiresAt: expiresAt})
}

type principalResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// currentPrincipalHandler handles GET /auth.
func (s *Server) currentPrincipalHandler(c *echo.Context) error {
	p := principalFrom(c)
	return c.JSON(http.StatusOK, &principalResponse{Name: p.Name, Type: string(p.Type)})
}

type mintTokenRequest struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// mintTokenHandler handles POST /auth/token: admin-only minting of a
// token for an arbitrary principal (typically a subject acting through
// a sandbox, which never logs in on its own).
func (s *Server) mintTokenHandler(c *echo.Context) error {
	if err := s.requirePermission(c, "tokens", "create", ""); err != nil {
		return httpError(c, err)
	}

	var req mintTokenRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, sbBadRequest("body", "invalid JSON"))
	}
	if req.Name == "" {
		return httpError(c, sbBadRequest("name", "required"))
	}

	ptype := rbac.PrincipalType(req.Type)
	if ptype != rbac.PrincipalOperator && ptype != rbac.PrincipalSubject {
		return httpError(c, sbBadRequest("type", "must be operator or subject"))
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}

	token, expiresAt, err := s.verifier.IssueToken(req.Name, ptype, ttl)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, &tokenResponse{Token: token, ExpiresAt: expiresAt})
}
