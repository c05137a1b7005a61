package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/rolebinding"
	"github.com/raworc/tsbx/pkg/rbac"
)

// CreateRole inserts a Role, storing rules as the raw JSON objects the
// ent schema carries; pkg/rbac owns the typed Rule shape.
func (s *Store) CreateRole(ctx context.Context, name string, rules []rbac.Rule, description string) (*ent.Role, error) {
	rawRules, err := rulesToRaw(rules)
	if err != nil {
		return nil, err
	}

	create := s.client.Role.Create().
		SetID(name).
		SetRules(rawRules)
	if description != "" {
		create = create.SetDescription(description)
	}

	r, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return r, nil
}

// GetRole retrieves a role by name.
func (s *Store) GetRole(ctx context.Context, name string) (*ent.Role, error) {
	r, err := s.client.Role.Get(ctx, name)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// ListRoles returns every defined role.
func (s *Store) ListRoles(ctx context.Context) ([]*ent.Role, error) {
	roles, err := s.client.Role.Query().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// DeleteRole removes a role definition. Existing RoleBindings that
// reference it become dangling; RolesForPrincipal silently skips a
// binding whose role no longer exists rather than failing the whole
// permission check.
func (s *Store) DeleteRole(ctx context.Context, name string) error {
	err := s.client.Role.DeleteOneID(name).Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// CreateRoleBinding attaches roleName to a principal.
func (s *Store) CreateRoleBinding(ctx context.Context, roleName, principalName string, ptype rbac.PrincipalType) (*ent.RoleBinding, error) {
	rb, err := s.client.RoleBinding.Create().
		SetID(uuid.New().String()).
		SetRoleName(roleName).
		SetPrincipalName(principalName).
		SetPrincipalType(rolebinding.PrincipalType(ptype)).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create role binding: %w", err)
	}
	return rb, nil
}

// ListRoleBindings returns every role binding, optionally narrowed to a
// single principal when name is non-empty.
func (s *Store) ListRoleBindings(ctx context.Context, principalName string, ptype rbac.PrincipalType) ([]*ent.RoleBinding, error) {
	query := s.client.RoleBinding.Query()
	if principalName != "" {
		query = query.Where(
			rolebinding.PrincipalNameEQ(principalName),
			rolebinding.PrincipalTypeEQ(rolebinding.PrincipalType(ptype)),
		)
	}
	bindings, err := query.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list role bindings: %w", err)
	}
	return bindings, nil
}

// DeleteRoleBinding removes a single role binding by ID.
func (s *Store) DeleteRoleBinding(ctx context.Context, id string) error {
	err := s.client.RoleBinding.DeleteOneID(id).Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete role binding: %w", err)
	}
	return nil
}

// RolesForPrincipal implements rbac.RoleSource: it loads every
// RoleBinding for (name, ptype), resolves each to its Role, and decodes
// the role's raw JSON rules into rbac.Rule values. A binding pointing
// at a deleted role is skipped rather than erroring the whole lookup.
func (s *Store) RolesForPrincipal(ctx context.Context, name string, ptype rbac.PrincipalType) ([]rbac.Role, error) {
	bindings, err := s.client.RoleBinding.Query().
		Where(
			rolebinding.PrincipalNameEQ(name),
			rolebinding.PrincipalTypeEQ(rolebinding.PrincipalType(ptype)),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query role bindings: %w", err)
	}

	roles := make([]rbac.Role, 0, len(bindings))
	for _, b := range bindings {
		r, err := s.client.Role.Get(ctx, b.RoleName)
		if err != nil {
			if ent.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to get role %q: %w", b.RoleName, err)
		}

		rules, err := rawToRules(r.Rules)
		if err != nil {
			return nil, fmt.Errorf("failed to decode rules for role %q: %w", r.ID, err)
		}
		roles = append(roles, rbac.Role{
			Name:        r.ID,
			Rules:       rules,
			Description: stringOrEmpty(r.Description),
		})
	}
	return roles, nil
}

func rulesToRaw(rules []rbac.Rule) ([]map[string]interface{}, error) {
	raw := make([]map[string]interface{}, 0, len(rules))
	for _, r := range rules {
		encoded, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to encode rule: %w", err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(encoded, &m); err != nil {
			return nil, fmt.Errorf("failed to encode rule: %w", err)
		}
		raw = append(raw, m)
	}
	return raw, nil
}

func rawToRules(raw []map[string]interface{}) ([]rbac.Rule, error) {
	rules := make([]rbac.Rule, 0, len(raw))
	for _, m := range raw {
		encoded, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		var r rbac.Rule
		if err := json.Unmarshal(encoded, &r); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
