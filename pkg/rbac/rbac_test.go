package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoleSource struct {
	roles map[string][]Role
}

func (f *fakeRoleSource) RolesForPrincipal(_ context.Context, name string, ptype PrincipalType) ([]Role, error) {
	return f.roles[string(ptype)+"/"+name], nil
}

func TestEvaluator_Allowed_ExactMatch(t *testing.T) {
	source := &fakeRoleSource{roles: map[string][]Role{
		"operator/alice": {{
			Name: "sandbox-reader",
			Rules: []Rule{{
				APIGroups: []string{"tsbx"},
				Resources: []string{"sandboxes"},
				Verbs:     []string{"get", "list"},
			}},
		}},
	}}
	e := New(source)

	allowed, err := e.Allowed(context.Background(), Principal{Name: "alice", Type: PrincipalOperator}, "tsbx", "sandboxes", "get", "")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = e.Allowed(context.Background(), Principal{Name: "alice", Type: PrincipalOperator}, "tsbx", "sandboxes", "delete", "")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEvaluator_Allowed_Wildcard(t *testing.T) {
	source := &fakeRoleSource{roles: map[string][]Role{
		"operator/admin": {{
			Name: "admin",
			Rules: []Rule{{
				APIGroups: []string{Wildcard},
				Resources: []string{Wildcard},
				Verbs:     []string{Wildcard},
			}},
		}},
	}}
	e := New(source)

	allowed, err := e.Allowed(context.Background(), Principal{Name: "admin", Type: PrincipalOperator}, "tsbx", "agents", "delete", "")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEvaluator_Allowed_ResourceNameRestriction(t *testing.T) {
	source := &fakeRoleSource{roles: map[string][]Role{
		"subject/svc-1": {{
			Name: "own-sandbox-only",
			Rules: []Rule{{
				APIGroups:     []string{"tsbx"},
				Resources:     []string{"sandboxes"},
				Verbs:         []string{"get"},
				ResourceNames: []string{"sandbox-a"},
			}},
		}},
	}}
	e := New(source)

	allowed, err := e.Allowed(context.Background(), Principal{Name: "svc-1", Type: PrincipalSubject}, "tsbx", "sandboxes", "get", "sandbox-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = e.Allowed(context.Background(), Principal{Name: "svc-1", Type: PrincipalSubject}, "tsbx", "sandboxes", "get", "sandbox-b")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEvaluator_Allowed_NoRolesDenies(t *testing.T) {
	e := New(&fakeRoleSource{roles: map[string][]Role{}})

	allowed, err := e.Allowed(context.Background(), Principal{Name: "nobody", Type: PrincipalOperator}, "tsbx", "sandboxes", "get", "")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEvaluator_Allowed_PrincipalTypeIsolation(t *testing.T) {
	source := &fakeRoleSource{roles: map[string][]Role{
		"operator/shared-name": {{
			Name:  "operator-role",
			Rules: []Rule{{APIGroups: []string{Wildcard}, Resources: []string{Wildcard}, Verbs: []string{Wildcard}}},
		}},
	}}
	e := New(source)

	allowed, err := e.Allowed(context.Background(), Principal{Name: "shared-name", Type: PrincipalSubject}, "tsbx", "sandboxes", "get", "")
	require.NoError(t, err)
	assert.False(t, allowed)
}
