// Package rbac implements the Rule/Role/RoleBinding permission model:
// a Role is a named bundle of Rules; a RoleBinding attaches a Role to
// a principal (an operator or a subject acting through a sandbox).
// Evaluator.Allowed answers whether a principal's bound roles grant a
// given (api_group, resource, verb) triple, replacing the always-true
// placeholder the spec's Open Questions call out.
package rbac

import "context"

// Wildcard matches any api_group, resource, or verb value.
const Wildcard = "*"

// PrincipalType distinguishes an operator (admin console login) from a
// subject acting through a sandbox.
type PrincipalType string

const (
	PrincipalOperator PrincipalType = "operator"
	PrincipalSubject  PrincipalType = "subject"
)

// Principal is the authenticated caller a permission check is run for.
type Principal struct {
	Name string
	Type PrincipalType
}

// Rule grants access to any (api_group, resource, verb) combination
// drawn from its three sets; ResourceNames, if non-empty, further
// restricts the grant to specific named resources.
type Rule struct {
	APIGroups     []string
	Resources     []string
	Verbs         []string
	ResourceNames []string
}

// Role is a named, reusable bundle of Rules. Binding nothing to it
// grants nothing — a Role only takes effect through a RoleBinding.
type Role struct {
	Name        string
	Rules       []Rule
	Description string
}

// RoleBinding attaches a Role to a principal.
type RoleBinding struct {
	ID            string
	RoleName      string
	PrincipalName string
	PrincipalType PrincipalType
}

// RoleSource loads the roles bound to a principal, abstracting the
// storage layer (pkg/store) out of the evaluator so it can be unit
// tested against an in-memory fake.
type RoleSource interface {
	RolesForPrincipal(ctx context.Context, name string, ptype PrincipalType) ([]Role, error)
}

// Evaluator answers permission checks by loading a principal's bound
// roles and testing each Rule in turn.
type Evaluator struct {
	source RoleSource
}

// New builds an Evaluator backed by source.
func New(source RoleSource) *Evaluator {
	return &Evaluator{source: source}
}

// Allowed reports whether principal is permitted to perform verb on
// resource (optionally a specific resourceName) within apiGroup.
// A Rule grants the request when apiGroup/resource/verb each match
// one of its sets (directly or via Wildcard), and either its
// ResourceNames is empty or contains resourceName.
func (e *Evaluator) Allowed(ctx context.Context, principal Principal, apiGroup, resource, verb, resourceName string) (bool, error) {
	roles, err := e.source.RolesForPrincipal(ctx, principal.Name, principal.Type)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		for _, rule := range role.Rules {
			if ruleGrants(rule, apiGroup, resource, verb, resourceName) {
				return true, nil
			}
		}
	}
	return false, nil
}

func ruleGrants(rule Rule, apiGroup, resource, verb, resourceName string) bool {
	if !matchesAny(rule.APIGroups, apiGroup) {
		return false
	}
	if !matchesAny(rule.Resources, resource) {
		return false
	}
	if !matchesAny(rule.Verbs, verb) {
		return false
	}
	if len(rule.ResourceNames) == 0 {
		return true
	}
	for _, n := range rule.ResourceNames {
		if n == resourceName {
			return true
		}
	}
	return false
}

func matchesAny(set []string, value string) bool {
	for _, s := range set {
		if s == Wildcard || s == value {
			return true
		}
	}
	return false
}
