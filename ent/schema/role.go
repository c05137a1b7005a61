package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// Role holds the schema definition for the Role entity: a named,
// reusable collection of permission rules. A Role grants nothing on
// its own — it only takes effect once a RoleBinding attaches it to a
// principal. Rules are stored as raw JSON objects (api_groups,
// resources, verbs, resource_names) rather than a schema-package
// struct, so pkg/rbac owns the one Go type it unmarshals into.
type Role struct {
	ent.Schema
}

// Fields of the Role.
func (Role) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("role_name").
			Unique().
			Immutable(),
		field.JSON("rules", []map[string]interface{}{}),
		field.String("description").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}
