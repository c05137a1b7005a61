package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// RoleBinding holds the schema definition for the RoleBinding entity:
// attaches a Role to a principal (an operator or a subject acting
// through a sandbox), so the principal gains that role's Rules.
type RoleBinding struct {
	ent.Schema
}

// Fields of the RoleBinding.
func (RoleBinding) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("binding_id").
			Unique().
			Immutable(),
		field.String("role_name").
			Immutable(),
		field.String("principal_name").
			Immutable(),
		field.Enum("principal_type").
			Values("operator", "subject").
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the RoleBinding.
func (RoleBinding) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("principal_name", "principal_type"),
		index.Fields("role_name", "principal_name", "principal_type").
			Unique(),
	}
}
