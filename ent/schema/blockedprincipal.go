package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// BlockedPrincipal holds the schema definition for the BlockedPrincipal
// entity: a deny-list entry keyed by principal name and type, checked by
// is_blocked before any operation that creates or resumes a sandbox.
type BlockedPrincipal struct {
	ent.Schema
}

// Fields of the BlockedPrincipal.
func (BlockedPrincipal) Fields() []ent.Field {
	return []ent.Field{
		field.String("name").
			StorageKey("principal_name").
			Immutable(),
		field.Enum("principal_type").
			Values("operator", "subject").
			Immutable(),
		field.String("reason").
			Optional().
			Nillable(),
		field.Time("blocked_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the BlockedPrincipal.
func (BlockedPrincipal) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("name", "principal_type").
			Unique(),
	}
}
