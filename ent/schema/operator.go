package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// Operator holds the schema definition for the Operator entity: the
// principal record backing bearer-token login. Subjects acting through
// a sandbox are identified by name alone and never get a row here.
type Operator struct {
	ent.Schema
}

// Fields of the Operator.
func (Operator) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("operator_name").
			Unique().
			Immutable(),
		field.String("password_hash").
			Sensitive(),
		field.Enum("role").
			Values("admin", "operator").
			Default("operator"),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("last_login_at").
			Optional().
			Nillable(),
	}
}
