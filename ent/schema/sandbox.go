package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Sandbox holds the schema definition for the Sandbox entity.
// A sandbox is a single long-lived execution environment addressed by name.
type Sandbox struct {
	ent.Schema
}

// Fields of the Sandbox.
func (Sandbox) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("sandbox_name").
			Unique().
			Immutable(),
		field.String("created_by").
			Immutable(),

		field.Enum("state").
			Values("initializing", "idle", "busy", "terminating", "terminated").
			Default("initializing"),

		field.JSON("metadata", map[string]interface{}{}).
			Optional(),
		field.JSON("tags", []string{}).
			Optional(),
		field.Text("description").
			Optional().
			Nillable(),
		field.Text("instructions").
			Optional().
			Nillable(),
		field.Text("setup_script").
			Optional().
			Nillable(),
		field.Text("initial_prompt").
			Optional().
			Nillable(),
		field.JSON("env_secrets", map[string]string{}).
			Optional().
			Sensitive().
			Comment("write-only; never returned by the API"),

		field.Int("idle_timeout_seconds").
			Default(300),
		field.Int("busy_timeout_seconds").
			Optional().
			Nillable(),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("last_activity_at").
			Default(time.Now),
		field.Time("auto_close_at").
			Optional().
			Nillable(),

		field.String("parent_sandbox").
			Optional().
			Nillable().
			Comment("name of the sandbox this one was remixed from"),
		field.Int("content_port").
			Optional().
			Nillable(),
	}
}

// Edges of the Sandbox.
func (Sandbox) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("tasks", Task.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("responses", Response.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("snapshots", Snapshot.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Sandbox.
func (Sandbox) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("state"),
		// scanned by the idle/auto-close sweeper
		index.Fields("state", "auto_close_at"),
	}
}
