package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Response holds the schema definition for the Response entity.
// A response is the accumulated conversational output of a sandbox,
// built up across one or more create_response tasks.
type Response struct {
	ent.Schema
}

// Fields of the Response.
func (Response) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("response_id").
			Unique().
			Immutable(),
		field.String("agent_name").
			Immutable().
			Comment("the sandbox this response belongs to"),

		field.Enum("status").
			Values("pending", "queued", "processing", "completed", "failed", "cancelled").
			Default("pending"),

		field.JSON("input", map[string]interface{}{}).
			Optional(),
		field.Text("output_text").
			Optional().
			Nillable().
			Comment("replaced wholesale on each update"),
		field.JSON("output_items", []map[string]interface{}{}).
			Optional().
			Comment("appended to on each update, never overwritten"),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Response.
func (Response) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("sandbox", Sandbox.Type).
			Ref("responses").
			Field("agent_name").
			Unique().
			Required().
			Immutable(),
		edge.From("driving_task", Task.Type).
			Ref("response").
			Unique(),
	}
}

// Indexes of the Response.
func (Response) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_name"),
		index.Fields("agent_name", "created_at"),
	}
}
