package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Task holds the schema definition for the Task entity.
// A task is one unit of queued work against a sandbox, claimed exactly
// once by a worker and carried through to a terminal status.
type Task struct {
	ent.Schema
}

// Fields of the Task.
func (Task) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("task_id").
			Unique().
			Immutable(),
		field.String("sandbox_name").
			Immutable(),

		field.Enum("task_type").
			Values(
				"create_sandbox", "restore_session", "space_build", "terminate",
				"sh", "py", "js", "nl", "create_response",
			).
			Immutable(),
		field.Enum("status").
			Values("pending", "queued", "processing", "completed", "failed", "cancelled").
			Default("pending"),

		field.JSON("input", map[string]interface{}{}).
			Optional(),
		field.JSON("output", map[string]interface{}{}).
			Optional(),
		field.Int("context_length").
			Optional().
			Nillable(),

		field.String("created_by").
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.String("error").
			Optional().
			Nillable(),

		field.String("worker_id").
			Optional().
			Nillable().
			Comment("set by claim_next_task; used by the lease reaper"),
		field.String("response_id").
			Optional().
			Nillable().
			Comment("set when this task drives a response; enforced unique to reject duplicate enqueue"),
	}
}

// Edges of the Task.
func (Task) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("sandbox", Sandbox.Type).
			Ref("tasks").
			Field("sandbox_name").
			Unique().
			Required().
			Immutable(),
		edge.To("steps", TaskStep.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("messages", Message.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("llm_interactions", LLMInteraction.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("tool_calls", ToolCallLog.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("response", Response.Type).
			Unique(),
	}
}

// Indexes of the Task.
func (Task) Indexes() []ent.Index {
	return []ent.Index{
		// FIFO claim scan: oldest queued task for a sandbox
		index.Fields("sandbox_name", "status", "created_at"),
		index.Fields("status"),
		index.Fields("response_id").
			Unique(),
	}
}
