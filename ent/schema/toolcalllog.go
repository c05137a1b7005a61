package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ToolCallLog holds the schema definition for the ToolCallLog entity.
// Every built-in or MCP-proxied tool call made while working a task is
// logged here, mirroring the per-call log file written under
// /sandbox/logs on the sandbox filesystem itself.
type ToolCallLog struct {
	ent.Schema
}

// Fields of the ToolCallLog.
func (ToolCallLog) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("tool_call_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),

		field.String("tool_name").
			Immutable(),
		field.JSON("arguments", map[string]interface{}{}).
			Optional(),
		field.Text("result").
			Optional().
			Nillable(),
		field.Bool("is_error").
			Default(false),
		field.Int("duration_ms").
			Optional().
			Nillable(),
		field.String("log_path").
			Optional().
			Nillable(),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the ToolCallLog.
func (ToolCallLog) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("tool_calls").
			Field("task_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the ToolCallLog.
func (ToolCallLog) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "created_at"),
	}
}
