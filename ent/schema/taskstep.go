package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// TaskStep holds the schema definition for the TaskStep entity.
// Each step is one ordered trace record emitted by the executor while
// working a task: a tool call, its result, a retry, or the final step.
type TaskStep struct {
	ent.Schema
}

// Fields of the TaskStep.
func (TaskStep) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("step_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Int("sequence_number").
			Immutable(),

		field.Enum("step_type").
			Values("tool_call", "tool_result", "retry", "final").
			Immutable(),
		field.JSON("content", map[string]interface{}{}).
			Optional(),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the TaskStep.
func (TaskStep) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("steps").
			Field("task_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the TaskStep.
func (TaskStep) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "sequence_number").
			Unique(),
	}
}
