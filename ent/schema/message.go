package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Message holds the schema definition for the Message entity.
// Messages are the ordered conversation turns (system/user/assistant/tool)
// that make up the context window fed to the inference loop for a task.
type Message struct {
	ent.Schema
}

// Fields of the Message.
func (Message) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("message_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Int("sequence_number").
			Immutable(),

		field.Enum("role").
			Values("system", "user", "assistant", "tool").
			Immutable(),
		field.Text("content").
			Optional(),
		field.JSON("tool_calls", []map[string]interface{}{}).
			Optional(),
		field.String("tool_call_id").
			Optional().
			Nillable(),
		field.String("tool_name").
			Optional().
			Nillable(),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Message.
func (Message) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("messages").
			Field("task_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Message.
func (Message) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "sequence_number").
			Unique(),
	}
}
