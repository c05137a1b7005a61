package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/llminteraction"
	"github.com/raworc/tsbx/ent/message"
	"github.com/raworc/tsbx/ent/taskstep"
)

// AppendMessage records the next conversation turn for a task's history.
func (s *Store) AppendMessage(ctx context.Context, taskID string, seq int, role message.Role, content string, toolCallID, toolName *string) (*ent.Message, error) {
	create := s.client.Message.Create().
		SetID(uuid.New().String()).
		SetTaskID(taskID).
		SetSequenceNumber(seq).
		SetRole(role).
		SetContent(content)
	if toolCallID != nil {
		create = create.SetToolCallID(*toolCallID)
	}
	if toolName != nil {
		create = create.SetToolName(*toolName)
	}

	m, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return m, nil
}

// ListMessages returns the ordered history for a task.
func (s *Store) ListMessages(ctx context.Context, taskID string) ([]*ent.Message, error) {
	msgs, err := s.client.Message.Query().
		Where(message.TaskIDEQ(taskID)).
		Order(ent.Asc(message.FieldSequenceNumber)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// AppendStep records one executor trace record for an NL task.
func (s *Store) AppendStep(ctx context.Context, taskID string, seq int, stepType taskstep.StepType, content map[string]interface{}) (*ent.TaskStep, error) {
	create := s.client.TaskStep.Create().
		SetID(uuid.New().String()).
		SetTaskID(taskID).
		SetSequenceNumber(seq).
		SetStepType(stepType)
	if content != nil {
		create = create.SetContent(content)
	}

	st, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to append step: %w", err)
	}
	return st, nil
}

// RecordLLMInteraction logs one inference call for audit and context accounting.
func (s *Store) RecordLLMInteraction(ctx context.Context, in LLMInteractionRecord) (*ent.LLMInteraction, error) {
	create := s.client.LLMInteraction.Create().
		SetID(uuid.New().String()).
		SetTaskID(in.TaskID).
		SetSequenceNumber(in.SequenceNumber).
		SetProvider(in.Provider).
		SetModel(in.Model).
		SetTemplate(in.Template)

	if in.RequestSummary != "" {
		create = create.SetRequestSummary(in.RequestSummary)
	}
	if in.ResponseSummary != "" {
		create = create.SetResponseSummary(in.ResponseSummary)
	}
	if in.PromptTokens != nil {
		create = create.SetPromptTokens(*in.PromptTokens)
	}
	if in.CompletionTokens != nil {
		create = create.SetCompletionTokens(*in.CompletionTokens)
	}
	if in.TotalTokens != nil {
		create = create.SetTotalTokens(*in.TotalTokens)
	}
	if in.DurationMS != nil {
		create = create.SetDurationMs(*in.DurationMS)
	}
	if in.ErrorMessage != "" {
		create = create.SetErrorMessage(in.ErrorMessage)
	}

	li, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to record llm interaction: %w", err)
	}
	return li, nil
}

// LLMInteractionRecord is the input shape for RecordLLMInteraction.
type LLMInteractionRecord struct {
	TaskID           string
	SequenceNumber   int
	Provider         string
	Model            string
	Template         llminteraction.Template
	RequestSummary   string
	ResponseSummary  string
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
	DurationMS       *int
	ErrorMessage     string
}

// RecordToolCall logs one tool invocation for audit, mirroring the
// per-call log file written to /sandbox/logs.
func (s *Store) RecordToolCall(ctx context.Context, taskID, toolName string, arguments map[string]interface{}, result string, isError bool, durationMS *int, logPath string) (*ent.ToolCallLog, error) {
	create := s.client.ToolCallLog.Create().
		SetID(uuid.New().String()).
		SetTaskID(taskID).
		SetToolName(toolName).
		SetIsError(isError)
	if arguments != nil {
		create = create.SetArguments(arguments)
	}
	if result != "" {
		create = create.SetResult(result)
	}
	if durationMS != nil {
		create = create.SetDurationMs(*durationMS)
	}
	if logPath != "" {
		create = create.SetLogPath(logPath)
	}

	tc, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to record tool call: %w", err)
	}
	return tc, nil
}
