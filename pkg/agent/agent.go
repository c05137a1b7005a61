// Package agent implements the in-sandbox executor's inference loop
// for nl (natural-language / tool-using) tasks: repeat build-call-parse
// until a final step is emitted or a hard step limit is reached.
// Grounded on the teacher's pkg/agent/iteration.go (IterationState,
// consecutive-timeout abort), pkg/agent/tool_executor.go
// (ToolExecutor/ToolResult shape), and pkg/agent/llm_client.go
// (provider client wrapping), generalized from the teacher's
// multi-stage investigation chain to a flat tool-call/final-answer loop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/llminteraction"
	"github.com/raworc/tsbx/ent/message"
	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/ent/taskstep"
	"github.com/raworc/tsbx/pkg/guardrails"
	"github.com/raworc/tsbx/pkg/inference"
	"github.com/raworc/tsbx/pkg/store"
	"github.com/raworc/tsbx/pkg/tools"
)

// MaxSteps is the hard step limit the inference loop aborts at if
// neither a final answer nor a fatal error is reached first.
const MaxSteps = 40

// MaxParseRetries is the cap on format-hint retries: on HTTP failure or
// parse failure, append a format-hint system message and retry, up to
// this many attempts total before giving up.
const MaxParseRetries = 5

// perMessageOverhead is added per message to the context_length
// estimate, accounting for role/metadata wrapper tokens the raw
// char/word count under-counts.
const perMessageOverhead = 4

// Loop drives one nl task's inference loop to completion.
type Loop struct {
	store      *store.Store
	registry   *inference.Registry
	client     inference.Client
	tools      *tools.Registry
	guardrails *guardrails.Filter
}

// New constructs a Loop with its collaborators.
func New(s *store.Store, registry *inference.Registry, client inference.Client, toolRegistry *tools.Registry, gr *guardrails.Filter) *Loop {
	return &Loop{store: s, registry: registry, client: client, tools: toolRegistry, guardrails: gr}
}

// Request carries per-task parameters the loop needs beyond the task
// row itself: the system prompt and the provider/model selection
// resolved from config.
type Request struct {
	SystemPrompt string
	Provider     string
	Model        string
}

// Result is what the caller (pkg/executor) uses to finalize the task.
type Result struct {
	Status        task.Status
	OutputItems   []map[string]interface{}
	ContextLength int
	ErrorMessage  string
}

// seqs tracks the three independent per-task sequence counters the
// schema enforces a unique (task_id, sequence_number) index on.
type seqs struct {
	step        int
	message     int
	interaction int
}

// Run executes the inference loop for t, persisting messages/steps/
// llm_interactions as it goes, and returns the terminal Result.
func (l *Loop) Run(ctx context.Context, t *ent.Task, req Request) (*Result, error) {
	provider, err := l.registry.Resolve(req.Provider, req.Model)
	if err != nil {
		return &Result{Status: task.StatusFailed, ErrorMessage: err.Error()}, nil
	}
	tmpl, err := inference.TemplateFor(provider)
	if err != nil {
		return &Result{Status: task.StatusFailed, ErrorMessage: err.Error()}, nil
	}

	history, seq, err := l.loadHistory(ctx, t.ID, req.SystemPrompt)
	if err != nil {
		return nil, err
	}

	if err := l.guardrails.CheckInput(req.SystemPrompt); err != nil {
		return &Result{Status: task.StatusFailed, ErrorMessage: err.Error()}, nil
	}

	state := &IterationState{MaxIterations: MaxSteps}
	toolSpecs := toToolSpecs(l.tools.List())
	result := &Result{Status: task.StatusFailed}

	for state.CurrentIteration < state.MaxIterations {
		state.CurrentIteration++

		result.ContextLength = estimateContextLength(history)
		l.persistContextLength(ctx, t.ID, result.ContextLength)

		resp, err := l.callWithRetries(ctx, tmpl, provider, history, toolSpecs, t.ID, seq, state)
		if err != nil {
			result.ErrorMessage = err.Error()
			return result, nil
		}
		if resp.Usage != nil {
			result.ContextLength = resp.Usage.TotalTokens
			l.persistContextLength(ctx, t.ID, result.ContextLength)
		}
		if state.ShouldAbortOnTimeouts() {
			result.ErrorMessage = fmt.Sprintf("inference loop aborted after %d consecutive timeouts", state.ConsecutiveTimeoutFailures)
			return result, nil
		}

		if resp.ToolCall != nil {
			items, msgs, err := l.handleToolCall(ctx, t, resp.ToolCall, seq)
			if err != nil {
				result.ErrorMessage = err.Error()
				return result, nil
			}
			for _, item := range items {
				l.persistOutputItem(ctx, t.ID, item)
			}
			result.OutputItems = append(result.OutputItems, items...)
			history = append(history, msgs...)
			continue
		}

		final := l.guardrails.FilterOutput(resp.FinalText)
		seq.step++
		if _, err := l.store.AppendStep(ctx, t.ID, seq.step, taskstep.StepTypeFinal, map[string]interface{}{"text": final}); err != nil {
			return nil, fmt.Errorf("failed to append final step: %w", err)
		}
		finalItem := map[string]interface{}{"type": "final", "content": final}
		l.persistOutputItem(ctx, t.ID, finalItem)
		result.Status = task.StatusCompleted
		result.OutputItems = append(result.OutputItems, finalItem)
		return result, nil
	}

	result.ErrorMessage = fmt.Sprintf("inference loop reached the step limit of %d without a final answer", MaxSteps)
	return result, nil
}

// callWithRetries builds a request, sends it, and parses the response.
// On HTTP failure or parse failure it appends a format-hint message and
// retries up to MaxParseRetries times. Consecutive context-deadline
// failures additionally feed IterationState's timeout-abort tracking.
func (l *Loop) callWithRetries(ctx context.Context, tmpl inference.Template, provider inference.Provider, history []inference.Message, toolSpecs []inference.ToolSpec, taskID string, seq *seqs, state *IterationState) (*inference.Response, error) {
	working := history
	var lastErr error

	for attempt := 0; attempt < MaxParseRetries; attempt++ {
		req, err := tmpl.BuildRequest(provider.URL, provider.APIKey, provider.Model, working, toolSpecs)
		if err != nil {
			return nil, fmt.Errorf("failed to build inference request: %w", err)
		}

		raw, err := l.client.Do(ctx, req)
		if err != nil {
			lastErr = err
			state.RecordFailure(err.Error(), errors.Is(ctx.Err(), context.DeadlineExceeded))
			working = append(working, inference.Message{Role: inference.RoleSystem, Content: inference.FormatHint})
			l.recordInteraction(ctx, taskID, seq, provider, tmpl.Name(), nil, err.Error())
			continue
		}

		resp, err := tmpl.ParseResponse(raw)
		if err != nil {
			lastErr = err
			state.RecordFailure(err.Error(), false)
			working = append(working, inference.Message{Role: inference.RoleSystem, Content: inference.FormatHint})
			l.recordInteraction(ctx, taskID, seq, provider, tmpl.Name(), nil, err.Error())
			continue
		}
		if resp.ParseFailure != "" {
			lastErr = fmt.Errorf("%s", resp.ParseFailure)
			state.RecordFailure(resp.ParseFailure, false)
			working = append(working, inference.Message{Role: inference.RoleSystem, Content: inference.FormatHint})
			l.recordInteraction(ctx, taskID, seq, provider, tmpl.Name(), resp.Usage, resp.ParseFailure)
			continue
		}

		state.RecordSuccess()
		l.recordInteraction(ctx, taskID, seq, provider, tmpl.Name(), resp.Usage, "")
		return resp, nil
	}

	return nil, fmt.Errorf("inference call failed after %d retries: %w", MaxParseRetries, lastErr)
}

func (l *Loop) recordInteraction(ctx context.Context, taskID string, seq *seqs, provider inference.Provider, templateName string, usage *inference.Usage, errMsg string) {
	seq.interaction++
	rec := store.LLMInteractionRecord{
		TaskID:         taskID,
		SequenceNumber: seq.interaction,
		Provider:       provider.Name,
		Model:          provider.Model,
		Template:       llminteraction.Template(templateName),
		ErrorMessage:   errMsg,
	}
	if usage != nil {
		rec.PromptTokens = &usage.PromptTokens
		rec.CompletionTokens = &usage.CompletionTokens
		rec.TotalTokens = &usage.TotalTokens
	}
	if _, err := l.store.RecordLLMInteraction(ctx, rec); err != nil {
		slog.Error("failed to record llm interaction", "task_id", taskID, "error", err)
	}
}

// handleToolCall appends a tool_call step, executes the call, appends
// a tool_result step, and returns the new history messages to append.
func (l *Loop) handleToolCall(ctx context.Context, t *ent.Task, call *inference.ToolCall, seq *seqs) ([]map[string]interface{}, []inference.Message, error) {
	if err := l.guardrails.CheckInput(call.Arguments); err != nil {
		return l.finalizeGuardrailFailure(ctx, t, call, seq, err)
	}
	if call.Name == "bash" {
		if cmd, ok := extractArg(call.Arguments, "cmd"); ok {
			if err := l.guardrails.CheckCommand(cmd); err != nil {
				return l.finalizeGuardrailFailure(ctx, t, call, seq, err)
			}
		}
	}

	seq.step++
	if _, err := l.store.AppendStep(ctx, t.ID, seq.step, taskstep.StepTypeToolCall, map[string]interface{}{
		"name": call.Name, "arguments": call.Arguments,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to append tool_call step: %w", err)
	}

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode tool arguments: %w", err)
	}

	result, toolErr := l.tools.Dispatch(ctx, call.Name, args)
	isError := toolErr != nil
	if isError {
		result = toolErr.Error()
	}
	result = l.guardrails.FilterOutput(result)

	if _, err := l.store.RecordToolCall(ctx, t.ID, call.Name, args, result, isError, nil, ""); err != nil {
		slog.Error("failed to record tool call", "task_id", t.ID, "tool", call.Name, "error", err)
	}

	seq.step++
	if _, err := l.store.AppendStep(ctx, t.ID, seq.step, taskstep.StepTypeToolResult, map[string]interface{}{
		"tool": call.Name, "result": result, "is_error": isError,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to append tool_result step: %w", err)
	}

	items := []map[string]interface{}{
		{"type": "tool_call", "name": call.Name, "arguments": call.Arguments},
		{"type": "commentary", "content": result, "is_error": isError},
	}

	toolCallID := call.ID
	if toolCallID == "" {
		toolCallID = uuid.New().String()
	}
	msgs := []inference.Message{
		{Role: inference.RoleTool, ToolCallID: toolCallID, ToolName: call.Name, Content: result},
	}

	if err := l.persistMessage(ctx, t.ID, seq, message.RoleTool, result, &toolCallID, &call.Name); err != nil {
		slog.Error("failed to persist tool message", "task_id", t.ID, "error", err)
	}
	return items, msgs, nil
}

func (l *Loop) finalizeGuardrailFailure(ctx context.Context, t *ent.Task, call *inference.ToolCall, seq *seqs, cause error) ([]map[string]interface{}, []inference.Message, error) {
	seq.step++
	if _, err := l.store.AppendStep(ctx, t.ID, seq.step, taskstep.StepTypeRetry, map[string]interface{}{
		"guardrail_violation": cause.Error(), "tool": call.Name,
	}); err != nil {
		slog.Error("failed to append guardrail step", "task_id", t.ID, "error", err)
	}
	return nil, nil, cause
}

// persistContextLength writes the running context_length estimate so
// the API can display approximate progress while the loop is still
// in flight, not only once the task reaches a terminal state.
func (l *Loop) persistContextLength(ctx context.Context, taskID string, length int) {
	cl := length
	if _, err := l.store.UpdateTask(ctx, taskID, store.TaskUpdate{ContextLength: &cl}); err != nil {
		slog.Error("failed to persist context length", "task_id", taskID, "error", err)
	}
}

// persistOutputItem appends one output item to the task's live output
// array as it's produced, so a blocking caller polling the task (or
// its driving response) observes progress incrementally rather than
// only at finish.
func (l *Loop) persistOutputItem(ctx context.Context, taskID string, item map[string]interface{}) {
	if _, err := l.store.UpdateTask(ctx, taskID, store.TaskUpdate{NewOutputItem: item}); err != nil {
		slog.Error("failed to persist output item", "task_id", taskID, "error", err)
	}
}

func (l *Loop) persistMessage(ctx context.Context, taskID string, seq *seqs, role message.Role, content string, toolCallID, toolName *string) error {
	seq.message++
	_, err := l.store.AppendMessage(ctx, taskID, seq.message, role, content, toolCallID, toolName)
	return err
}

// loadHistory seeds the working conversation with the system prompt
// and any messages already persisted for this task (a resumed task
// picks up where it left off), returning the next-sequence-number
// tracker primed past whatever's already stored.
func (l *Loop) loadHistory(ctx context.Context, taskID, systemPrompt string) ([]inference.Message, *seqs, error) {
	history := []inference.Message{{Role: inference.RoleSystem, Content: systemPrompt}}
	seq := &seqs{}

	msgs, err := l.store.ListMessages(ctx, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load task history: %w", err)
	}
	for _, m := range msgs {
		role := inference.Role(m.Role)
		entry := inference.Message{Role: role, Content: m.Content}
		if m.ToolCallID != nil {
			entry.ToolCallID = *m.ToolCallID
		}
		if m.ToolName != nil {
			entry.ToolName = *m.ToolName
		}
		history = append(history, entry)
		if m.SequenceNumber > seq.message {
			seq.message = m.SequenceNumber
		}
	}
	return history, seq, nil
}

// estimateContextLength is a conservative estimate:
// max(Σ⌈chars/4⌉, Σ words) + per_message_overhead, summed over every
// message currently in history.
func estimateContextLength(history []inference.Message) int {
	var charEstimate, wordEstimate, overhead int
	for _, m := range history {
		charEstimate += (len(m.Content) + 3) / 4
		wordEstimate += countWords(m.Content)
		overhead += perMessageOverhead
	}
	if charEstimate > wordEstimate {
		return charEstimate + overhead
	}
	return wordEstimate + overhead
}

func countWords(s string) int {
	return len(strings.FieldsFunc(s, func(r rune) bool { return unicode.IsSpace(r) }))
}

func toToolSpecs(ts []tools.Tool) []inference.ToolSpec {
	out := make([]inference.ToolSpec, 0, len(ts))
	for _, t := range ts {
		out = append(out, inference.ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return out
}

func extractArg(jsonArgs, key string) (string, bool) {
	args, err := decodeArgs(jsonArgs)
	if err != nil {
		return "", false
	}
	v, ok := args[key].(string)
	return v, ok
}

// decodeArgs parses a tool call's argument payload (always JSON: the
// positron template's encodeInvocationArgs flattens its XML invocation
// into the same shape) into a generic map for Tool.Execute.
func decodeArgs(jsonArgs string) (map[string]interface{}, error) {
	if strings.TrimSpace(jsonArgs) == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(jsonArgs), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}
