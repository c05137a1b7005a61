package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/message"
	"github.com/raworc/tsbx/ent/response"
	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/agent"
	"github.com/raworc/tsbx/pkg/queue"
)

// runNL persists input's turns as user messages, then drives the
// inference loop to completion. responseID is empty for a bare nl
// task, or the response row this task is driving for create_response.
func (e *Executor) runNL(ctx context.Context, t *ent.Task, responseID string) *queue.ExecutionResult {
	sb, err := e.sandboxMgr.GetSandbox(ctx, e.sandboxName)
	if err != nil {
		return &queue.ExecutionResult{Status: task.StatusFailed, Error: fmt.Errorf("failed to load sandbox for nl task: %w", err)}
	}
	systemPrompt := ""
	if sb.Instructions != nil {
		systemPrompt = *sb.Instructions
	}

	seq, err := e.nextMessageSeq(ctx, t.ID)
	if err != nil {
		return &queue.ExecutionResult{Status: task.StatusFailed, Error: err}
	}
	for _, turn := range inputTurns(t.Input) {
		if _, err := e.store.AppendMessage(ctx, t.ID, seq, message.RoleUser, turn, nil, nil); err != nil {
			return &queue.ExecutionResult{Status: task.StatusFailed, Error: fmt.Errorf("failed to persist input turn: %w", err)}
		}
		seq++
	}

	result, err := e.loop.Run(ctx, t, agent.Request{SystemPrompt: systemPrompt, Provider: e.provider, Model: e.model})
	if err != nil {
		return &queue.ExecutionResult{Status: task.StatusFailed, Error: fmt.Errorf("inference loop failed: %w", err)}
	}

	if responseID != "" {
		e.mirrorResponse(ctx, responseID, result)
	}

	var execErr error
	if result.ErrorMessage != "" {
		execErr = fmt.Errorf("%s", result.ErrorMessage)
	}
	return &queue.ExecutionResult{Status: result.Status, Error: execErr}
}

// runCreateResponse inserts the Response row under the caller-assigned
// response_id, then runs the same inference loop a bare nl task would.
func (e *Executor) runCreateResponse(ctx context.Context, t *ent.Task) *queue.ExecutionResult {
	responseID, _ := t.Input["response_id"].(string)
	if responseID == "" {
		return &queue.ExecutionResult{Status: task.StatusFailed, Error: fmt.Errorf("create_response task missing response_id")}
	}

	input, _ := t.Input["input"].(map[string]interface{})
	if _, err := e.store.CreateResponse(ctx, responseID, e.sandboxName, input); err != nil {
		return &queue.ExecutionResult{Status: task.StatusFailed, Error: fmt.Errorf("failed to create response row: %w", err)}
	}

	return e.runNL(ctx, t, responseID)
}

// mirrorResponse propagates the loop's terminal status and final text
// onto the response row it was driving; output items were already
// appended incrementally as they were produced.
func (e *Executor) mirrorResponse(ctx context.Context, responseID string, result *agent.Result) {
	status := responseStatusFor(result.Status)
	var text *string
	for _, item := range result.OutputItems {
		if item["type"] == "final" {
			if content, ok := item["content"].(string); ok {
				text = &content
			}
		}
	}
	if _, err := e.store.AppendResponseOutput(ctx, responseID, text, nil, &status); err != nil {
		slog.Error("failed to mirror response status", "response_id", responseID, "error", err)
	}
}

func responseStatusFor(s task.Status) response.Status {
	switch s {
	case task.StatusCompleted:
		return response.StatusCompleted
	case task.StatusFailed:
		return response.StatusFailed
	case task.StatusCancelled:
		return response.StatusCancelled
	default:
		return response.StatusProcessing
	}
}

// inputTurns extracts the ordered list of user-turn strings from a
// task's typed input items.
func inputTurns(input map[string]interface{}) []string {
	if input == nil {
		return nil
	}
	items, _ := input["items"].([]interface{})
	turns := make([]string, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if content, ok := item["content"].(string); ok && content != "" {
			turns = append(turns, content)
		}
	}
	return turns
}

// nextMessageSeq looks up the next sequence number for a task's
// message history so pre-loop input turns don't collide with
// messages the loop itself appends starting from history's tail.
func (e *Executor) nextMessageSeq(ctx context.Context, taskID string) (int, error) {
	msgs, err := e.store.ListMessages(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to load existing message history: %w", err)
	}
	if len(msgs) == 0 {
		return 1, nil
	}
	return msgs[len(msgs)-1].SequenceNumber + 1, nil
}
