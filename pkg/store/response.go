package store

import (
	"context"
	"fmt"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/response"
)

// CreateResponse inserts the response row driven by a create_response
// task. The executor must do this under the caller-assigned response_id
// so a blocking API caller can poll for it immediately after enqueue.
func (s *Store) CreateResponse(ctx context.Context, id, agentName string, input map[string]interface{}) (*ent.Response, error) {
	create := s.client.Response.Create().
		SetID(id).
		SetAgentName(agentName).
		SetStatus(response.StatusPending)
	if input != nil {
		create = create.SetInput(input)
	}

	r, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create response: %w", err)
	}
	return r, nil
}

// GetResponse retrieves a response by id.
func (s *Store) GetResponse(ctx context.Context, id string) (*ent.Response, error) {
	r, err := s.client.Response.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return r, nil
}

// ListResponses lists responses for an agent (sandbox), newest first.
func (s *Store) ListResponses(ctx context.Context, agentName string, limit, offset int) ([]*ent.Response, int, error) {
	query := s.client.Response.Query().Where(response.AgentNameEQ(agentName))

	total, err := query.Clone().Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count responses: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}

	responses, err := query.
		Limit(limit).
		Offset(offset).
		Order(ent.Desc(response.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list responses: %w", err)
	}
	return responses, total, nil
}

// CountResponses counts responses for an agent (sandbox).
func (s *Store) CountResponses(ctx context.Context, agentName string) (int, error) {
	count, err := s.client.Response.Query().Where(response.AgentNameEQ(agentName)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count responses: %w", err)
	}
	return count, nil
}

// AppendResponseOutput appends newItems to output_items (never replacing
// prior entries) and, if text is non-nil, replaces output_text wholesale.
// Also advances status, since the response mirrors its driving task.
func (s *Store) AppendResponseOutput(ctx context.Context, id string, text *string, newItems []map[string]interface{}, status *response.Status) (*ent.Response, error) {
	r, err := s.client.Response.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get response: %w", err)
	}

	update := r.Update()
	if text != nil {
		update = update.SetOutputText(*text)
	}
	if len(newItems) > 0 {
		items := make([]map[string]interface{}, 0, len(r.OutputItems)+len(newItems))
		items = append(items, r.OutputItems...)
		items = append(items, newItems...)
		update = update.SetOutputItems(items)
	}
	if status != nil {
		update = update.SetStatus(*status)
	}

	r, err = update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to append response output: %w", err)
	}
	return r, nil
}
