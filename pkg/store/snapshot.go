package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/snapshot"
)

// CreateSnapshot records an immutable capture of a sandbox's state.
func (s *Store) CreateSnapshot(ctx context.Context, sandboxName string, trigger snapshot.TriggerType, metadata map[string]interface{}) (*ent.Snapshot, error) {
	create := s.client.Snapshot.Create().
		SetID(uuid.New().String()).
		SetSandboxName(sandboxName).
		SetTriggerType(trigger)
	if metadata != nil {
		create = create.SetMetadata(metadata)
	}

	sn, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	return sn, nil
}

// GetSnapshot retrieves a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*ent.Snapshot, error) {
	sn, err := s.client.Snapshot.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return sn, nil
}

// ListSnapshots lists snapshots, optionally scoped to one sandbox.
func (s *Store) ListSnapshots(ctx context.Context, sandboxName string, limit, offset int) ([]*ent.Snapshot, int, error) {
	query := s.client.Snapshot.Query()
	if sandboxName != "" {
		query = query.Where(snapshot.SandboxNameEQ(sandboxName))
	}

	total, err := query.Clone().Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count snapshots: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}

	snapshots, err := query.
		Limit(limit).
		Offset(offset).
		Order(ent.Desc(snapshot.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snapshots, total, nil
}

// DeleteSnapshot removes a snapshot by id.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	err := s.client.Snapshot.DeleteOneID(id).Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
