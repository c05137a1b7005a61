package store

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/blockedprincipal"
	"github.com/raworc/tsbx/ent/operator"
)

// BlockPrincipal adds a principal to the deny-list. Idempotent.
func (s *Store) BlockPrincipal(ctx context.Context, name string, ptype blockedprincipal.PrincipalType, reason string) error {
	create := s.client.BlockedPrincipal.Create().
		SetName(name).
		SetPrincipalType(ptype)
	if reason != "" {
		create = create.SetReason(reason)
	}

	err := create.OnConflictColumns("name", "principal_type").
		DoNothing().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to block principal: %w", err)
	}
	return nil
}

// UnblockPrincipal removes a principal from the deny-list.
func (s *Store) UnblockPrincipal(ctx context.Context, name string, ptype blockedprincipal.PrincipalType) error {
	_, err := s.client.BlockedPrincipal.Delete().
		Where(
			blockedprincipal.NameEQ(name),
			blockedprincipal.PrincipalTypeEQ(ptype),
		).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to unblock principal: %w", err)
	}
	return nil
}

// IsBlocked reports whether a principal is on the deny-list.
func (s *Store) IsBlocked(ctx context.Context, name string, ptype blockedprincipal.PrincipalType) (bool, error) {
	exists, err := s.client.BlockedPrincipal.Query().
		Where(
			blockedprincipal.NameEQ(name),
			blockedprincipal.PrincipalTypeEQ(ptype),
		).
		Exist(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check blocked principal: %w", err)
	}
	return exists, nil
}

// CreateOperator hashes the password and inserts the operator record.
func (s *Store) CreateOperator(ctx context.Context, name, password string, role operator.Role) (*ent.Operator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	op, err := s.client.Operator.Create().
		SetID(name).
		SetPasswordHash(string(hash)).
		SetRole(role).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}
	return op, nil
}

// GetOperator retrieves an operator by name.
func (s *Store) GetOperator(ctx context.Context, name string) (*ent.Operator, error) {
	op, err := s.client.Operator.Get(ctx, name)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return op, nil
}

// VerifyOperatorPassword checks a plaintext password against the stored
// hash and, on success, stamps last_login_at.
func (s *Store) VerifyOperatorPassword(ctx context.Context, name, password string) (*ent.Operator, error) {
	op, err := s.GetOperator(ctx, name)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
		return nil, ErrNotFound
	}

	op, err = op.Update().SetLastLoginAt(time.Now()).Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	return op, nil
}
