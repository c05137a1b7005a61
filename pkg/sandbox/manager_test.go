package sandbox

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raworc/tsbx/ent"
	entsandbox "github.com/raworc/tsbx/ent/sandbox"
	"github.com/raworc/tsbx/pkg/store"
)

// newTestManager mirrors pkg/store's own test helper (duplicated per
// the teacher's own "avoiding import cycle with test helpers" pattern).
func newTestManager(t *testing.T) *Manager {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	entClient := ent.NewClient(ent.Driver(drv))
	require.NoError(t, entClient.Schema.Create(ctx))
	t.Cleanup(func() { entClient.Close() })

	return New(store.New(entClient))
}

func TestCreateSandboxValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateSandbox(ctx, CreateSandboxRequest{CreatedBy: "tester"})
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)

	_, err = m.CreateSandbox(ctx, CreateSandboxRequest{Name: "Not_Valid", CreatedBy: "tester"})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = m.CreateSandbox(ctx, CreateSandboxRequest{Name: "ok-name", CreatedBy: "tester", IdleTimeoutSeconds: 5})
	assert.ErrorAs(t, err, &valErr)
}

func TestCreateSandboxEnqueuesCreateTask(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sb, err := m.CreateSandbox(ctx, CreateSandboxRequest{
		Name:        "sbx-create",
		CreatedBy:   "tester",
		SetupScript: "echo hi",
	})
	require.NoError(t, err)
	assert.Equal(t, entsandbox.StateInitializing, sb.State)

	_, err = m.CreateSandbox(ctx, CreateSandboxRequest{Name: "sbx-create", CreatedBy: "tester"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSandboxStateTransitions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateSandbox(ctx, CreateSandboxRequest{Name: "sbx-state", CreatedBy: "tester"})
	require.NoError(t, err)

	require.NoError(t, m.UpdateSandboxState(ctx, "sbx-state", entsandbox.StateIdle))

	require.NoError(t, m.MarkBusy(ctx, "sbx-state"))
	require.NoError(t, m.MarkBusy(ctx, "sbx-state")) // idempotent

	require.NoError(t, m.MarkIdle(ctx, "sbx-state"))

	require.NoError(t, m.Terminate(ctx, "sbx-state"))
	require.NoError(t, m.Terminate(ctx, "sbx-state")) // idempotent once terminating

	err = m.MarkBusy(ctx, "sbx-state")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = m.GetSandbox(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemix(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateSandbox(ctx, CreateSandboxRequest{
		Name:        "sbx-parent",
		CreatedBy:   "tester",
		Description: "parent sandbox",
		EnvSecrets:  map[string]string{"TOKEN": "secret"},
	})
	require.NoError(t, err)

	_, err = m.Remix(ctx, RemixRequest{ParentName: "does-not-exist", NewName: "child"})
	assert.ErrorIs(t, err, ErrNotFound)

	child, err := m.Remix(ctx, RemixRequest{
		ParentName:  "sbx-parent",
		NewName:     "sbx-child",
		CreatedBy:   "tester",
		CopySecrets: true,
	})
	require.NoError(t, err)
	require.NotNil(t, child.Description)
	assert.Equal(t, "parent sandbox", *child.Description)
	assert.Equal(t, "secret", child.EnvSecrets["TOKEN"])
	require.NotNil(t, child.ParentSandbox)
	assert.Equal(t, "sbx-parent", *child.ParentSandbox)
}
