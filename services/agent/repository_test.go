package agent

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentbuilder/api/services/graph"
)

var agentColumns = []string{"id", "name", "description", "tags", "nodes", "edges", "created_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestRepository_InitSchemaAndSeed(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS agents").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO agents").
		WithArgs(SampleAgentID, "Assistant", pgxmock.AnyArg(), []string{"sample"}, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, InitDB(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Get(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	nodes := []byte(`[{"id":"n1","label":"Input","nodeType":"Input","position":{"x":0,"y":0}}]`)

	mock.ExpectQuery("SELECT id, name, description").
		WithArgs("a1").
		WillReturnRows(pgxmock.NewRows(agentColumns).
			AddRow("a1", "Agent", "desc", []string{"x"}, nodes, []byte(`[]`), now, now))

	a, err := NewRepository(mock).Get(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Agent", a.Name)
	assert.Equal(t, []string{"x"}, a.Tags)
	require.Len(t, a.Nodes, 1)
	assert.Equal(t, "Input", a.Nodes[0].NodeType)
	assert.Empty(t, a.NodeEdges)
	assert.Equal(t, now, a.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Get_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT id, name, description").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	a, err := NewRepository(mock).Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestRepository_List(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, name, description").
		WillReturnRows(pgxmock.NewRows(agentColumns).
			AddRow("a1", "A", "", []string{}, []byte(`[]`), []byte(`[]`), now, now).
			AddRow("b1", "B", "", []string{}, []byte(`[]`), []byte(`[]`), now, now))

	agents, err := NewRepository(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "b1", agents[1].ID)
}

func TestRepository_Save(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	mock.ExpectQuery("INSERT INTO agents").
		WithArgs("a1", "Agent", "", []string{}, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, updated))

	a := &Agent{Document: graph.Document{ID: "a1", Name: "Agent"}}
	require.NoError(t, NewRepository(mock).Save(context.Background(), a))
	assert.Equal(t, created, a.CreatedAt)
	assert.Equal(t, updated, a.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }
	ctx := context.Background()

	a := &Agent{Document: graph.Document{Name: "B"}}
	require.NoError(t, repo.Save(ctx, a))
	require.NotEmpty(t, a.ID)

	clock = clock.Add(time.Minute)
	require.NoError(t, repo.Save(ctx, &Agent{Document: graph.Document{ID: a.ID, Name: "B2"}}))
	require.NoError(t, repo.Save(ctx, &Agent{Document: graph.Document{ID: "z", Name: "A"}}))

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "B2", got.Name)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Name)

	seeded, err := NewSeededMemoryRepository()
	require.NoError(t, err)
	sample, err := seeded.Get(ctx, SampleAgentID)
	require.NoError(t, err)
	require.NotNil(t, sample)
}

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping repository tests")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestRepository_Live(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.InitSchema(ctx))
	require.NoError(t, repo.InitSchema(ctx)) // idempotent
	require.NoError(t, repo.Seed(ctx))
	require.NoError(t, repo.Seed(ctx))

	a, err := repo.Get(ctx, SampleAgentID)
	require.NoError(t, err)
	require.NotNil(t, a)
	g, err := a.Graph()
	require.NoError(t, err)
	assert.True(t, graph.Validate(g).Valid)

	missing, err := repo.Get(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
