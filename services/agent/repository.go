package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"agentbuilder/api/services/graph"
)

// AgentRepo abstracts agent persistence for testability.
type AgentRepo interface {
	Get(ctx context.Context, id string) (*Agent, error)
	List(ctx context.Context) ([]Agent, error)
	Save(ctx context.Context, a *Agent) error
}

// Querier is the subset of pgx used by Repository. *pgxpool.Pool, pgx.Tx
// and pgxmock pools satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles agent persistence in PostgreSQL.
type Repository struct {
	db Querier
}

// NewRepository creates a new Repository backed by db.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// InitSchema creates the agents table if it does not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			tags        TEXT[] NOT NULL DEFAULT '{}',
			nodes       JSONB NOT NULL DEFAULT '[]',
			edges       JSONB NOT NULL DEFAULT '[]',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Seed inserts the sample agent if it does not already exist.
func (r *Repository) Seed(ctx context.Context) error {
	a, err := sampleAgent()
	if err != nil {
		return fmt.Errorf("build seed agent: %w", err)
	}
	nodesJSON, edgesJSON, err := marshalGraph(a)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO agents (id, name, description, tags, nodes, edges)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.Name, a.Description, a.Tags, nodesJSON, edgesJSON)
	if err != nil {
		return fmt.Errorf("seed agent: %w", err)
	}
	return nil
}

// Get retrieves an agent by ID. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Agent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, description, tags, nodes, edges, created_at, updated_at
		FROM agents WHERE id = $1
	`, id)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// List returns every agent ordered by name.
func (r *Repository) List(ctx context.Context) ([]Agent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, tags, nodes, edges, created_at, updated_at
		FROM agents ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// Save inserts or replaces a. A missing ID is generated.
func (r *Repository) Save(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	nodesJSON, edgesJSON, err := marshalGraph(a)
	if err != nil {
		return err
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO agents (id, name, description, tags, nodes, edges)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			tags = EXCLUDED.tags,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`, a.ID, a.Name, a.Description, a.Tags, nodesJSON, edgesJSON).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var nodesJSON, edgesJSON []byte
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Tags, &nodesJSON, &edgesJSON, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodesJSON, &a.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &a.NodeEdges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return &a, nil
}

func marshalGraph(a *Agent) ([]byte, []byte, error) {
	nodes := a.Nodes
	if nodes == nil {
		nodes = []graph.DocumentNode{}
	}
	edges := a.NodeEdges
	if edges == nil {
		edges = []graph.DocumentEdge{}
	}
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal edges: %w", err)
	}
	return nodesJSON, edgesJSON, nil
}

// InitDB creates the schema and seeds initial data. Called from main on startup.
func InitDB(ctx context.Context, db Querier) error {
	repo := NewRepository(db)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}
	return repo.Seed(ctx)
}

// MemoryRepository keeps agents in process memory. It backs the server
// when no database is configured.
type MemoryRepository struct {
	mu     sync.RWMutex
	agents map[string]Agent
	now    func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{agents: make(map[string]Agent), now: time.Now}
}

// NewSeededMemoryRepository creates an in-memory repository holding the sample agent.
func NewSeededMemoryRepository() (*MemoryRepository, error) {
	r := NewMemoryRepository()
	a, err := sampleAgent()
	if err != nil {
		return nil, err
	}
	if err := r.Save(context.Background(), a); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *MemoryRepository) List(context.Context) ([]Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) Save(_ context.Context, a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	now := r.now().UTC()
	if prev, ok := r.agents[a.ID]; ok {
		a.CreatedAt = prev.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.agents[a.ID] = *a
	return nil
}

// SampleAgentID is the id of the agent created by Seed.
const SampleAgentID = "550e8400-e29b-41d4-a716-446655440000"

// sampleAgent builds a small agent: the user's message goes to a model whose
// answer is checked by a conditional before reaching Output.
func sampleAgent() (*Agent, error) {
	g := graph.New()
	in, _ := g.Input()
	out, _ := g.Output()
	for _, e := range g.Edges() {
		if err := g.RemoveEdge(e.ID); err != nil {
			return nil, err
		}
	}

	model, err := g.AddNode(graph.KindModel, "Assistant", graph.Position{X: 200, Y: 0})
	if err != nil {
		return nil, err
	}
	if err := g.Apply(graph.NodeUpdate{ID: model.ID, Model: &graph.ModelConfig{
		ProviderID:   "openai",
		ModelID:      "gpt-4o-mini",
		DynamicTools: true,
		Streaming:    true,
	}}); err != nil {
		return nil, err
	}
	format, err := g.AddNode(graph.KindStringFormatter, "Apology", graph.Position{X: 400, Y: 150})
	if err != nil {
		return nil, err
	}
	if err := g.Apply(graph.NodeUpdate{ID: format.ID, Formatter: &graph.FormatterConfig{
		Template: "Sorry, I could not produce an answer.",
	}}); err != nil {
		return nil, err
	}
	check, err := g.AddNode(graph.KindConditional, "HasAnswer", graph.Position{X: 300, Y: 0})
	if err != nil {
		return nil, err
	}
	if err := g.Apply(graph.NodeUpdate{ID: check.ID, Condition: &graph.ConditionConfig{
		Expressions: []string{`input matches ".+"`},
	}}); err != nil {
		return nil, err
	}

	links := []struct {
		from, to, handle string
	}{
		{in.ID, model.ID, ""},
		{model.ID, check.ID, ""},
		{check.ID, out.ID, "0"},
		{check.ID, format.ID, ElseHandle},
		{format.ID, out.ID, ""},
	}
	for _, l := range links {
		if _, err := g.Connect(l.from, l.to, graph.Handles{Source: l.handle}); err != nil {
			return nil, err
		}
	}

	doc, err := graph.Export(g, graph.Info{
		ID:          SampleAgentID,
		Name:        "Assistant",
		Description: "Answers with a model and falls back to a fixed reply",
		Tags:        []string{"sample"},
	})
	if err != nil {
		return nil, err
	}
	return &Agent{Document: doc}, nil
}
