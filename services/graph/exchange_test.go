package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type edgeKey struct{ source, target string }

func edgePairs(g *Graph) []edgeKey {
	var out []edgeKey
	for _, e := range g.Edges() {
		s, _ := g.Node(e.SourceID)
		d, _ := g.Node(e.TargetID)
		out = append(out, edgeKey{s.Label, d.Label})
	}
	return out
}

func sampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	in, _ := g.Input()
	out, _ := g.Output()
	m, err := g.AddNode(KindModel, "Writer", Position{X: 100, Y: 50})
	require.NoError(t, err)
	c, err := g.AddNode(KindConditional, "", Position{X: 200})
	require.NoError(t, err)
	f, err := g.AddNode(KindStringFormatter, "", Position{X: 300})
	require.NoError(t, err)

	require.NoError(t, g.Apply(NodeUpdate{ID: m.ID, Model: &ModelConfig{
		ProviderID: "openai", ModelID: "gpt-4o", Tools: []string{"datetime"},
		Parameters: map[string]any{"temperature": 0.2}, Streaming: true,
	}}))
	require.NoError(t, g.Apply(NodeUpdate{ID: c.ID, Condition: &ConditionConfig{Expressions: []string{`Writer contains "yes"`}}}))
	require.NoError(t, g.Apply(NodeUpdate{ID: f.ID, Formatter: &FormatterConfig{Template: "Result: {{Writer}}"}}))

	for _, pair := range [][2]string{{in.ID, m.ID}, {m.ID, c.ID}, {m.ID, f.ID}, {f.ID, out.ID}} {
		_, err := g.Connect(pair[0], pair[1], Handles{})
		require.NoError(t, err)
	}
	_, err = g.Connect(c.ID, f.ID, Handles{Source: "0"})
	require.NoError(t, err)
	return g
}

func TestExportImport_RoundTrip(t *testing.T) {
	g := sampleGraph(t)
	info := Info{ID: "agent-1", Name: "Writer agent", Description: "writes", Tags: []string{"demo"}}

	doc, err := Export(g, info)
	require.NoError(t, err)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var decoded Document
	require.NoError(t, json.Unmarshal(raw, &decoded))

	got, gotInfo, err := Import(decoded)
	require.NoError(t, err)
	assert.Equal(t, info, gotInfo)

	require.Len(t, got.Nodes(), len(g.Nodes()))
	for _, n := range g.Nodes() {
		m, ok := got.NodeByLabel(n.Label)
		require.True(t, ok, n.Label)
		assert.Equal(t, n.Kind, m.Kind)
		assert.Equal(t, n.Immutable, m.Immutable)
		assert.Equal(t, n.Position, m.Position)
	}
	assert.ElementsMatch(t, edgePairs(g), edgePairs(got))

	w, _ := got.NodeByLabel("Writer")
	assert.Equal(t, "gpt-4o", w.Model.ModelID)
	assert.Equal(t, []string{"datetime"}, w.Model.Tools)
	assert.Equal(t, 0.2, w.Model.Parameters["temperature"])

	f, _ := got.NodeByLabel("Format")
	assert.Equal(t, "Result: {{Writer}}", f.Formatter.Template)

	var handle string
	for _, e := range got.Edges() {
		if e.SourceHandle != "" {
			handle = e.SourceHandle
		}
	}
	assert.Equal(t, "0", handle)
}

func TestExport_WireFieldNames(t *testing.T) {
	doc, err := Export(New(), Info{ID: "a"})
	require.NoError(t, err)
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	for _, key := range []string{"id", "name", "description", "tags", "nodes", "nodeEdges"} {
		assert.Contains(t, generic, key)
	}
	node := generic["nodes"].([]any)[0].(map[string]any)
	assert.Contains(t, node, "nodeType")
	assert.Contains(t, node, "position")
	edge := generic["nodeEdges"].([]any)[0].(map[string]any)
	for _, key := range []string{"sourceNodeId", "targetNodeId", "sourceNodeHandle", "targetNodeHandle"} {
		assert.Contains(t, edge, key)
	}
}

func TestImport_RegeneratesMissingEdgeIDs(t *testing.T) {
	doc := Document{
		Nodes: []DocumentNode{
			{ID: "in", Label: "Input", NodeType: "Input"},
			{ID: "out", Label: "Output", NodeType: "Output"},
		},
		NodeEdges: []DocumentEdge{{SourceNodeID: "in", TargetNodeID: "out"}},
	}
	g, _, err := Import(doc)
	require.NoError(t, err)
	require.Len(t, g.Edges(), 1)
	assert.NotEmpty(t, g.Edges()[0].ID)
}

func TestImport_Rejections(t *testing.T) {
	io := []DocumentNode{
		{ID: "in", Label: "Input", NodeType: "Input"},
		{ID: "out", Label: "Output", NodeType: "Output"},
	}
	tests := []struct {
		name  string
		nodes []DocumentNode
		edges []DocumentEdge
	}{
		{"missing output", io[:1], nil},
		{"second input", append(append([]DocumentNode{}, io...), DocumentNode{ID: "in2", NodeType: "Input"}), nil},
		{"unknown type", append(append([]DocumentNode{}, io...), DocumentNode{ID: "x", Label: "X", NodeType: "Webhook"}), nil},
		{"bad label", append(append([]DocumentNode{}, io...), DocumentNode{ID: "x", Label: "a b", NodeType: "Model"}), nil},
		{"reserved label", append(append([]DocumentNode{}, io...), DocumentNode{ID: "x", Label: "Output", NodeType: "Model"}), nil},
		{"duplicate label", append(append([]DocumentNode{}, io...),
			DocumentNode{ID: "x", Label: "A", NodeType: "Model"},
			DocumentNode{ID: "y", Label: "A", NodeType: "Conditional"}), nil},
		{"dangling edge", io, []DocumentEdge{{ID: "e", SourceNodeID: "in", TargetNodeID: "ghost"}}},
		{"bad metadata", append(append([]DocumentNode{}, io...), DocumentNode{ID: "x", Label: "M", NodeType: "Model", Metadata: []byte(`"oops"`)}), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Import(Document{Nodes: tt.nodes, NodeEdges: tt.edges})
			require.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestImport_NormalizesIOLabels(t *testing.T) {
	doc := Document{
		Nodes: []DocumentNode{
			{ID: "in", Label: "Start", NodeType: "Input"},
			{ID: "out", Label: "", NodeType: "Output"},
		},
	}
	g, _, err := Import(doc)
	require.NoError(t, err)
	in, _ := g.Input()
	out, _ := g.Output()
	assert.Equal(t, "Input", in.Label)
	assert.Equal(t, "Output", out.Label)
}
