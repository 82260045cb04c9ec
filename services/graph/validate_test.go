package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_NewGraphIsValid(t *testing.T) {
	res := Validate(New())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidate_ModelNeedsProviderAndModel(t *testing.T) {
	g := New()
	in, _ := g.Input()
	m, _ := g.AddNode(KindModel, "", Position{})
	_, _ = g.Connect(in.ID, m.ID, Handles{})

	res := Validate(g)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, SeverityError, res.Errors[0].Severity)
	assert.Contains(t, res.Errors[0].Message, "provider")

	require.NoError(t, g.Apply(NodeUpdate{ID: m.ID, Model: &ModelConfig{ProviderID: "openai"}}))
	assert.False(t, Validate(g).Valid, "model id still missing")

	require.NoError(t, g.Apply(NodeUpdate{ID: m.ID, Model: &ModelConfig{ProviderID: "openai", ModelID: "gpt-4o"}}))
	assert.True(t, Validate(g).Valid)
}

func TestValidate_FormatterReferencesMustBeConnected(t *testing.T) {
	g := New()
	in, _ := g.Input()
	m, _ := g.AddNode(KindModel, "Writer", Position{})
	f, _ := g.AddNode(KindStringFormatter, "", Position{})
	require.NoError(t, g.Apply(NodeUpdate{ID: m.ID, Model: &ModelConfig{ProviderID: "p", ModelID: "m"}}))
	_, _ = g.Connect(in.ID, m.ID, Handles{})
	_, _ = g.Connect(in.ID, f.ID, Handles{})

	tmpl := "Question: {{Input}} Answer: {{Writer}}"
	require.NoError(t, g.Apply(NodeUpdate{ID: f.ID, Formatter: &FormatterConfig{Template: tmpl}}))

	res := Validate(g)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, `"Writer"`)

	_, _ = g.Connect(m.ID, f.ID, Handles{})
	assert.True(t, Validate(g).Valid)
}

func TestValidate_CollectsAllFindingsInOrder(t *testing.T) {
	g := New()
	in, _ := g.Input()
	m, _ := g.AddNode(KindModel, "", Position{})
	f, _ := g.AddNode(KindStringFormatter, "", Position{})
	_, _ = g.Connect(in.ID, m.ID, Handles{})
	_, _ = g.Connect(in.ID, f.ID, Handles{})
	require.NoError(t, g.Apply(NodeUpdate{ID: f.ID, Formatter: &FormatterConfig{Template: "{{Ghost}}"}}))

	res := Validate(g)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0].Message, "provider", "model check runs first")
	assert.Contains(t, res.Errors[1].Message, "Ghost")
}

func TestValidate_Warnings(t *testing.T) {
	g := New()
	_, _ = g.AddNode(KindConditional, "", Position{})

	res := Validate(g)
	assert.True(t, res.Valid, "warnings do not invalidate")
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0].Message, "no expressions")
	assert.Contains(t, res.Warnings[1].Message, "not reachable")
	assert.Len(t, res.Findings(), 2)
}

func TestValidate_ToolsConflictFromImport(t *testing.T) {
	doc := Document{
		Nodes: []DocumentNode{
			{ID: "in", Label: "Input", NodeType: "Input"},
			{ID: "m", Label: "Model", NodeType: "Model", Metadata: []byte(`{"providerId":"p","modelId":"m","tools":["a"],"dynamicTools":true}`)},
			{ID: "out", Label: "Output", NodeType: "Output"},
		},
		NodeEdges: []DocumentEdge{
			{ID: "e1", SourceNodeID: "in", TargetNodeID: "m"},
			{ID: "e2", SourceNodeID: "m", TargetNodeID: "out"},
		},
	}
	g, _, err := Import(doc)
	require.NoError(t, err)

	res := Validate(g)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "dynamic tools")
}

func TestTemplate_ReferencesAndRender(t *testing.T) {
	tmpl := "{{ Input }} and {{Writer}} then {{Input}} {{missing}}"
	assert.Equal(t, []string{"Input", "Writer", "missing"}, TemplateReferences(tmpl))

	out := RenderTemplate(tmpl, map[string]any{"Input": "hi", "Writer": 42})
	assert.Equal(t, "hi and 42 then hi {{missing}}", out)
}
