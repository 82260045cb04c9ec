package graph

import (
	"fmt"

	"github.com/google/uuid"
)

// Graph owns the node and edge sets of an agent.
//
// Graph is not safe for concurrent use. The editor that owns it funnels
// every change through the mutation methods below; a rejected mutation
// leaves the graph untouched.
type Graph struct {
	nodes []*Node
	index map[string]*Node
	edges []Edge
}

// New creates a graph holding the mandatory Input and Output nodes
// connected by a single edge.
func New() *Graph {
	g := newEmpty()
	in := g.insert(&Node{ID: uuid.NewString(), Kind: KindInput, Label: string(KindInput), Immutable: true, Position: Position{X: 0, Y: 0}})
	out := g.insert(&Node{ID: uuid.NewString(), Kind: KindOutput, Label: string(KindOutput), Immutable: true, Position: Position{X: 400, Y: 0}})
	g.edges = append(g.edges, Edge{ID: uuid.NewString(), SourceID: in.ID, TargetID: out.ID})
	return g
}

func newEmpty() *Graph {
	return &Graph{index: make(map[string]*Node)}
}

func (g *Graph) insert(n *Node) *Node {
	g.nodes = append(g.nodes, n)
	g.index[n.ID] = n
	return n
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.clone()
	}
	return out
}

// Edges returns a copy of the edge set.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// NodeByLabel returns a copy of the node currently carrying label.
func (g *Graph) NodeByLabel(label string) (*Node, bool) {
	for _, n := range g.nodes {
		if n.Label == label {
			return n.clone(), true
		}
	}
	return nil, false
}

// Input returns the graph's Input node.
func (g *Graph) Input() (*Node, bool) { return g.firstOfKind(KindInput) }

// Output returns the graph's Output node.
func (g *Graph) Output() (*Node, bool) { return g.firstOfKind(KindOutput) }

func (g *Graph) firstOfKind(k Kind) (*Node, bool) {
	for _, n := range g.nodes {
		if n.Kind == k {
			return n.clone(), true
		}
	}
	return nil, false
}

// Incoming returns the edges whose target is id.
func (g *Graph) Incoming(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.TargetID == id {
			out = append(out, e)
		}
	}
	return out
}

// Outgoing returns the edges whose source is id.
func (g *Graph) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.SourceID == id {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) labelTaken(label, exceptID string) bool {
	for _, n := range g.nodes {
		if n.ID != exceptID && n.Label == label {
			return true
		}
	}
	return false
}

// AddNode adds a node of the given kind at pos.
//
// Input and Output are rejected with ErrDuplicateSingletonNode when the
// graph already holds one. Other kinds get the lowest free label derived
// from label, or from the kind's base name ("Model", "Format",
// "Condition") when label sanitizes to nothing.
func (g *Graph) AddNode(kind Kind, label string, pos Position) (*Node, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if kind.Singleton() {
		if _, exists := g.firstOfKind(kind); exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSingletonNode, kind)
		}
		n := g.insert(&Node{ID: uuid.NewString(), Kind: kind, Label: string(kind), Immutable: true, Position: pos})
		return n.clone(), nil
	}

	want := SanitizeLabel(label)
	if want == "" {
		want = kind.baseLabel()
	}
	final := uniqueLabel(want, func(l string) bool { return g.labelTaken(l, "") })

	n := &Node{ID: uuid.NewString(), Kind: kind, Label: final, Position: pos}
	switch kind {
	case KindModel:
		n.Model = &ModelConfig{Streaming: true}
	case KindStringFormatter:
		n.Formatter = &FormatterConfig{}
	case KindConditional:
		n.Condition = &ConditionConfig{}
	}
	return g.insert(n).clone(), nil
}

// RemoveNode deletes a non-immutable node together with its incident edges.
func (g *Graph) RemoveNode(id string) error {
	n, ok := g.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if n.Immutable {
		return fmt.Errorf("%w: %s", ErrImmutableNode, n.Label)
	}
	g.removeNodes(map[string]bool{id: true})
	return nil
}

func (g *Graph) removeNodes(ids map[string]bool) {
	nodes := g.nodes[:0]
	for _, n := range g.nodes {
		if ids[n.ID] {
			delete(g.index, n.ID)
			continue
		}
		nodes = append(nodes, n)
	}
	g.nodes = nodes

	edges := g.edges[:0]
	for _, e := range g.edges {
		if ids[e.SourceID] || ids[e.TargetID] {
			continue
		}
		edges = append(edges, e)
	}
	g.edges = edges
}

// RenameNode relabels a node. Input and Output cannot be relabeled.
func (g *Graph) RenameNode(id, label string) error {
	n, ok := g.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err := g.checkRename(n, label); err != nil {
		return err
	}
	n.Label = label
	return nil
}

func (g *Graph) checkRename(n *Node, label string) error {
	if n.Immutable {
		return fmt.Errorf("%w: %s", ErrImmutableNode, n.Label)
	}
	if err := checkLabel(n.Kind, label); err != nil {
		return err
	}
	if g.labelTaken(label, n.ID) {
		return fmt.Errorf("%w: %q", ErrDuplicateLabel, label)
	}
	return nil
}

// Connect adds an edge from source to target. Parallel edges are allowed.
func (g *Graph) Connect(sourceID, targetID string, h Handles) (Edge, error) {
	if _, ok := g.index[sourceID]; !ok {
		return Edge{}, fmt.Errorf("%w: source %s", ErrNodeNotFound, sourceID)
	}
	if _, ok := g.index[targetID]; !ok {
		return Edge{}, fmt.Errorf("%w: target %s", ErrNodeNotFound, targetID)
	}
	e := Edge{
		ID:           uuid.NewString(),
		SourceID:     sourceID,
		TargetID:     targetID,
		SourceHandle: h.Source,
		TargetHandle: h.Target,
	}
	g.edges = append(g.edges, e)
	return e, nil
}

// RemoveEdge deletes a single edge by id.
func (g *Graph) RemoveEdge(id string) error {
	for i, e := range g.edges {
		if e.ID == id {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
}

// Delete removes an editor selection.
//
// When the selection holds an immutable node and no edge, nothing is
// removed and ErrExplicitDeletionRequired is returned: edges touching
// Input or Output only go away when selected themselves. Otherwise the
// selected edges and the selected non-immutable nodes are removed.
func (g *Graph) Delete(sel Selection) error {
	removeNodes := make(map[string]bool, len(sel.NodeIDs))
	for _, id := range sel.NodeIDs {
		n, ok := g.index[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		if n.Immutable {
			if len(sel.EdgeIDs) == 0 {
				return fmt.Errorf("%w: %s is immutable", ErrExplicitDeletionRequired, n.Label)
			}
			continue
		}
		removeNodes[id] = true
	}

	removeEdges := make(map[string]bool, len(sel.EdgeIDs))
	for _, id := range sel.EdgeIDs {
		found := false
		for _, e := range g.edges {
			if e.ID == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
		}
		removeEdges[id] = true
	}

	edges := g.edges[:0]
	for _, e := range g.edges {
		if !removeEdges[e.ID] {
			edges = append(edges, e)
		}
	}
	g.edges = edges
	g.removeNodes(removeNodes)
	return nil
}

// Apply is the single entry point for node editors pushing changes back.
// Every field of the update is checked before any of it is applied.
func (g *Graph) Apply(u NodeUpdate) error {
	n, ok := g.index[u.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, u.ID)
	}
	if u.Label != nil && *u.Label != n.Label {
		if err := g.checkRename(n, *u.Label); err != nil {
			return err
		}
	}
	if u.Model != nil {
		if n.Kind != KindModel {
			return fmt.Errorf("%w: model settings on %s node", ErrMetadataMismatch, n.Kind)
		}
		if u.Model.DynamicTools && len(u.Model.Tools) > 0 {
			return ErrToolsConflict
		}
	}
	if u.Formatter != nil && n.Kind != KindStringFormatter {
		return fmt.Errorf("%w: template on %s node", ErrMetadataMismatch, n.Kind)
	}
	if u.Condition != nil && n.Kind != KindConditional {
		return fmt.Errorf("%w: expressions on %s node", ErrMetadataMismatch, n.Kind)
	}

	tmp := (&Node{Model: u.Model, Formatter: u.Formatter, Condition: u.Condition}).clone()
	if u.Label != nil {
		n.Label = *u.Label
	}
	if u.Position != nil {
		n.Position = *u.Position
	}
	if tmp.Model != nil {
		n.Model = tmp.Model
	}
	if tmp.Formatter != nil {
		n.Formatter = tmp.Formatter
	}
	if tmp.Condition != nil {
		n.Condition = tmp.Condition
	}
	return nil
}
