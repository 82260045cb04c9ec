package graph

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Document is the import/export representation of an agent.
type Document struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags"`
	Nodes       []DocumentNode `json:"nodes"`
	NodeEdges   []DocumentEdge `json:"nodeEdges"`
}

// DocumentNode is a node as it appears in a Document.
type DocumentNode struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	NodeType string          `json:"nodeType"`
	Position Position        `json:"position"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// DocumentEdge is an edge as it appears in a Document.
type DocumentEdge struct {
	ID               string `json:"id"`
	SourceNodeID     string `json:"sourceNodeId"`
	TargetNodeID     string `json:"targetNodeId"`
	SourceNodeHandle string `json:"sourceNodeHandle"`
	TargetNodeHandle string `json:"targetNodeHandle"`
}

// Info carries the descriptive fields of an agent that live beside its graph.
type Info struct {
	ID          string
	Name        string
	Description string
	Tags        []string
}

// Export converts g into its exchange document.
func Export(g *Graph, info Info) (Document, error) {
	doc := Document{
		ID:          info.ID,
		Name:        info.Name,
		Description: info.Description,
		Tags:        append([]string{}, info.Tags...),
		Nodes:       make([]DocumentNode, 0, len(g.nodes)),
		NodeEdges:   make([]DocumentEdge, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		meta, err := encodeMetadata(n)
		if err != nil {
			return Document{}, fmt.Errorf("encode metadata for %s: %w", n.Label, err)
		}
		doc.Nodes = append(doc.Nodes, DocumentNode{
			ID:       n.ID,
			Label:    n.Label,
			NodeType: string(n.Kind),
			Position: n.Position,
			Metadata: meta,
		})
	}
	for _, e := range g.edges {
		doc.NodeEdges = append(doc.NodeEdges, DocumentEdge{
			ID:               e.ID,
			SourceNodeID:     e.SourceID,
			TargetNodeID:     e.TargetID,
			SourceNodeHandle: e.SourceHandle,
			TargetNodeHandle: e.TargetHandle,
		})
	}
	return doc, nil
}

func encodeMetadata(n *Node) (json.RawMessage, error) {
	var v any
	switch n.Kind {
	case KindModel:
		v = n.Model
	case KindStringFormatter:
		v = n.Formatter
	case KindConditional:
		v = n.Condition
	default:
		return nil, nil
	}
	return json.Marshal(v)
}

// Import rebuilds a graph from doc, enforcing the graph invariants:
// one Input, one Output, valid unique labels and edges between existing
// nodes. Edges without an id get a fresh one.
func Import(doc Document) (*Graph, Info, error) {
	g := newEmpty()
	info := Info{ID: doc.ID, Name: doc.Name, Description: doc.Description, Tags: doc.Tags}

	for _, dn := range doc.Nodes {
		kind := Kind(dn.NodeType)
		if !kind.Valid() {
			return nil, Info{}, fmt.Errorf("%w: node %q has unknown type %q", ErrInvalidDocument, dn.Label, dn.NodeType)
		}
		id := dn.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := g.index[id]; dup {
			return nil, Info{}, fmt.Errorf("%w: duplicate node id %s", ErrInvalidDocument, id)
		}

		n := &Node{ID: id, Kind: kind, Label: dn.Label, Position: dn.Position}
		if kind.Singleton() {
			if _, exists := g.firstOfKind(kind); exists {
				return nil, Info{}, fmt.Errorf("%w: %w", ErrInvalidDocument, ErrDuplicateSingletonNode)
			}
			n.Label = string(kind)
			n.Immutable = true
		} else {
			if err := checkLabel(kind, n.Label); err != nil {
				return nil, Info{}, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
			}
			if g.labelTaken(n.Label, "") {
				return nil, Info{}, fmt.Errorf("%w: %w: %q", ErrInvalidDocument, ErrDuplicateLabel, n.Label)
			}
		}
		if err := decodeMetadata(n, dn.Metadata); err != nil {
			return nil, Info{}, fmt.Errorf("%w: node %q: %w", ErrInvalidDocument, n.Label, err)
		}
		g.insert(n)
	}

	for _, k := range []Kind{KindInput, KindOutput} {
		if _, ok := g.firstOfKind(k); !ok {
			return nil, Info{}, fmt.Errorf("%w: missing %s node", ErrInvalidDocument, k)
		}
	}

	for _, de := range doc.NodeEdges {
		if _, ok := g.index[de.SourceNodeID]; !ok {
			return nil, Info{}, fmt.Errorf("%w: edge source %s: %w", ErrInvalidDocument, de.SourceNodeID, ErrNodeNotFound)
		}
		if _, ok := g.index[de.TargetNodeID]; !ok {
			return nil, Info{}, fmt.Errorf("%w: edge target %s: %w", ErrInvalidDocument, de.TargetNodeID, ErrNodeNotFound)
		}
		id := de.ID
		if id == "" {
			id = uuid.NewString()
		}
		g.edges = append(g.edges, Edge{
			ID:           id,
			SourceID:     de.SourceNodeID,
			TargetID:     de.TargetNodeID,
			SourceHandle: de.SourceNodeHandle,
			TargetHandle: de.TargetNodeHandle,
		})
	}
	return g, info, nil
}

func decodeMetadata(n *Node, raw json.RawMessage) error {
	empty := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
	switch n.Kind {
	case KindModel:
		n.Model = &ModelConfig{}
		if !empty {
			if err := json.Unmarshal(raw, n.Model); err != nil {
				return err
			}
		}
	case KindStringFormatter:
		n.Formatter = &FormatterConfig{}
		if !empty {
			if err := json.Unmarshal(raw, n.Formatter); err != nil {
				return err
			}
		}
	case KindConditional:
		n.Condition = &ConditionConfig{}
		if !empty {
			if err := json.Unmarshal(raw, n.Condition); err != nil {
				return err
			}
		}
	}
	return nil
}
