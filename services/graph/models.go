package graph

// Kind identifies the processing behaviour of a node.
type Kind string

const (
	KindInput           Kind = "Input"
	KindOutput          Kind = "Output"
	KindModel           Kind = "Model"
	KindStringFormatter Kind = "StringFormatter"
	KindConditional     Kind = "Conditional"
)

// Valid reports whether k is one of the known node kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindInput, KindOutput, KindModel, KindStringFormatter, KindConditional:
		return true
	}
	return false
}

// Singleton reports whether a graph holds exactly one node of this kind.
// Singleton nodes are also immutable.
func (k Kind) Singleton() bool {
	return k == KindInput || k == KindOutput
}

// baseLabel is the canonical label prefix used when auto-naming new nodes.
func (k Kind) baseLabel() string {
	switch k {
	case KindModel:
		return "Model"
	case KindStringFormatter:
		return "Format"
	case KindConditional:
		return "Condition"
	default:
		return string(k)
	}
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a single processing step in an agent graph.
// Exactly one of the metadata pointers is set for Model, StringFormatter
// and Conditional nodes; Input and Output carry none.
type Node struct {
	ID        string
	Kind      Kind
	Label     string
	Immutable bool
	Position  Position

	Model     *ModelConfig
	Formatter *FormatterConfig
	Condition *ConditionConfig
}

// ModelConfig configures a Model node.
type ModelConfig struct {
	ProviderID   string         `json:"providerId"`
	ModelID      string         `json:"modelId"`
	PromptIDs    []string       `json:"promptIds,omitempty"`
	Tools        []string       `json:"tools,omitempty"`
	DynamicTools bool           `json:"dynamicTools,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Streaming    bool           `json:"streaming"`
}

// FormatterConfig configures a StringFormatter node.
type FormatterConfig struct {
	Template string `json:"template"`
}

// ConditionConfig configures a Conditional node. Expressions are evaluated in order.
type ConditionConfig struct {
	Expressions []string `json:"expressions"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID           string
	SourceID     string
	TargetID     string
	SourceHandle string
	TargetHandle string
}

// Handles optionally names the connection points used by an edge.
type Handles struct {
	Source string
	Target string
}

// Selection is the set of nodes and edges an editor asks to delete.
type Selection struct {
	NodeIDs []string
	EdgeIDs []string
}

// NodeUpdate is the message a node editor sends back to the graph owner.
// Nil fields are left unchanged.
type NodeUpdate struct {
	ID        string
	Label     *string
	Position  *Position
	Model     *ModelConfig
	Formatter *FormatterConfig
	Condition *ConditionConfig
}

func (n *Node) clone() *Node {
	c := *n
	if n.Model != nil {
		m := *n.Model
		m.PromptIDs = append([]string(nil), n.Model.PromptIDs...)
		m.Tools = append([]string(nil), n.Model.Tools...)
		if n.Model.Parameters != nil {
			m.Parameters = make(map[string]any, len(n.Model.Parameters))
			for k, v := range n.Model.Parameters {
				m.Parameters[k] = v
			}
		}
		c.Model = &m
	}
	if n.Formatter != nil {
		f := *n.Formatter
		c.Formatter = &f
	}
	if n.Condition != nil {
		cc := ConditionConfig{Expressions: append([]string(nil), n.Condition.Expressions...)}
		c.Condition = &cc
	}
	return &c
}
