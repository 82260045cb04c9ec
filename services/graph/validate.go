package graph

import "fmt"

// Severity grades a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is a single validation problem.
type Finding struct {
	Severity Severity `json:"severity"`
	NodeID   string   `json:"nodeId,omitempty"`
	Message  string   `json:"message"`
}

// Result aggregates the findings of a validation run.
// Valid is false as soon as one finding has error severity.
type Result struct {
	Valid    bool      `json:"valid"`
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings,omitempty"`
}

// Findings returns errors followed by warnings.
func (r Result) Findings() []Finding {
	return append(append([]Finding(nil), r.Errors...), r.Warnings...)
}

// Validate runs every check over g and reports all failures; it never stops
// at the first one. Checks run in a fixed order: model selection,
// formatter references, tool settings, dangling edges, conditional
// expressions, reachability.
func Validate(g *Graph) Result {
	var findings []Finding
	for _, check := range checks {
		findings = append(findings, check(g)...)
	}

	res := Result{Valid: true, Errors: []Finding{}}
	for _, f := range findings {
		if f.Severity == SeverityError {
			res.Valid = false
			res.Errors = append(res.Errors, f)
		} else {
			res.Warnings = append(res.Warnings, f)
		}
	}
	return res
}

var checks = []func(*Graph) []Finding{
	checkModelSelection,
	checkFormatterReferences,
	checkModelTools,
	checkEdgeEndpoints,
	checkConditionals,
	checkReachability,
}

func checkModelSelection(g *Graph) []Finding {
	var out []Finding
	for _, n := range g.nodes {
		if n.Kind != KindModel {
			continue
		}
		if n.Model == nil || n.Model.ProviderID == "" || n.Model.ModelID == "" {
			out = append(out, Finding{
				Severity: SeverityError,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("Model node %q must have a provider and a model selected", n.Label),
			})
		}
	}
	return out
}

func checkFormatterReferences(g *Graph) []Finding {
	var out []Finding
	for _, n := range g.nodes {
		if n.Kind != KindStringFormatter || n.Formatter == nil {
			continue
		}
		connected := make(map[string]bool)
		for _, e := range g.Incoming(n.ID) {
			if src, ok := g.index[e.SourceID]; ok {
				connected[src.Label] = true
			}
		}
		for _, ref := range TemplateReferences(n.Formatter.Template) {
			if !connected[ref] {
				out = append(out, Finding{
					Severity: SeverityError,
					NodeID:   n.ID,
					Message:  fmt.Sprintf("Format node %q references %q, which is not connected as an input", n.Label, ref),
				})
			}
		}
	}
	return out
}

func checkModelTools(g *Graph) []Finding {
	var out []Finding
	for _, n := range g.nodes {
		if n.Kind == KindModel && n.Model != nil && n.Model.DynamicTools && len(n.Model.Tools) > 0 {
			out = append(out, Finding{
				Severity: SeverityError,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("Model node %q cannot use dynamic tools together with an explicit tool list", n.Label),
			})
		}
	}
	return out
}

func checkEdgeEndpoints(g *Graph) []Finding {
	var out []Finding
	for _, e := range g.edges {
		_, src := g.index[e.SourceID]
		_, dst := g.index[e.TargetID]
		if !src || !dst {
			out = append(out, Finding{
				Severity: SeverityError,
				Message:  fmt.Sprintf("edge %s references a missing node", e.ID),
			})
		}
	}
	return out
}

func checkConditionals(g *Graph) []Finding {
	var out []Finding
	for _, n := range g.nodes {
		if n.Kind == KindConditional && (n.Condition == nil || len(n.Condition.Expressions) == 0) {
			out = append(out, Finding{
				Severity: SeverityWarning,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("Condition node %q has no expressions and always takes the else branch", n.Label),
			})
		}
	}
	return out
}

func checkReachability(g *Graph) []Finding {
	in, ok := g.firstOfKind(KindInput)
	if !ok {
		return nil
	}
	seen := map[string]bool{in.ID: true}
	queue := []string{in.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(id) {
			if !seen[e.TargetID] {
				seen[e.TargetID] = true
				queue = append(queue, e.TargetID)
			}
		}
	}

	var out []Finding
	for _, n := range g.nodes {
		if !seen[n.ID] {
			out = append(out, Finding{
				Severity: SeverityWarning,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("node %q is not reachable from Input", n.Label),
			})
		}
	}
	return out
}
