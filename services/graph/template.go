package graph

import (
	"fmt"
	"regexp"
)

// placeholderPattern matches {{Label}} references inside a formatter template.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_-]+)\s*\}\}`)

// TemplateReferences returns the distinct labels referenced by tmpl, in order of first use.
func TemplateReferences(tmpl string) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}
	return refs
}

// RenderTemplate replaces every {{Label}} with values[Label].
// Unknown references are left in place.
func RenderTemplate(tmpl string, values map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		label := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := values[label]
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", v)
	})
}
