package tools

import (
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Catalog is a thread-safe set of tools keyed by name.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewCatalog creates a catalog holding the given tools.
func NewCatalog(tools ...Tool) *Catalog {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Add(tools...)
	return c
}

// Add registers tools, replacing any with the same name.
func (c *Catalog) Add(tools ...Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tools {
		c.tools[t.Info().Name] = t
	}
}

// Names returns the registered tool names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedNames()
}

func (c *Catalog) sortedNames() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a free-text tool identifier to a registered tool.
//
// Identifiers coming from stored agents and from models are not reliable,
// so matching falls back in this order, stopping at the first hit:
//  1. exact name
//  2. case-insensitive name
//  3. normalized name (lowercase, letters and digits only), so "date_time"
//     finds "DateTime"
//  4. prefix: the one tool whose normalized name starts with the normalized
//     identifier, or that the identifier starts with. Ambiguous prefixes
//     resolve to nothing.
//
// Steps 2 and 3 try names in sorted order, so the first sorted match wins
// when several names fold to the same key.
func (c *Catalog) Lookup(id string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if t, ok := c.tools[id]; ok {
		return t, true
	}
	names := c.sortedNames()
	for _, name := range names {
		if strings.EqualFold(name, id) {
			return c.tools[name], true
		}
	}

	want := normalize(id)
	if want == "" {
		return nil, false
	}
	for _, name := range names {
		if normalize(name) == want {
			return c.tools[name], true
		}
	}

	var match Tool
	matches := 0
	for name, t := range c.tools {
		n := normalize(name)
		if strings.HasPrefix(n, want) || strings.HasPrefix(want, n) {
			match = t
			matches++
		}
	}
	if matches == 1 {
		return match, true
	}
	return nil, false
}

// Resolve looks up every id, returning the tools found and the ids that
// matched nothing.
func (c *Catalog) Resolve(ids []string) ([]Tool, []string) {
	var found []Tool
	var missing []string
	seen := make(map[string]bool)
	for _, id := range ids {
		t, ok := c.Lookup(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		if name := t.Info().Name; !seen[name] {
			seen[name] = true
			found = append(found, t)
		}
	}
	return found, missing
}

// All returns every registered tool sorted by name.
func (c *Catalog) All() []Tool {
	names := c.Names()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if t, ok := c.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
