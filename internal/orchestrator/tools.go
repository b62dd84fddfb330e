package orchestrator

import "sync"

// ToolMapper recommends tools for a set of capabilities.
type ToolMapper interface {
	ToolsFor(capabilities []string) []string
}

// StaticToolMap is a ToolMapper backed by a capability to tools table.
// The table can be swapped at runtime, e.g. on config reload.
type StaticToolMap struct {
	mu sync.RWMutex
	m  map[string][]string
}

// NewStaticToolMap creates a StaticToolMap from a copy of m.
func NewStaticToolMap(m map[string][]string) *StaticToolMap {
	s := &StaticToolMap{}
	s.Replace(m)
	return s
}

// Replace swaps in a copy of m.
func (s *StaticToolMap) Replace(m map[string][]string) {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		cp[k] = append([]string(nil), v...)
	}
	s.mu.Lock()
	s.m = cp
	s.mu.Unlock()
}

// ToolsFor returns the union of tools for the capabilities, in first-seen
// order. Unknown capabilities contribute nothing.
func (s *StaticToolMap) ToolsFor(capabilities []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	out := []string{}
	for _, c := range capabilities {
		for _, tool := range s.m[c] {
			if _, dup := seen[tool]; dup {
				continue
			}
			seen[tool] = struct{}{}
			out = append(out, tool)
		}
	}
	return out
}
