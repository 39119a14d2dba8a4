package core

import (
	"sort"
	"strings"
)

// Path is one root-to-leaf sequence of state ids. A configuration holds one
// path per concurrently active parallel region.
type Path []string

// Leaf returns the deepest state id of the path, or "" for an empty path.
func (p Path) Leaf() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Contains reports whether the path passes through the given state id.
func (p Path) Contains(id string) bool {
	for _, s := range p {
		if s == id {
			return true
		}
	}
	return false
}

// String renders the path as dot-joined ids, root first.
func (p Path) String() string { return strings.Join(p, ".") }

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	cp := make(Path, len(p))
	copy(cp, p)
	return cp
}

// Configuration is the set of currently active leaf-state paths of an
// instance. It is the canonical structured representation; any display string
// is derived from it deterministically via String. A running instance never
// has an empty configuration.
type Configuration struct {
	Paths []Path `json:"paths"`
}

// NewConfiguration builds a configuration from the given paths.
func NewConfiguration(paths ...Path) Configuration {
	cfg := Configuration{Paths: make([]Path, 0, len(paths))}
	for _, p := range paths {
		cfg.Paths = append(cfg.Paths, p.Clone())
	}
	return cfg
}

// Leaves returns the active leaf state ids in path order.
func (c Configuration) Leaves() []string {
	leaves := make([]string, 0, len(c.Paths))
	for _, p := range c.Paths {
		leaves = append(leaves, p.Leaf())
	}
	return leaves
}

// Contains reports whether the given state id is active, either as a leaf or
// as an ancestor on any active path.
func (c Configuration) Contains(id string) bool {
	for _, p := range c.Paths {
		if p.Contains(id) {
			return true
		}
	}
	return false
}

// Empty reports whether no path is active.
func (c Configuration) Empty() bool { return len(c.Paths) == 0 }

// Clone returns a deep copy of the configuration.
func (c Configuration) Clone() Configuration {
	return NewConfiguration(c.Paths...)
}

// Equal reports whether two configurations contain the same set of paths,
// irrespective of order.
func (c Configuration) Equal(other Configuration) bool {
	if len(c.Paths) != len(other.Paths) {
		return false
	}
	a := c.sortedStrings()
	b := other.sortedStrings()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the configuration deterministically: each path dot-joined,
// paths sorted lexicographically and separated by " | ".
func (c Configuration) String() string {
	return strings.Join(c.sortedStrings(), " | ")
}

func (c Configuration) sortedStrings() []string {
	out := make([]string, 0, len(c.Paths))
	for _, p := range c.Paths {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}
