package glob

// Set is an ordered OR-combination of globs. A Set is built once and never
// mutated afterwards, so it can be shared between goroutines.
type Set struct {
	globs []Glob
}

// NewSet compiles every filter. Construction is all-or-nothing: the first
// invalid filter aborts it and is named in the returned *Error.
func NewSet(filters []string) (*Set, error) {
	globs := make([]Glob, 0, len(filters))
	for _, filter := range filters {
		g, err := Compile(filter)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return &Set{globs: globs}, nil
}

// MustSet is like NewSet but panics on an invalid filter. Intended for
// package-level defaults built from literals.
func MustSet(filters ...string) *Set {
	set, err := NewSet(filters)
	if err != nil {
		panic(err)
	}
	return set
}

// All returns a set that matches every kind.
func All() *Set {
	return &Set{globs: []Glob{{kind: MatchAll}}}
}

// Match reports whether kind satisfies any glob in the set, stopping at the
// first hit. A nil or empty set matches nothing.
func (s *Set) Match(kind string) bool {
	if s == nil {
		return false
	}
	for _, g := range s.globs {
		if g.Match(kind) {
			return true
		}
	}
	return false
}

// Len returns the number of globs in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.globs)
}

// Filters renders the set back into filter strings, in order.
func (s *Set) Filters() []string {
	if s == nil {
		return nil
	}
	filters := make([]string, len(s.globs))
	for i, g := range s.globs {
		filters[i] = g.String()
	}
	return filters
}
