package model

import (
	"fmt"
	"sort"
	"strings"
)

// Params is one hyper-parameter assignment of an estimator.
type Params map[string]float64

// Get returns the named value, or dflt when it is not set.
func (p Params) Get(name string, dflt float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return dflt
}

// Int returns the named value truncated to an int, or dflt when it is not set.
func (p Params) Int(name string, dflt int) int {
	if v, ok := p[name]; ok {
		return int(v)
	}
	return dflt
}

// With returns a copy of p with the entries of q applied on top.
func (p Params) With(q Params) Params {
	out := make(Params, len(p)+len(q))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range q {
		out[k] = v
	}
	return out
}

// String renders the assignment with sorted keys, e.g. "k=5 weights=1".
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, " ")
}

// Grid maps a parameter name to the values to try.
type Grid map[string][]float64

// Candidates expands the grid into its cartesian product, each entry
// applied on top of defaults. Parameter names are iterated in sorted order
// so the candidate order is stable. An empty grid yields just the defaults.
func (g Grid) Candidates(defaults Params) []Params {
	names := make([]string, 0, len(g))
	for name, values := range g {
		if len(values) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := []Params{defaults.With(nil)}
	for _, name := range names {
		next := make([]Params, 0, len(out)*len(g[name]))
		for _, base := range out {
			for _, v := range g[name] {
				next = append(next, base.With(Params{name: v}))
			}
		}
		out = next
	}
	return out
}
