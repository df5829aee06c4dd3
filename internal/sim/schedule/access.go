package schedule

import (
	"sort"

	"starforge.io/internal/sim/ecs"
)

// Access declares what a system touches. Resources are named like component
// types (see components.Res*).
type Access struct {
	Reads  []ecs.ComponentType
	Writes []ecs.ComponentType
}

func Reads(ts ...ecs.ComponentType) Access { return Access{Reads: ts} }

func (a Access) Write(ts ...ecs.ComponentType) Access {
	a.Writes = append(append([]ecs.ComponentType(nil), a.Writes...), ts...)
	return a
}

func (a Access) Read(ts ...ecs.ComponentType) Access {
	a.Reads = append(append([]ecs.ComponentType(nil), a.Reads...), ts...)
	return a
}

// Conflicts returns the types on which a and b cannot run concurrently:
// any type written by one and read or written by the other.
func (a Access) Conflicts(b Access) []ecs.ComponentType {
	set := map[ecs.ComponentType]struct{}{}
	mark := func(ws, other []ecs.ComponentType) {
		for _, w := range ws {
			for _, o := range other {
				if w == o {
					set[w] = struct{}{}
				}
			}
		}
	}
	mark(a.Writes, b.Writes)
	mark(a.Writes, b.Reads)
	mark(b.Writes, a.Reads)
	if len(set) == 0 {
		return nil
	}
	out := make([]ecs.ComponentType, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Union merges accesses, dropping duplicates. A type both read and written
// is reported as written only.
func Union(as ...Access) Access {
	writes := map[ecs.ComponentType]struct{}{}
	reads := map[ecs.ComponentType]struct{}{}
	for _, a := range as {
		for _, t := range a.Writes {
			writes[t] = struct{}{}
		}
		for _, t := range a.Reads {
			reads[t] = struct{}{}
		}
	}
	var out Access
	for t := range writes {
		out.Writes = append(out.Writes, t)
	}
	for t := range reads {
		if _, w := writes[t]; !w {
			out.Reads = append(out.Reads, t)
		}
	}
	sort.Slice(out.Writes, func(i, j int) bool { return out.Writes[i] < out.Writes[j] })
	sort.Slice(out.Reads, func(i, j int) bool { return out.Reads[i] < out.Reads[j] })
	return out
}
