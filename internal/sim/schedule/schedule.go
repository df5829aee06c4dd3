// Package schedule orders systems into phases and stages. Within a phase,
// systems whose access sets do not conflict share a stage and run
// concurrently.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"starforge.io/internal/sim/ecs"
)

var (
	ErrSchedulingAmbiguity = errors.New("scheduling ambiguity")
	ErrDuplicateSystem     = errors.New("duplicate system")
	ErrUnknownDependency   = errors.New("unknown dependency")
	ErrOrderCycle          = errors.New("ordering cycle")
)

// AmbiguityError names two systems in a strict phase that conflict on
// component access without an ordering edge between them.
type AmbiguityError struct {
	Phase Phase
	A, B  string
	On    []ecs.ComponentType
}

func (e *AmbiguityError) Error() string {
	on := make([]string, len(e.On))
	for i, t := range e.On {
		on[i] = string(t)
	}
	return fmt.Sprintf("%s: %q and %q both access [%s] with no ordering", e.Phase, e.A, e.B, strings.Join(on, ", "))
}

func (e *AmbiguityError) Unwrap() error { return ErrSchedulingAmbiguity }

type RunFunc func(ctx context.Context, tick uint64) error

type System struct {
	Name   string
	Phase  Phase
	Access Access

	// After lists systems that must finish first. Names in an earlier phase
	// are satisfied by phase order; names in a later phase are an error.
	After []string
	Run   RunFunc
}

type Builder struct {
	systems []System
	strict  map[Phase]bool
}

func NewBuilder() *Builder {
	return &Builder{strict: map[Phase]bool{}}
}

func (b *Builder) Add(systems ...System) *Builder {
	b.systems = append(b.systems, systems...)
	return b
}

// Strict makes unordered conflicting systems in p a build error instead of
// being serialized in registration order.
func (b *Builder) Strict(p Phase) *Builder {
	b.strict[p] = true
	return b
}

// Schedule is an immutable, validated execution plan.
type Schedule struct {
	phases [phaseCount][][]System
	access Access
	names  []string
}

func (b *Builder) Build() (*Schedule, error) {
	byName := make(map[string]int, len(b.systems))
	for i, s := range b.systems {
		if s.Name == "" {
			return nil, fmt.Errorf("system #%d: empty name", i)
		}
		if s.Run == nil {
			return nil, fmt.Errorf("system %q: nil run func", s.Name)
		}
		if s.Phase < 0 || s.Phase >= phaseCount {
			return nil, fmt.Errorf("system %q: bad phase %d", s.Name, int(s.Phase))
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSystem, s.Name)
		}
		byName[s.Name] = i
	}

	out := &Schedule{}
	accesses := make([]Access, 0, len(b.systems))
	for _, p := range Phases() {
		var members []System
		for _, s := range b.systems {
			if s.Phase == p {
				members = append(members, s)
			}
		}
		if len(members) == 0 {
			continue
		}
		stages, err := planPhase(p, members, b.systems, byName, b.strict[p])
		if err != nil {
			return nil, err
		}
		out.phases[p] = stages
		for _, st := range stages {
			for _, s := range st {
				out.names = append(out.names, s.Name)
				accesses = append(accesses, s.Access)
			}
		}
	}
	out.access = Union(accesses...)
	return out, nil
}

// planPhase layers one phase's systems by longest path over the ordering
// graph.
func planPhase(p Phase, members, all []System, byName map[string]int, strict bool) ([][]System, error) {
	n := len(members)
	local := make(map[string]int, n)
	for i, s := range members {
		local[s.Name] = i
	}
	edges := make([][]bool, n)
	for i := range edges {
		edges[i] = make([]bool, n)
	}
	for i, s := range members {
		for _, dep := range s.After {
			gi, ok := byName[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %q after %q", ErrUnknownDependency, s.Name, dep)
			}
			if all[gi].Phase > p {
				return nil, fmt.Errorf("%w: %q (%s) after %q (%s)", ErrUnknownDependency, s.Name, p, dep, all[gi].Phase)
			}
			if j, ok := local[dep]; ok {
				if j == i {
					return nil, fmt.Errorf("%w: %q after itself", ErrOrderCycle, s.Name)
				}
				edges[j][i] = true
			}
		}
	}
	if cyc := findCycle(edges); cyc >= 0 {
		return nil, fmt.Errorf("%w: in %s through %q", ErrOrderCycle, p, members[cyc].Name)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			on := members[i].Access.Conflicts(members[j].Access)
			if len(on) == 0 || reaches(edges, i, j) || reaches(edges, j, i) {
				continue
			}
			if strict {
				return nil, &AmbiguityError{Phase: p, A: members[i].Name, B: members[j].Name, On: on}
			}
			edges[i][j] = true
		}
	}

	level := make([]int, n)
	for _, v := range topoOrder(edges) {
		for u := 0; u < n; u++ {
			if edges[u][v] && level[u]+1 > level[v] {
				level[v] = level[u] + 1
			}
		}
	}
	depth := 0
	for _, l := range level {
		if l+1 > depth {
			depth = l + 1
		}
	}
	stages := make([][]System, depth)
	for i, s := range members {
		stages[level[i]] = append(stages[level[i]], s)
	}
	return stages, nil
}

func reaches(edges [][]bool, from, to int) bool {
	seen := make([]bool, len(edges))
	stack := []int{from}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if u == to {
			return true
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		for v, ok := range edges[u] {
			if ok && !seen[v] {
				stack = append(stack, v)
			}
		}
	}
	return false
}

func findCycle(edges [][]bool) int {
	for i := range edges {
		for j, ok := range edges[i] {
			if ok && reaches(edges, j, i) {
				return i
			}
		}
	}
	return -1
}

// topoOrder is Kahn's algorithm with ties broken by index.
func topoOrder(edges [][]bool) []int {
	n := len(edges)
	indeg := make([]int, n)
	for u := range edges {
		for v, ok := range edges[u] {
			if ok {
				indeg[v]++
			}
		}
	}
	out := make([]int, 0, n)
	done := make([]bool, n)
	for len(out) < n {
		for v := 0; v < n; v++ {
			if done[v] || indeg[v] != 0 {
				continue
			}
			done[v] = true
			out = append(out, v)
			for w, ok := range edges[v] {
				if ok {
					indeg[w]--
				}
			}
			break
		}
	}
	return out
}

// Run executes every phase in order. A failing system cancels its stage and
// aborts the rest of the tick.
func (s *Schedule) Run(ctx context.Context, tick uint64) error {
	for p := Receive; p < phaseCount; p++ {
		if err := s.RunPhase(ctx, p, tick); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schedule) RunPhase(ctx context.Context, p Phase, tick uint64) error {
	for _, stage := range s.phases[p] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(stage) == 1 {
			if err := stage[0].Run(ctx, tick); err != nil {
				return fmt.Errorf("%s/%s: %w", p, stage[0].Name, err)
			}
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, sys := range stage {
			sys := sys
			g.Go(func() error {
				if err := sys.Run(gctx, tick); err != nil {
					return fmt.Errorf("%s/%s: %w", p, sys.Name, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// Access is the union of every system's access.
func (s *Schedule) Access() Access { return s.access }

// Systems returns system names in execution order.
func (s *Schedule) Systems() []string { return append([]string(nil), s.names...) }

// Stages returns the stage layout of p by system name.
func (s *Schedule) Stages(p Phase) [][]string {
	out := make([][]string, len(s.phases[p]))
	for i, st := range s.phases[p] {
		for _, sys := range st {
			out[i] = append(out[i], sys.Name)
		}
	}
	return out
}

// AsSystem wraps the schedule so it can run nested inside another one.
func (s *Schedule) AsSystem(name string, phase Phase, after ...string) System {
	return System{
		Name:   name,
		Phase:  phase,
		Access: s.access,
		After:  after,
		Run:    s.Run,
	}
}
