package physics

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/ecs"
)

// Contact is one overlapping pair found by the broadphase. A < B always.
// Normal points from A to B.
type Contact struct {
	A, B   ecs.Entity
	Normal mgl64.Vec3
	Depth  float64
}

// Collisions holds this tick's contacts between detection and resolution.
type Collisions struct {
	mu       sync.Mutex
	contacts []Contact
}

func (c *Collisions) set(cs []Contact) {
	c.mu.Lock()
	c.contacts = cs
	c.mu.Unlock()
}

func (c *Collisions) Contacts() []Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Contact(nil), c.contacts...)
}

func (c *Collisions) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contacts)
}

// Retain keeps only the contacts for which keep returns true.
func (c *Collisions) Retain(keep func(Contact) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.contacts[:0]
	for _, x := range c.contacts {
		if keep(x) {
			out = append(out, x)
		}
	}
	c.contacts = out
}

func (c *Collisions) Snapshot() any { return c.Contacts() }

func (c *Collisions) Restore(snap any) {
	if cs, ok := snap.([]Contact); ok {
		c.set(append([]Contact(nil), cs...))
	}
}
