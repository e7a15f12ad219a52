package scene

import (
	"math/bits"

	"github.com/pkg/errors"
)

// LayerMask selects which lights and cameras affect a node. A light only illuminates renderables
// whose masks share a bit with its own.
type LayerMask uint32

// DefaultLayers is the mask every node starts with.
const DefaultLayers LayerMask = 1

// MaxLayers is the number of distinct single-bit masks a LayerAllocator can hand out.
const MaxLayers = 32

// ErrLayersExhausted is returned once every layer bit has been handed out.
var ErrLayersExhausted = errors.Errorf("all %d render layers are allocated", MaxLayers)

// Contains reports whether every bit of other is set in m.
func (m LayerMask) Contains(other LayerMask) bool {
	return m&other == other
}

// Overlaps reports whether m and other share at least one bit.
func (m LayerMask) Overlaps(other LayerMask) bool {
	return m&other != 0
}

// SingleBit reports whether exactly one bit of m is set.
func (m LayerMask) SingleBit() bool {
	return bits.OnesCount32(uint32(m)) == 1
}

// LayerAllocator hands out one exclusive layer bit per caller: the first call receives 1, the
// second 2, the third 4 and so on. Bits are never reused. One allocator is shared by every marker
// binding in a scene.
type LayerAllocator struct {
	allocated int
}

// NewLayerAllocator returns an allocator whose first mask is 1.
func NewLayerAllocator() *LayerAllocator {
	return &LayerAllocator{}
}

// Allocate returns the next unused single-bit mask.
func (la *LayerAllocator) Allocate() (LayerMask, error) {
	if la.allocated >= MaxLayers {
		return 0, ErrLayersExhausted
	}
	mask := LayerMask(1) << la.allocated
	la.allocated++
	return mask, nil
}

// Allocated returns how many masks have been handed out.
func (la *LayerAllocator) Allocated() int {
	return la.allocated
}

// Apply overwrites the layer mask of every renderable or light node in the subtree under root,
// root included. Nodes added to the subtree later keep their own masks.
func (la *LayerAllocator) Apply(g *Graph, root NodeID, mask LayerMask) {
	g.Walk(root, func(id NodeID) bool {
		caps := g.Capabilities(id)
		if caps.Has(Renderable) || caps.Has(Light) {
			g.SetLayers(id, mask)
		}
		return true
	})
}
