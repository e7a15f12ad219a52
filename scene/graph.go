// Package scene is a minimal arena-backed scene graph: nodes live in a slice and refer to each
// other by index, so subtree operations walk with an explicit stack instead of recursion.
package scene

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/armarker/spatialmath"
)

// NodeID indexes a node in a Graph.
type NodeID int

// NoNode is the parent of the root and the zero answer of failed lookups.
const NoNode NodeID = -1

// Capability describes what a node contributes to rendering.
type Capability uint8

const (
	// Renderable nodes draw geometry.
	Renderable Capability = 1 << iota
	// Light nodes emit light.
	Light
	// Camera nodes view the scene.
	Camera
)

// Has reports whether every capability in other is present in c.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// Transform is a node's pose relative to its parent.
type Transform struct {
	Position r3.Vector
	Rotation spatialmath.EulerAngles
	Scale    r3.Vector
}

// IdentityTransform is the transform new nodes start with.
func IdentityTransform() Transform {
	return Transform{Scale: r3.Vector{X: 1, Y: 1, Z: 1}}
}

type node struct {
	name      string
	parent    NodeID
	children  []NodeID
	caps      Capability
	enabled   bool
	layers    LayerMask
	transform Transform
	material  *Material
	alive     bool
}

// Graph is a tree of nodes rooted at Root. It is not safe for concurrent use; it is owned by the
// goroutine driving the render loop.
type Graph struct {
	nodes []node
}

// NewGraph returns a graph holding only its root node.
func NewGraph() *Graph {
	g := &Graph{}
	g.nodes = append(g.nodes, node{
		name:      "root",
		parent:    NoNode,
		enabled:   true,
		layers:    DefaultLayers,
		transform: IdentityTransform(),
		alive:     true,
	})
	return g
}

// Root returns the root node.
func (g *Graph) Root() NodeID {
	return 0
}

// Has reports whether id refers to a node that has not been removed.
func (g *Graph) Has(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes) && g.nodes[id].alive
}

func (g *Graph) get(id NodeID) *node {
	if !g.Has(id) {
		return nil
	}
	return &g.nodes[id]
}

// AddNode creates an enabled node under parent.
func (g *Graph) AddNode(parent NodeID, name string, caps Capability) (NodeID, error) {
	p := g.get(parent)
	if p == nil {
		return NoNode, errors.Errorf("cannot add %q: parent node %d does not exist", name, parent)
	}
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, node{
		name:      name,
		parent:    parent,
		caps:      caps,
		enabled:   true,
		layers:    DefaultLayers,
		transform: IdentityTransform(),
		alive:     true,
	})
	// p may have moved when the slice grew.
	p = &g.nodes[parent]
	p.children = append(p.children, id)
	return id, nil
}

// Remove detaches id from its parent and discards it together with its whole subtree.
func (g *Graph) Remove(id NodeID) error {
	if id == g.Root() {
		return errors.New("cannot remove the root node")
	}
	n := g.get(id)
	if n == nil {
		return errors.Errorf("node %d does not exist", id)
	}
	parent := &g.nodes[n.parent]
	for i, child := range parent.children {
		if child == id {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	g.Walk(id, func(sub NodeID) bool {
		g.nodes[sub].alive = false
		return true
	})
	return nil
}

// Name returns the node's name.
func (g *Graph) Name(id NodeID) string {
	if n := g.get(id); n != nil {
		return n.name
	}
	return ""
}

// Parent returns the node's parent, or NoNode for the root and unknown ids.
func (g *Graph) Parent(id NodeID) NodeID {
	if n := g.get(id); n != nil {
		return n.parent
	}
	return NoNode
}

// Children returns a copy of the node's immediate children.
func (g *Graph) Children(id NodeID) []NodeID {
	n := g.get(id)
	if n == nil {
		return nil
	}
	out := make([]NodeID, len(n.children))
	copy(out, n.children)
	return out
}

// Capabilities returns what the node contributes to rendering.
func (g *Graph) Capabilities(id NodeID) Capability {
	if n := g.get(id); n != nil {
		return n.caps
	}
	return 0
}

// SetEnabled toggles the node itself. A node is only drawn when it and every ancestor are enabled.
func (g *Graph) SetEnabled(id NodeID, enabled bool) {
	if n := g.get(id); n != nil {
		n.enabled = enabled
	}
}

// Enabled returns the node's own enabled flag.
func (g *Graph) Enabled(id NodeID) bool {
	if n := g.get(id); n != nil {
		return n.enabled
	}
	return false
}

// EnabledInHierarchy reports whether the node and all of its ancestors are enabled.
func (g *Graph) EnabledInHierarchy(id NodeID) bool {
	if !g.Has(id) {
		return false
	}
	for cur := id; cur != NoNode; cur = g.nodes[cur].parent {
		if !g.nodes[cur].enabled {
			return false
		}
	}
	return true
}

// SetLayers overwrites the node's render/light layer mask.
func (g *Graph) SetLayers(id NodeID, mask LayerMask) {
	if n := g.get(id); n != nil {
		n.layers = mask
	}
}

// Layers returns the node's render/light layer mask.
func (g *Graph) Layers(id NodeID) LayerMask {
	if n := g.get(id); n != nil {
		return n.layers
	}
	return 0
}

// Transform returns the node's local transform.
func (g *Graph) Transform(id NodeID) Transform {
	if n := g.get(id); n != nil {
		return n.transform
	}
	return IdentityTransform()
}

// SetTransform replaces the node's local transform.
func (g *Graph) SetTransform(id NodeID, t Transform) {
	if n := g.get(id); n != nil {
		n.transform = t
	}
}

// SetPosition sets the node's local position.
func (g *Graph) SetPosition(id NodeID, pos r3.Vector) {
	if n := g.get(id); n != nil {
		n.transform.Position = pos
	}
}

// SetRotation sets the node's local rotation.
func (g *Graph) SetRotation(id NodeID, rot spatialmath.EulerAngles) {
	if n := g.get(id); n != nil {
		n.transform.Rotation = rot
	}
}

// SetScale sets the node's local scale.
func (g *Graph) SetScale(id NodeID, scale r3.Vector) {
	if n := g.get(id); n != nil {
		n.transform.Scale = scale
	}
}

// Material returns the node's material, if any.
func (g *Graph) Material(id NodeID) *Material {
	if n := g.get(id); n != nil {
		return n.material
	}
	return nil
}

// SetMaterial assigns a material to the node. Materials may be shared between nodes.
func (g *Graph) SetMaterial(id NodeID, m *Material) {
	if n := g.get(id); n != nil {
		n.material = m
	}
}
