package scene

// WalkFunc is called for each visited node. Returning false skips the node's children.
type WalkFunc func(id NodeID) bool

// Walk visits root and its descendants depth first, parents before children, children in
// insertion order. It uses an explicit stack, so depth is bounded only by memory.
func (g *Graph) Walk(root NodeID, fn WalkFunc) {
	if !g.Has(root) {
		return
	}
	stack := []NodeID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(id) {
			continue
		}
		children := g.nodes[id].children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// SetChildrenEnabled sets the enabled flag of every immediate child of id, leaving id itself
// alone. Nested descendants follow through EnabledInHierarchy.
func (g *Graph) SetChildrenEnabled(id NodeID, enabled bool) {
	n := g.get(id)
	if n == nil {
		return
	}
	for _, child := range n.children {
		g.nodes[child].enabled = enabled
	}
}
