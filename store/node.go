package store

import "slices"

// Node is a graph node record.
type Node struct {
	ID         uint64
	Labels     []string
	Properties map[string]string
}

// Clone returns a deep copy safe to hand out to callers.
func (n *Node) Clone() *Node {
	c := &Node{
		ID:         n.ID,
		Labels:     slices.Clone(n.Labels),
		Properties: make(map[string]string, len(n.Properties)),
	}

	for k, v := range n.Properties {
		c.Properties[k] = v
	}

	return c
}

// HasLabel reports whether the node carries label.
func (n *Node) HasLabel(label string) bool {
	return slices.Contains(n.Labels, label)
}
