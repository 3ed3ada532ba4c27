package cluster

import (
	"fmt"

	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

// DefaultNodes are the public DX Spider nodes tried in rotation when none are configured
var DefaultNodes = []types.Node{
	{Host: "dxspider.co.uk", Port: 7300, Label: "DX Spider UK (G6NHU)"},
	{Host: "dxc.nc7j.com", Port: 7373, Label: "NC7J"},
	{Host: "dxc.ai9t.com", Port: 7373, Label: "AI9T"},
	{Host: "dxc.w6cua.org", Port: 7300, Label: "W6CUA"},
}

// Registry is the fixed, ordered list of candidate nodes
type Registry struct {
	nodes []types.Node
}

// NewRegistry creates a registry; an empty list selects DefaultNodes
func NewRegistry(nodes []types.Node) *Registry {
	if len(nodes) == 0 {
		nodes = DefaultNodes
	}
	out := make([]types.Node, len(nodes))
	copy(out, nodes)
	return &Registry{nodes: out}
}

// Len returns the number of nodes
func (r *Registry) Len() int {
	return len(r.nodes)
}

// Valid reports whether i addresses a node
func (r *Registry) Valid(i int) bool {
	return i >= 0 && i < len(r.nodes)
}

// At returns the node at index i
func (r *Registry) At(i int) (types.Node, error) {
	if !r.Valid(i) {
		return types.Node{}, fmt.Errorf("%w: %d (have %d nodes)", ErrInvalidNode, i, len(r.nodes))
	}
	return r.nodes[i], nil
}

// Nodes returns a copy of every node in order
func (r *Registry) Nodes() []types.Node {
	out := make([]types.Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}
