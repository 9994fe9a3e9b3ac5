package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/dockstate/internal/ir"
)

// ErrCyclicDependency is returned (wrapped) when the declarations reference
// each other in a loop.
var ErrCyclicDependency = errors.New("cyclic dependency")

// CycleError names the resources that could not be ordered.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s detected in resource graph between: %s", ErrCyclicDependency, strings.Join(e.Nodes, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	index    int      // declaration position, breaks ties between ready nodes
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from validated declarations. Edges
// come from references and explicit depends_on.
func BuildDAG(decls []*ir.Declaration) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, d := range decls {
		addr := d.Address.String()
		dag.nodes[addr] = &dagNode{addr: addr, index: d.Index}
	}

	for _, d := range decls {
		node := dag.nodes[d.Address.String()]
		for _, dep := range d.Dependencies() {
			if _, ok := dag.nodes[dep.String()]; ok {
				node.edges = append(node.edges, dep.String())
			}
		}
	}

	if err := dag.finish(); err != nil {
		return nil, err
	}
	return dag, nil
}

// BuildDAGFromState constructs a dependency graph from state resources (for destroy).
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for i, res := range resources {
		addr := res.Address().String()
		dag.nodes[addr] = &dagNode{addr: addr, index: i}
	}

	// Dependencies on resources no longer in state are dropped.
	for _, res := range resources {
		node := dag.nodes[res.Address().String()]
		for _, dep := range res.Dependencies {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}
	}

	if err := dag.finish(); err != nil {
		return nil, err
	}
	return dag, nil
}

func (d *DAG) finish() error {
	for addr, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}
	for _, node := range d.nodes {
		sort.Slice(node.revEdges, func(i, j int) bool {
			return d.nodes[node.revEdges[i]].index < d.nodes[node.revEdges[j]].index
		})
	}

	order, err := d.topoSort()
	if err != nil {
		return err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// topoSort performs Kahn's algorithm. Among the nodes that are ready, the one
// declared first is emitted first so the order is reproducible.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	var ready []*dagNode
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
		if inDegree[addr] == 0 {
			ready = append(ready, node)
		}
	}

	sorted := make([]string, 0, len(d.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].index < ready[j].index })
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node.addr)

		for _, dependent := range node.revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, d.nodes[dependent])
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		var stuck []string
		for addr, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, addr)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Nodes: stuck}
	}

	return sorted, nil
}

// Dependencies returns the list of dependencies for a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the resources that directly depend on addr.
func (d *DAG) Dependents(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.revEdges
	}
	return nil
}

// Dot renders the graph in Graphviz DOT format, edges pointing at dependencies.
func (d *DAG) Dot() string {
	var b strings.Builder
	b.WriteString("digraph dockstate {\n")
	b.WriteString("  rankdir = \"BT\";\n")
	b.WriteString("  node [shape = rect];\n\n")
	for _, addr := range d.order {
		fmt.Fprintf(&b, "  %q;\n", addr)
	}
	b.WriteString("\n")
	for _, addr := range d.order {
		for _, dep := range d.nodes[addr].edges {
			fmt.Fprintf(&b, "  %q -> %q;\n", addr, dep)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
