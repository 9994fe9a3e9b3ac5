package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/picklr-io/dockstate/internal/ir"
)

// decl builds a declaration with only explicit dependencies.
func decl(name string, index int, deps ...string) *ir.Declaration {
	d := &ir.Declaration{
		Address:  ir.Address{Kind: ir.KindNetwork, Name: name},
		Index:    index,
		Resource: &ir.Resource{Type: "network", Name: name},
		Spec:     &ir.NetworkSpec{Name: name},
	}
	for _, dep := range deps {
		d.DependsOn = append(d.DependsOn, ir.Address{Kind: ir.KindNetwork, Name: dep})
	}
	return d
}

func TestBuildDAG_NoDependenciesKeepsDeclarationOrder(t *testing.T) {
	dag, err := BuildDAG([]*ir.Declaration{
		decl("c", 2),
		decl("a", 0),
		decl("b", 1),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"network.a", "network.b", "network.c"}, dag.CreationOrder())
	assert.Equal(t, []string{"network.c", "network.b", "network.a"}, dag.DestructionOrder())
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	dag, err := BuildDAG([]*ir.Declaration{
		decl("a", 0, "b"),
		decl("b", 1),
		decl("c", 2, "a"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"network.b", "network.a", "network.c"}, dag.CreationOrder())
	assert.Equal(t, []string{"network.a"}, dag.Dependents("network.b"))
	assert.Equal(t, []string{"network.c"}, dag.Dependents("network.a"))
}

func TestBuildDAG_References(t *testing.T) {
	cfg := &ir.Config{Resources: []*ir.Resource{
		{
			Type: "container", Name: "web",
			Properties: map[string]any{
				"name":     "web",
				"image":    "ptr://image/nginx/image_id",
				"networks": []any{"ptr://network/app/name"},
			},
		},
		{Type: "image", Name: "nginx", Properties: map[string]any{"name": "nginx:latest"}},
		{Type: "network", Name: "app", Properties: map[string]any{"name": "app"}},
	}}

	_, dag, err := Declarations(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"image.nginx", "network.app", "container.web"}, dag.CreationOrder())
	assert.Equal(t, []string{"image.nginx", "network.app"}, dag.Dependencies("container.web"))
}

func TestBuildDAG_CycleDetection(t *testing.T) {
	_, err := BuildDAG([]*ir.Declaration{
		decl("a", 0, "b"),
		decl("b", 1, "a"),
		decl("c", 2),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCyclicDependency))

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"network.a", "network.b"}, cycle.Nodes)
}

func TestBuildDAG_SelfReference(t *testing.T) {
	_, err := BuildDAG([]*ir.Declaration{decl("a", 0, "a")})
	assert.True(t, errors.Is(err, ErrCyclicDependency))
}

func TestBuildDAGFromState(t *testing.T) {
	dag, err := BuildDAGFromState([]*ir.ResourceState{
		{Kind: ir.KindNetwork, Name: "app"},
		{Kind: ir.KindImage, Name: "nginx"},
		{Kind: ir.KindContainer, Name: "web", Dependencies: []string{"image.nginx", "network.app", "network.gone"}},
	})
	require.NoError(t, err)

	order := dag.DestructionOrder()
	assert.Equal(t, "container.web", order[0])
	assert.Len(t, order, 3)
	assert.Equal(t, []string{"image.nginx", "network.app"}, dag.Dependencies("container.web"))
}

func TestDAG_Dot(t *testing.T) {
	dag, err := BuildDAG([]*ir.Declaration{decl("a", 0), decl("b", 1, "a")})
	require.NoError(t, err)

	dot := dag.Dot()
	assert.Contains(t, dot, "digraph dockstate {")
	assert.Contains(t, dot, `"network.b" -> "network.a";`)
}

// TestBuildDAG_OrderRespectsEdges checks, for random acyclic graphs, that
// every dependency precedes its dependent and that the order is reproducible.
func TestBuildDAG_OrderRespectsEdges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")

		// Node i may only depend on nodes j < i, which keeps the graph acyclic.
		deps := make([][]string, n)
		for i := 0; i < n; i++ {
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(t, fmt.Sprintf("edge_%d_%d", i, j)) {
					deps[i] = append(deps[i], fmt.Sprintf("n%d", j))
				}
			}
		}

		positions := make([]int, n)
		for i := range positions {
			positions[i] = i
		}
		positions = rapid.Permutation(positions).Draw(t, "positions")

		build := func() []*ir.Declaration {
			decls := make([]*ir.Declaration, n)
			for i := 0; i < n; i++ {
				decls[i] = decl(fmt.Sprintf("n%d", i), positions[i], deps[i]...)
			}
			return decls
		}

		dag, err := BuildDAG(build())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		order := dag.CreationOrder()
		if len(order) != n {
			t.Fatalf("order has %d nodes, want %d", len(order), n)
		}

		pos := make(map[string]int, n)
		for i, addr := range order {
			pos[addr] = i
		}
		for i := 0; i < n; i++ {
			addr := fmt.Sprintf("network.n%d", i)
			for _, dep := range deps[i] {
				if pos["network."+dep] >= pos[addr] {
					t.Fatalf("%s ordered before its dependency %s: %v", addr, dep, order)
				}
			}
		}

		again, err := BuildDAG(build())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fmt.Sprint(again.CreationOrder()) != fmt.Sprint(order) {
			t.Fatalf("order not reproducible: %v vs %v", order, again.CreationOrder())
		}
	})
}

// TestBuildDAG_ClosedChainIsCycle checks that closing any dependency chain
// into a loop is always rejected.
func TestBuildDAG_ClosedChainIsCycle(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "n")

		decls := make([]*ir.Declaration, n)
		for i := 0; i < n; i++ {
			prev := (i + n - 1) % n
			decls[i] = decl(fmt.Sprintf("n%d", i), i, fmt.Sprintf("n%d", prev))
		}

		_, err := BuildDAG(decls)
		if !errors.Is(err, ErrCyclicDependency) {
			t.Fatalf("expected cyclic dependency error, got %v", err)
		}
	})
}
