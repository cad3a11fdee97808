package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLayout_Example(t *testing.T) {
	wf := workflow(
		node(1, nil, "emails"),
		node(2, in("emails"), "summary"),
	)

	l := ComputeLayout(order(wf), ResolveEdges(wf), DefaultOptions())

	assert.Equal(t, 0, l.LevelOf("1"))
	assert.Equal(t, 1, l.LevelOf("2"))
	assert.Equal(t, [][]string{{"1"}, {"2"}}, l.Levels)
	assert.Equal(t, Position{Level: 0, Index: 0, X: -150, Y: 0}, l.Positions["1"])
	assert.Equal(t, Position{Level: 1, Index: 0, X: -150, Y: 150}, l.Positions["2"])
}

func TestComputeLayout_Diamond(t *testing.T) {
	// 1 -> 2 -> 3 -> 4 and 1 -> 4: node 4 must sit below 3, not beside 2.
	wf := workflow(
		node(1, nil, "a"),
		node(2, in("a"), "b"),
		node(3, in("b"), "c"),
		node(4, in("a", "c")),
	)

	l := ComputeLayout(order(wf), ResolveEdges(wf), DefaultOptions())

	assert.Equal(t, 0, l.LevelOf("1"))
	assert.Equal(t, 1, l.LevelOf("2"))
	assert.Equal(t, 2, l.LevelOf("3"))
	assert.Equal(t, 3, l.LevelOf("4"))
}

func TestComputeLayout_LevelOrderAndCentering(t *testing.T) {
	wf := workflow(
		node(1, nil, "a"),
		node(5, in("a")),
		node(3, in("a")),
		node(4, in("a")),
	)

	opts := Options{SpacingX: 100, SpacingY: 50, CenterOffset: 10}
	l := ComputeLayout(order(wf), ResolveEdges(wf), opts)

	require.Len(t, l.Levels, 2)
	assert.Equal(t, []string{"5", "3", "4"}, l.Levels[1], "original order within a level")
	assert.Equal(t, -140.0, l.Positions["5"].X)
	assert.Equal(t, -40.0, l.Positions["3"].X)
	assert.Equal(t, 60.0, l.Positions["4"].X)
	assert.Equal(t, 50.0, l.Positions["4"].Y)
}

func TestComputeLayout_OrphanInput(t *testing.T) {
	wf := workflow(node(1, in("y")))

	l := ComputeLayout(order(wf), ResolveEdges(wf), DefaultOptions())
	assert.Equal(t, 0, l.LevelOf("1"))
}

func TestComputeLayout_CycleTerminates(t *testing.T) {
	wf := workflow(
		node(1, nil, "seed"),
		node(2, in("seed", "c"), "b"),
		node(3, in("b"), "c"),
		node(4, nil),
	)

	l := ComputeLayout(order(wf), ResolveEdges(wf), DefaultOptions())

	assert.Equal(t, 0, l.LevelOf("1"))
	assert.Equal(t, 0, l.LevelOf("2"), "cycle residue falls back to level 0")
	assert.Equal(t, 0, l.LevelOf("3"))
	assert.Equal(t, 0, l.LevelOf("4"))
	assert.Len(t, l.Positions, 4)

	xs := map[float64]bool{}
	for _, p := range l.Positions {
		assert.False(t, xs[p.X], "positions in a level must not overlap")
		xs[p.X] = true
	}
}

func TestComputeLayout_IgnoresForeignEdges(t *testing.T) {
	edges := []Edge{
		{Source: "0", Target: "1", Key: "trigger_output"},
		{Source: "1", Target: "1", Key: "self"},
	}
	l := ComputeLayout([]string{"1"}, edges, DefaultOptions())
	assert.Equal(t, 0, l.LevelOf("1"))
	assert.Equal(t, -1, l.LevelOf("0"))
}

func TestComputeLayout_Empty(t *testing.T) {
	l := ComputeLayout(nil, nil, DefaultOptions())
	assert.Empty(t, l.Levels)
	assert.Empty(t, l.Positions)
}
