package datalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindings_MarkRollback(t *testing.T) {
	b := NewBindings()
	b.Bind("X", "a")
	outer := b.Mark()

	b.Bind("Y", "b")
	inner := b.Mark()
	b.Bind("Z", "c")
	assert.Equal(t, 3, b.Len())

	b.Rollback(inner)
	assert.Equal(t, 2, b.Len())
	_, ok := b.Lookup("Z")
	assert.False(t, ok)

	b.Rollback(outer)
	assert.Equal(t, 1, b.Len())
	v, ok := b.Lookup("X")
	require.True(t, ok)
	assert.Equal(t, "a", v)

	b.Rollback(0)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Mark())
}

func TestBindings_RollbackToCurrentMarkIsNoop(t *testing.T) {
	b := NewBindings()
	b.Bind("X", "a")
	b.Rollback(b.Mark())
	assert.Equal(t, 1, b.Len())
}

func TestBindings_SnapshotIsIndependent(t *testing.T) {
	b := NewBindings()
	b.Bind("X", "a")
	snap := b.Snapshot()
	b.Bind("Y", "b")
	b.Rollback(0)

	assert.Equal(t, Binding{"X": "a"}, snap)
}

func TestBinding_KeyAndString(t *testing.T) {
	r1 := Binding{"Y": "b", "X": "a"}
	r2 := Binding{"X": "a", "Y": "b"}
	r3 := Binding{"X": "ab", "Y": ""}

	assert.Equal(t, r1.Key(), r2.Key())
	assert.NotEqual(t, r1.Key(), r3.Key())
	assert.Equal(t, "X=a, Y=b", r1.String())
}

func TestBinding_Bindings(t *testing.T) {
	b := Binding{"X": "a", "Y": "b"}.Bindings()
	assert.Equal(t, 2, b.Len())

	got := NewExpr("edge", "X", "Y", "Z").Substitute(b)
	assert.True(t, got.Equal(NewExpr("edge", "a", "b", "Z")))
}

func TestCloneBindings(t *testing.T) {
	rows := []Binding{{"X": "a"}}
	clone := CloneBindings(rows)
	clone[0]["X"] = "changed"
	assert.Equal(t, "a", rows[0]["X"])
}

func TestGoalsKey(t *testing.T) {
	a := []*Expr{NewExpr("p", "X"), NewExpr("q", "X")}
	b := []*Expr{NewExpr("q", "X"), NewExpr("p", "X")}
	assert.NotEqual(t, GoalsKey(a), GoalsKey(b), "goal order is part of the key")
	assert.Equal(t, GoalsKey(a), GoalsKey([]*Expr{NewExpr("p", "X"), NewExpr("q", "X")}))
}
