package datalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FactSet Tests
// =============================================================================

func TestFactSet_AddDeduplicates(t *testing.T) {
	s := NewFactSet()

	assert.True(t, s.Add(NewExpr("edge", "a", "b")))
	assert.False(t, s.Add(NewExpr("edge", "a", "b")), "equal literal is not added twice")
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.CountSignature("edge/2"))
}

func TestFactSet_BySignaturePreservesInsertionOrder(t *testing.T) {
	s := NewFactSet()
	s.Add(NewExpr("edge", "c", "d"))
	s.Add(NewExpr("node", "a"))
	s.Add(NewExpr("edge", "a", "b"))
	s.Add(NewExpr("edge", "b", "c"))

	edges := s.BySignature("edge/2")
	require.Len(t, edges, 3)
	assert.Equal(t, "c", edges[0].Term(0))
	assert.Equal(t, "a", edges[1].Term(0))
	assert.Equal(t, "b", edges[2].Term(0))

	assert.Nil(t, s.BySignature("edge/3"))
	assert.Equal(t, []string{"edge/2", "node/1"}, s.Signatures())
}

func TestFactSet_Contains(t *testing.T) {
	s := NewFactSet()
	s.Add(NewExpr("p", "a"))

	assert.True(t, s.Contains(NewExpr("p", "a")))
	assert.False(t, s.Contains(NewExpr("p", "b")))
	assert.False(t, s.Contains(NewNegated("p", "a")))
}

func TestFactSet_RemoveAllKeepsIndexConsistent(t *testing.T) {
	s := NewFactSet()
	s.AddAll([]*Expr{
		NewExpr("edge", "a", "b"),
		NewExpr("edge", "b", "c"),
		NewExpr("node", "a"),
		NewExpr("edge", "c", "d"),
	})

	removed := s.RemoveAll([]*Expr{
		NewExpr("edge", "b", "c"),
		NewExpr("node", "a"),
		NewExpr("node", "missing"),
	})

	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 0, s.CountSignature("node/1"))
	assert.NotContains(t, s.Signatures(), "node/1", "empty bucket is pruned")

	edges := s.BySignature("edge/2")
	require.Len(t, edges, 2)
	assert.Equal(t, "a", edges[0].Term(0))
	assert.Equal(t, "c", edges[1].Term(0))

	assert.True(t, s.Add(NewExpr("edge", "b", "c")), "removed literal can be added again")
	assert.Equal(t, "b", s.BySignature("edge/2")[2].Term(0))
}

func TestFactSet_Remove(t *testing.T) {
	s := NewFactSet()
	s.Add(NewExpr("p", "a"))

	assert.True(t, s.Remove(NewExpr("p", "a")))
	assert.False(t, s.Remove(NewExpr("p", "a")))
	assert.Equal(t, 0, s.Len())
}

func TestFactSet_CloneIsIndependent(t *testing.T) {
	s := NewFactSet()
	s.Add(NewExpr("p", "a"))

	clone := s.Clone()
	clone.Add(NewExpr("p", "b"))
	s.Remove(NewExpr("p", "a"))

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 2, clone.Len())
	assert.Len(t, clone.BySignature("p/1"), 2)
}

func TestFactSet_MergeFrom(t *testing.T) {
	a := NewFactSet()
	a.Add(NewExpr("p", "a"))
	b := NewFactSet()
	b.Add(NewExpr("p", "a"))
	b.Add(NewExpr("p", "b"))

	assert.Equal(t, 1, a.MergeFrom(b))
	assert.Equal(t, 0, a.MergeFrom(nil))
	assert.Equal(t, 2, a.Len())
}
