package object

import (
	"testing"

	"github.com/forbearing/tol/value"
	"github.com/stretchr/testify/assert"
)

func TestStageAndCommitFoldsPendingIntoAttrs(t *testing.T) {
	inst := New("Widget", "w1")
	inst.Attrs["name"] = value.Sequence{"old"}
	inst.Stage("name", value.Sequence{"new"})

	assert.Equal(t, value.Sequence{"new"}, inst.Get("name"))
	assert.ElementsMatch(t, []string{"name"}, inst.Changed())

	inst.Commit()
	assert.Equal(t, value.Sequence{"new"}, inst.Attrs["name"])
	assert.Nil(t, inst.Pending)
	assert.False(t, inst.Phantom)
}

func TestDiscardDropsPendingWithoutTouchingAttrs(t *testing.T) {
	inst := New("Widget", "w1")
	inst.Attrs["name"] = value.Sequence{"old"}
	inst.Stage("name", value.Sequence{"new"})
	inst.Discard()

	assert.Equal(t, value.Sequence{"old"}, inst.Get("name"))
}

func TestChangedIgnoresUnmodifiedDecimal(t *testing.T) {
	inst := New("Widget", "w1")
	inst.Attrs["price"] = value.Sequence{value.NewDecimal(1.5)}
	inst.Stage("price", value.Sequence{value.NewDecimal(1.5)})
	assert.Empty(t, inst.Changed())
}
