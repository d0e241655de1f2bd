package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceListAccumulatesErrors(t *testing.T) {
	c := CoercerFor(Int)
	seq, errs := CoerceList(c, "count", []any{1, "not-an-int", 3.0, 2.5})
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, 3, errs[1].Index)
	assert.Equal(t, Sequence{int64(1), int64(3)}, seq)
}

func TestIntCoercerRejectsFractionalFloat(t *testing.T) {
	c := CoercerFor(Int)
	_, err := c.Coerce("n", 0, 1.5)
	require.Error(t, err)
}

func TestDecimalQuantisesToScale(t *testing.T) {
	d := NewDecimal(1.0 / 3.0)
	assert.Equal(t, "0.333333", d.String())
}

func TestDecimalEqualAndCmp(t *testing.T) {
	a := NewDecimal(1.5)
	b := NewDecimal(1.5)
	c := NewDecimal(2.0)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, -1, a.Cmp(c))
}

func TestBlobRefEqual(t *testing.T) {
	a := BlobRef{Inline: []byte("hi")}
	b := BlobRef{Inline: []byte("hi")}
	c := BlobRef{External: "grid:1"}
	d := BlobRef{External: "grid:1"}
	assert.True(t, a.Equal(b))
	assert.True(t, c.Equal(d))
	assert.False(t, a.Equal(c))
}

func TestMapCoercerRequiresNonEmptyKey(t *testing.T) {
	m := MapCoercer{Inner: CoercerFor(String)}
	_, err := m.Coerce("tags", 0, MapEntry{Key: "", Value: "x"})
	require.Error(t, err)

	v, err := m.Coerce("tags", 0, MapEntry{Key: "k", Value: "v"})
	require.NoError(t, err)
	entry := v.(MapEntry)
	assert.Equal(t, "k", entry.Key)
	assert.Equal(t, "v", entry.Value)
}

func TestRestrictionRangeCheck(t *testing.T) {
	min, max := 1.0, 10.0
	r := Restriction{Kind: RestrictRange, Min: &min, Max: &max}
	errs := r.Check("score", Sequence{int64(5), int64(20), int64(0)})
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, 2, errs[1].Index)
}

func TestRestrictionQuantityCheck(t *testing.T) {
	min, max := 1, 2
	r := Restriction{Kind: RestrictQuantity, MinCount: &min, MaxCount: &max}
	errs := r.Check("tags", Sequence{})
	require.Len(t, errs, 1)
	assert.Equal(t, -1, errs[0].Index)
}

func TestRestrictionSelectionCheck(t *testing.T) {
	r := Restriction{Kind: RestrictSelection, Choices: []string{"red", "green", "blue"}}
	errs := r.Check("color", Sequence{"red", "purple"})
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Index)
}

func TestCheckDistinctFindsDuplicateKeys(t *testing.T) {
	seq := Sequence{
		MapEntry{Key: "a", Value: "1"},
		MapEntry{Key: "b", Value: "2"},
		MapEntry{Key: "a", Value: "3"},
	}
	errs := CheckDistinct("props", seq)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].Index)
}
