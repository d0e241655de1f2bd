package diffseq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func roundTrip(t *testing.T, a, b []string) {
	t.Helper()
	ops := Diff(a, b)
	got := Apply(a, ops)
	assert.Equal(t, b, got)
}

func TestDiffRoundTrip(t *testing.T) {
	roundTrip(t, []string{"a", "b", "c"}, []string{"a", "x", "c"})
	roundTrip(t, []string{"a", "b", "c"}, []string{"a", "b", "c", "d"})
	roundTrip(t, []string{"a", "b", "c", "d"}, []string{"a", "c"})
	roundTrip(t, []string{}, []string{"a", "b"})
	roundTrip(t, []string{"a", "b"}, []string{})
	roundTrip(t, []string{"a", "b", "c"}, []string{"a", "b", "c"})
	roundTrip(t, []string{"a", "b", "c", "d", "e"}, []string{"e", "d", "c", "b", "a"})
}

func TestDiffNoOpsWhenEqual(t *testing.T) {
	ops := Diff([]string{"a", "b"}, []string{"a", "b"})
	assert.Empty(t, ops)
}
