package schema

import (
	"testing"

	"github.com/forbearing/tol/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBuildsAncestorChain(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("Animal", map[string]*Attribute{
		"name": {Kind: value.String, Multiplicity: Required},
	}, nil))
	require.NoError(t, r.Register("Dog", map[string]*Attribute{
		"breed": {Kind: value.String, Multiplicity: Optional},
	}, nil, WithParent("Animal")))

	require.NoError(t, r.Resolve())

	d, ok := r.Descriptor("Dog")
	require.True(t, ok)
	assert.Equal(t, []string{"Animal"}, d.Bases)
	assert.Contains(t, d.Attributes, "name")
	assert.Contains(t, d.Attributes, "breed")
	assert.True(t, r.IsSubclass("Dog", "Animal"))
	assert.False(t, r.IsSubclass("Animal", "Dog"))
}

func TestResolveRejectsRelationToUnknownClass(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("Post", map[string]*Attribute{
		"author": {
			Kind:         value.Reference,
			Multiplicity: Required,
			Relation:     &Relation{RelatedClass: "User", Counterpart: "posts"},
		},
	}, nil))

	err := r.Resolve()
	require.Error(t, err)
}

func TestResolveRejectsNonRelationCounterpart(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("User", map[string]*Attribute{
		"posts": {Kind: value.String, Multiplicity: Many},
	}, nil))
	require.NoError(t, r.Register("Post", map[string]*Attribute{
		"author": {
			Kind:         value.Reference,
			Multiplicity: Required,
			Relation:     &Relation{RelatedClass: "User", Counterpart: "posts"},
		},
	}, nil))

	err := r.Resolve()
	require.Error(t, err)
}

func TestMaterializeDeepCopiesInheritedAttribute(t *testing.T) {
	r := NewRegistry()
	pattern := value.Restriction{Kind: value.RestrictSelection, Choices: []string{"a", "b"}}
	require.NoError(t, r.Register("Base", map[string]*Attribute{
		"tag": {Kind: value.String, Multiplicity: Optional, Restrictions: []value.Restriction{pattern}},
	}, nil))
	require.NoError(t, r.Register("Sub", nil, nil, WithParent("Base")))
	require.NoError(t, r.Resolve())

	d, _ := r.Descriptor("Sub")
	d.Attributes["tag"].Restrictions[0].Choices[0] = "mutated"

	baseDesc, _ := r.Descriptor("Base")
	assert.Equal(t, "a", baseDesc.Attributes["tag"].Restrictions[0].Choices[0])
}
