// Package schema implements the declarative class/attribute model from
// spec.md §4.2–§4.5: attribute descriptors, single-rooted class inheritance,
// bidirectional relations and the registry that resolves them.
package schema

import (
	"context"

	"github.com/forbearing/tol/value"
)

// Multiplicity bounds how many instances an attribute or relation may hold.
type Multiplicity int

const (
	// Optional: zero or one.
	Optional Multiplicity = iota
	// Required: exactly one.
	Required
	// Many: zero or more, order-preserving.
	Many
)

// Attribute is the descriptor for one class attribute: its value kind,
// multiplicity, restrictions and — when it is a relation — the counterpart
// attribute on the related class (spec.md §4.2, §4.5).
type Attribute struct {
	Name         string
	Kind         value.Kind
	Multiplicity Multiplicity

	// Restrictions apply in declaration order; all must pass.
	Restrictions []value.Restriction

	// Computed marks an attribute whose value is derived by a method rather
	// than stored (spec.md §4.2 "computed attributes").
	Computed bool

	// Indexed marks a String/LimitedString attribute whose values feed the
	// text indexer on every write (spec.md §4.2, §9's redesign flag on text
	// indexing); see the textindex package for the seam this field drives.
	Indexed bool

	// ReadOnly attributes may be supplied to CreateToi but never to
	// ChangeToi (spec.md §4.2 "read-only attributes may be set only at
	// creation").
	ReadOnly bool

	// Unchangeable attributes may only be set while the instance is still
	// new; since ChangeToi always targets an already-committed instance,
	// an Unchangeable attribute is rejected on every ChangeToi the same way
	// ReadOnly is (spec.md §4.2 "unchangeable only when the instance is
	// new").
	Unchangeable bool

	// ReorderOnly attributes forbid ChangeToi from adding or removing
	// elements; only permuting the existing set is allowed (spec.md §4.2
	// "reorder-only forbids element addition/removal post-create").
	ReorderOnly bool

	// Locked marks canWrite=false: the attribute is never writable by a
	// commit operation, on top of (and independent from) ReadOnly/
	// Unchangeable/ReorderOnly (spec.md §7's attr-permission kind).
	Locked bool

	// Unique marks an attribute whose element values must never overlap
	// across any two non-deleted instances of the owning class or any
	// class that also declares it (spec.md §3 invariant 2, §4.6).
	Unique bool

	// Weak marks a relation attribute whose reference to a deleted peer is
	// silently dropped on read, and which never blocks the peer's deletion
	// (spec.md §4.2 "a weak relation element that points to a deleted
	// instance is silently dropped on read").
	Weak bool

	// OnCreate/OnUpdate are the per-attribute lifecycle hooks spec.md §4.6
	// dispatches during CreateToi/ChangeToi, run once per op with the
	// attribute's freshly staged value. Either may be nil.
	OnCreate Hook
	OnUpdate Hook

	// Relation fields are populated only when Kind == value.Reference.
	Relation *Relation
}

// Hook is a lifecycle callback the commit engine invokes at a point spec.md
// §4.6 names (per-attribute on_create/on_update). It is typed in terms of
// the raw id and value rather than *object.Instance so schema never needs
// to import the object package (object already imports schema).
type Hook func(ctx context.Context, id string, val value.Sequence) error

// Relation describes one end of a bidirectional reference between two
// classes (spec.md §4.5). Counterpart is the attribute name on RelatedClass
// that points back; it must itself be a relation attribute, checked at
// registration time.
type Relation struct {
	RelatedClass string
	Counterpart  string

	// Qualifier restricts legal counterpart peers to instances also
	// reachable through the named attribute (a "qualified" relation).
	Qualifier string
}

// IsRelation reports whether a is a relation attribute.
func (a *Attribute) IsRelation() bool { return a.Kind == value.Reference && a.Relation != nil }
