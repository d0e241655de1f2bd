// Package object implements the typed object instance model from spec.md
// §4.2–§4.3: in-memory instances backed by a class descriptor, tracking
// both their last-committed state and any pending modification so the
// commit engine can diff against a known baseline (optimistic concurrency,
// spec.md §4.6).
package object

import (
	"github.com/forbearing/tol/schema"
	"github.com/forbearing/tol/value"
)

// Instance is one typed object: an id, its class descriptor, the attribute
// values as last read from storage, and — while a commit operation is being
// prepared — the pending modifications layered on top.
type Instance struct {
	ID    string
	Class string

	// Attrs holds the committed state as last loaded from storage; this is
	// the optimistic-concurrency baseline a commit operation checks its
	// writes against (spec.md §4.6 "baseline mismatch").
	Attrs map[string]value.Sequence

	// Pending holds attribute values staged by a not-yet-committed
	// ChangeToi/CreateToi operation. nil once committed or discarded.
	Pending map[string]value.Sequence

	// Phantom marks an instance built in memory for a CreateToi operation
	// that has not yet been persisted.
	Phantom bool

	// Deleted marks an instance removed by a committed DeleteToi. Deleted
	// instances are retained in memory just long enough for relation
	// fix-up and link notification to see the pre-delete attribute values.
	Deleted bool
}

// New returns a phantom instance for class with the given id.
func New(class, id string) *Instance {
	return &Instance{
		ID:      id,
		Class:   class,
		Attrs:   make(map[string]value.Sequence),
		Phantom: true,
	}
}

// Get returns the attribute's effective value: the pending value if one is
// staged, otherwise the committed value.
func (i *Instance) Get(attr string) value.Sequence {
	if i.Pending != nil {
		if v, ok := i.Pending[attr]; ok {
			return v
		}
	}
	return i.Attrs[attr]
}

// Stage records a pending value for attr, to be validated and persisted by
// the next commit operation.
func (i *Instance) Stage(attr string, v value.Sequence) {
	if i.Pending == nil {
		i.Pending = make(map[string]value.Sequence)
	}
	i.Pending[attr] = v
}

// Commit folds every staged attribute into Attrs and clears Pending,
// marking the instance no longer phantom. Called once the commit engine's
// storage write has succeeded.
func (i *Instance) Commit() {
	for attr, v := range i.Pending {
		i.Attrs[attr] = v
	}
	i.Pending = nil
	i.Phantom = false
}

// Discard drops any staged modification without touching committed state,
// used when a commit operation fails validation before reaching storage.
func (i *Instance) Discard() {
	i.Pending = nil
}

// Changed reports which attributes have a pending value different from the
// committed one, comparing by coerced Go value equality.
func (i *Instance) Changed() []string {
	var out []string
	for attr, v := range i.Pending {
		if !value.Equal(v, i.Attrs[attr]) {
			out = append(out, attr)
		}
	}
	return out
}

// Visible reports whether an instance with the given allowRead list is
// visible to a caller who is not a superuser, per the allowRead visibility
// rule (spec.md §4.3 "allowRead ∩ privileges").
func Visible(d *schema.Descriptor, allowRead []string, privileges []string) bool {
	if len(allowRead) == 0 {
		return true
	}
	want := make(map[string]bool, len(allowRead))
	for _, r := range allowRead {
		want[r] = true
	}
	for _, p := range privileges {
		if want[p] {
			return true
		}
	}
	return false
}
