package schema

import (
	"context"

	"github.com/forbearing/tol/value"
	"github.com/jinzhu/copier"
)

// MethodKind distinguishes the two callable-method shapes spec.md §4.6
// describes for commit operations: CallToi methods run against one
// instance, CallBlm methods run against the class itself.
type MethodKind int

const (
	MethodToi MethodKind = iota
	MethodBlm
)

// Param describes one positional argument a Method accepts.
type Param struct {
	Name         string
	Kind         value.Kind
	Multiplicity Multiplicity
}

// MethodImpl is a callable method's actual implementation. targetID is the
// instance id for a MethodToi call, "" for a MethodBlm (class-level) call.
// It is typed in terms of value.Sequence rather than anything from the
// commit/txctx packages so schema never imports them (commit already
// imports schema).
type MethodImpl func(ctx context.Context, targetID string, args []value.Sequence) (value.Sequence, error)

// Method is a descriptor for one callable method exposed through CallToi or
// CallBlm commit operations. Impl is resolved and invoked by the commit
// engine at call time; Params/Return describe the argument and result shape
// the engine coerces against before and after invoking it.
type Method struct {
	Name   string
	Kind   MethodKind
	Params []Param
	// Return is the method's result kind, or nil for a method with no
	// return value.
	Return *value.Kind
	Impl   MethodImpl
}

// Class is one node in the single-rooted class tree (spec.md §4.2 "classes
// form a single-rooted inheritance tree"). Attributes and Methods hold only
// what this class itself declares; Bases lists every ancestor from parent to
// root, and Registry.Resolve folds ancestor attributes/methods into a
// flattened per-class descriptor for runtime use.
type Class struct {
	Name       string
	Parent     string // "" for the root
	Collection string // default Mongo collection name

	Attributes map[string]*Attribute
	Methods    map[string]*Method

	// Hooks are this class's own class-level on_create/on_delete callbacks
	// (spec.md §4.6); a subclass that sets Hooks overrides whatever an
	// ancestor declared, the same way an attribute override does.
	Hooks *ClassHooks

	// Bases is the ancestor chain, nearest first, populated by
	// Registry.Resolve. Empty for the root class.
	Bases []string
}

// ClassHooks are the class-level lifecycle callbacks spec.md §4.6 runs once
// per CreateToi/DeleteToi operation, after the per-attribute hooks.
type ClassHooks struct {
	OnCreate func(ctx context.Context, id string) error
	OnDelete func(ctx context.Context, id string) error
}

// Descriptor is the flattened, runtime-ready view of a class: its own
// attributes plus every ancestor's, with ancestor descriptors deep-copied so
// that mutating a subclass's restriction slice never aliases the parent's
// (spec.md §4.2 "subclasses may narrow but not widen restrictions").
type Descriptor struct {
	Class      string
	Collection string
	Bases      []string // ancestor closure, nearest first
	Attributes map[string]*Attribute
	Methods    map[string]*Method
	Hooks      *ClassHooks
}

// AttrList returns the descriptor's attribute names in map order; callers
// that need a stable order should sort it themselves.
func (d *Descriptor) AttrList() []string {
	out := make([]string, 0, len(d.Attributes))
	for name := range d.Attributes {
		out = append(out, name)
	}
	return out
}

// cloneAttribute deep-copies an attribute descriptor via jinzhu/copier so
// inherited restriction slices and the nested Relation pointer never alias
// the ancestor's copy (spec.md §4.2 copy-on-inherit requirement).
func cloneAttribute(src *Attribute) *Attribute {
	dst := &Attribute{}
	_ = copier.CopyWithOption(dst, src, copier.Option{DeepCopy: true})
	return dst
}

// cloneMethod is a shallow copy: Params/Return/Impl are immutable once
// registered, so subclasses sharing an inherited method can safely share the
// same backing slice and function value.
func cloneMethod(src *Method) *Method {
	dst := &Method{}
	_ = copier.Copy(dst, src)
	return dst
}
