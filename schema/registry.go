package schema

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/tol/errs"
	"github.com/gertd/go-pluralize"
)

var plural = pluralize.NewClient()

// Registry holds every registered class and materialises flattened
// descriptors once the full class tree is known. Classes may be registered
// in any order — relation counterparts are resolved in a second pass after
// every Register call has run, so forward references and cycles between
// classes both work (spec.md §4.5 bidirectional relations).
type Registry struct {
	mu      sync.Mutex
	classes map[string]*Class
	resolved bool
	descriptors map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		classes:     make(map[string]*Class),
		descriptors: make(map[string]*Descriptor),
	}
}

// ClassOption configures a class at registration time.
type ClassOption func(*Class)

// WithParent sets the class's immediate parent (spec.md §4.2 single-rooted
// tree). Omit for the root class.
func WithParent(name string) ClassOption {
	return func(c *Class) { c.Parent = name }
}

// WithCollection overrides the default collection name. If omitted,
// Register derives one from the class name via go-pluralize, mirroring the
// teacher's model-to-table naming convention.
func WithCollection(name string) ClassOption {
	return func(c *Class) { c.Collection = name }
}

// Register declares a new class. Call it once per class, in any order, then
// call Resolve once every class and its attributes are registered.
func (r *Registry) Register(name string, attrs map[string]*Attribute, methods map[string]*Method, opts ...ClassOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.classes[name]; exists {
		return errs.New(errs.KindClientError, "class already registered: "+name)
	}
	c := &Class{
		Name:       name,
		Attributes: attrs,
		Methods:    methods,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Collection == "" {
		c.Collection = plural.Plural(toSnake(name))
	}
	r.classes[name] = c
	r.resolved = false
	return nil
}

// Resolve runs after all classes are registered: it computes each class's
// ancestor chain, validates that every relation's counterpart attribute
// exists and is itself a relation, and materialises flattened descriptors.
// Safe to call multiple times; it is a no-op once already resolved and no
// new classes have been registered since.
func (r *Registry) Resolve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return nil
	}

	for name, c := range r.classes {
		bases, err := ancestors(r.classes, name)
		if err != nil {
			return err
		}
		c.Bases = bases
	}

	for name, c := range r.classes {
		for attrName, attr := range allAttributes(r.classes, name) {
			if !attr.IsRelation() {
				continue
			}
			rel := attr.Relation
			counterpartClass, ok := r.classes[rel.RelatedClass]
			if !ok {
				return errors.Newf("class %q attribute %q: related class %q is not registered", name, attrName, rel.RelatedClass)
			}
			counterpartAttrs := allAttributes(r.classes, rel.RelatedClass)
			counterpart, ok := counterpartAttrs[rel.Counterpart]
			if !ok {
				return errors.Newf("class %q attribute %q: counterpart attribute %q not found on %q", name, attrName, rel.Counterpart, rel.RelatedClass)
			}
			if !counterpart.IsRelation() {
				return errors.Newf("class %q attribute %q: counterpart %q.%q is not itself a relation", name, attrName, rel.RelatedClass, rel.Counterpart)
			}
			_ = counterpartClass
		}
	}

	r.descriptors = make(map[string]*Descriptor, len(r.classes))
	for name := range r.classes {
		r.descriptors[name] = r.materialize(name)
	}
	r.resolved = true
	return nil
}

// Descriptor returns the flattened descriptor for a class. Resolve must
// have been called first.
func (r *Registry) Descriptor(class string) (*Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[class]
	return d, ok
}

// Classes returns every registered class name.
func (r *Registry) Classes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.classes))
	for name := range r.classes {
		out = append(out, name)
	}
	return out
}

// IsSubclass reports whether sub descends from (or equals) base.
func (r *Registry) IsSubclass(sub, base string) bool {
	if sub == base {
		return true
	}
	d, ok := r.Descriptor(sub)
	if !ok {
		return false
	}
	for _, b := range d.Bases {
		if b == base {
			return true
		}
	}
	return false
}

func (r *Registry) materialize(name string) *Descriptor {
	c := r.classes[name]
	d := &Descriptor{
		Class:      name,
		Collection: c.Collection,
		Bases:      append([]string(nil), c.Bases...),
		Attributes: make(map[string]*Attribute),
		Methods:    make(map[string]*Method),
	}
	chain := append([]string{name}, c.Bases...)
	// Walk root-to-leaf so subclass declarations override ancestor ones.
	for i := len(chain) - 1; i >= 0; i-- {
		cls, ok := r.classes[chain[i]]
		if !ok {
			continue
		}
		for attrName, attr := range cls.Attributes {
			d.Attributes[attrName] = cloneAttribute(attr)
		}
		for methodName, m := range cls.Methods {
			d.Methods[methodName] = cloneMethod(m)
		}
		if cls.Hooks != nil {
			d.Hooks = cls.Hooks
		}
	}
	return d
}

func ancestors(classes map[string]*Class, name string) ([]string, error) {
	var chain []string
	seen := map[string]bool{name: true}
	cur := classes[name]
	for cur.Parent != "" {
		if seen[cur.Parent] {
			return nil, errors.Newf("class %q: inheritance cycle through %q", name, cur.Parent)
		}
		parent, ok := classes[cur.Parent]
		if !ok {
			return nil, errors.Newf("class %q: parent %q is not registered", name, cur.Parent)
		}
		chain = append(chain, cur.Parent)
		seen[cur.Parent] = true
		cur = parent
	}
	return chain, nil
}

func allAttributes(classes map[string]*Class, name string) map[string]*Attribute {
	out := make(map[string]*Attribute)
	chain := []string{name}
	cur := classes[name]
	for cur.Parent != "" {
		chain = append(chain, cur.Parent)
		cur = classes[cur.Parent]
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for attrName, attr := range classes[chain[i]].Attributes {
			out[attrName] = attr
		}
	}
	return out
}
