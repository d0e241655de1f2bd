package schema

import "sync"

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry that class packages register
// into from their init() functions, mirroring the teacher's Register[M]()
// convention of populating a package-level table list from init.
func Default() *Registry {
	defaultOnce.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}

// MustRegister registers a class on the default registry and panics on
// error; intended for use from init(), where there is no sensible recovery
// path for a malformed class declaration.
func MustRegister(name string, attrs map[string]*Attribute, methods map[string]*Method, opts ...ClassOption) {
	if err := Default().Register(name, attrs, methods, opts...); err != nil {
		panic(err)
	}
}
