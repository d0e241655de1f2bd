// Package txctx implements the explicit context-stack parameter from
// spec.md §9's redesign flag ("thread-local context stack -> explicit
// context parameter"): instead of a goroutine-local singleton, every
// object-layer call takes a *Context explicitly, and commit operations
// extend it with the bookkeeping an atomic multi-object write needs.
package txctx

import (
	"time"

	"github.com/forbearing/tol/object"
	"github.com/patrickmn/go-cache"
)

// Identity is the caller's resolved identity: user id plus the privilege
// set used for allowRead visibility checks (spec.md §4.3).
type Identity struct {
	UserID     string
	Superuser  bool
	Privileges []string
}

// Context is the read-only context threaded through query and read
// operations: the caller's identity plus a short-lived query-result cache.
type Context struct {
	Identity Identity

	// cache holds recent query results keyed by a caller-chosen string,
	// with a fixed TTL — grounded on patrickmn/go-cache rather than a
	// hand-rolled map+mutex, since the teacher's stack already reaches for
	// ecosystem caching libraries for this kind of thing.
	cache *cache.Cache
}

// New returns a read context for identity with a query cache of the given
// TTL and cleanup interval.
func New(identity Identity, ttl, cleanup time.Duration) *Context {
	return &Context{Identity: identity, cache: cache.New(ttl, cleanup)}
}

// CacheGet returns a cached query result, if still fresh.
func (c *Context) CacheGet(key string) (any, bool) { return c.cache.Get(key) }

// CacheSet stores a query result under key with the context's default TTL.
func (c *Context) CacheSet(key string, v any) { c.cache.SetDefault(key, v) }

// CacheInvalidate drops every cached entry; called after a commit touches
// storage so stale reads never outlive the write that invalidated them.
func (c *Context) CacheInvalidate() { c.cache.Flush() }

// CommitContext extends Context with the bookkeeping one atomic multi-toi
// commit operation accumulates as it walks relation fix-ups and builds its
// write set (spec.md §4.6).
type CommitContext struct {
	*Context

	// Generation counts commit-conflict retries; capped by
	// consts.GenerationCap.
	Generation int

	// LockAttempt counts tois-locked retries; capped by consts.LockRetryCap.
	LockAttempt int

	// New holds phantom instances created by CreateToi this operation,
	// keyed by id.
	New map[string]*object.Instance
	// Changed holds instances staged for ChangeToi, keyed by id.
	Changed map[string]*object.Instance
	// DeletedIDs holds ids staged for DeleteToi.
	DeletedIDs map[string]bool

	// BlobAddRef/BlobDelRef accumulate ref-count deltas to apply to the
	// blob manager once the write itself succeeds (spec.md §4.8).
	BlobAddRef map[string][]string
	BlobDelRef map[string][]string

	// IndexData accumulates the (owner-id, [term,...]) pairs emitted for
	// every Indexed attribute this commit touches, applied to the text
	// indexer once the write itself succeeds (spec.md §4.6 step 5).
	IndexData map[string][]string

	// MayChange flags that this operation's write set could still grow
	// (relation fix-up may stage more instances); the commit engine polls
	// this before considering the write set final.
	MayChange bool
}

// NewCommit returns a fresh commit context layered on ctx.
func NewCommit(ctx *Context) *CommitContext {
	return &CommitContext{
		Context:    ctx,
		New:        make(map[string]*object.Instance),
		Changed:    make(map[string]*object.Instance),
		DeletedIDs: make(map[string]bool),
		BlobAddRef: make(map[string][]string),
		BlobDelRef: make(map[string][]string),
		IndexData:  make(map[string][]string),
	}
}

// Reset clears the accumulated write set between generation retries,
// keeping the generation/lock-attempt counters themselves.
func (c *CommitContext) Reset() {
	c.New = make(map[string]*object.Instance)
	c.Changed = make(map[string]*object.Instance)
	c.DeletedIDs = make(map[string]bool)
	c.BlobAddRef = make(map[string][]string)
	c.BlobDelRef = make(map[string][]string)
	c.IndexData = make(map[string][]string)
	c.MayChange = false
}

// AffectedIDs returns every instance id this commit's write set touches,
// used to compute the lock phase's target set (spec.md §4.6 step 1).
func (c *CommitContext) AffectedIDs() []string {
	ids := make([]string, 0, len(c.New)+len(c.Changed)+len(c.DeletedIDs))
	for id := range c.New {
		ids = append(ids, id)
	}
	for id := range c.Changed {
		ids = append(ids, id)
	}
	for id := range c.DeletedIDs {
		ids = append(ids, id)
	}
	return ids
}
