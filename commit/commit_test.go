package commit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/forbearing/tol/consts"
	"github.com/forbearing/tol/errs"
	"github.com/forbearing/tol/schema"
	"github.com/forbearing/tol/txctx"
	"github.com/forbearing/tol/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// fakeStore is an in-memory storage.Store, the same substitute-for-a-live-
// database seam the teacher's own data-access layer exposes for its
// sqlmock-backed tests (see DESIGN.md): collections are plain
// map[string]bson.M guarded by a mutex so every Store method sees a
// consistent view.
type fakeStore struct {
	mu   sync.Mutex
	coll map[string]map[string]bson.M
}

func newFakeStore() *fakeStore {
	return &fakeStore{coll: make(map[string]map[string]bson.M)}
}

func (s *fakeStore) collection(name string) map[string]bson.M {
	c, ok := s.coll[name]
	if !ok {
		c = make(map[string]bson.M)
		s.coll[name] = c
	}
	return c
}

func cloneDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func matchFilter(doc bson.M, filter bson.M) bool {
	for k, want := range filter {
		if k == "$or" {
			clauses, _ := want.(bson.A)
			matched := false
			for _, c := range clauses {
				if cm, ok := c.(bson.M); ok && matchFilter(doc, cm) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}
		cur, present := doc[k]
		cond, ok := want.(bson.M)
		if !ok {
			if cur != want {
				return false
			}
			continue
		}
		if ne, has := cond["$ne"]; has && cur == ne {
			return false
		}
		if exists, has := cond["$exists"]; has && exists.(bool) != present {
			return false
		}
		if in, has := cond["$in"]; has {
			vals, _ := in.([]any)
			// Like MongoDB, an array field matches $in element-wise.
			curVals := bson.A{cur}
			if arr, isArr := cur.(bson.A); isArr {
				curVals = arr
			}
			found := false
			for _, w := range vals {
				for _, c := range curVals {
					if c == w {
						found = true
					}
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func (s *fakeStore) FindOne(ctx context.Context, collection string, filter bson.M, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.collection(collection) {
		if matchFilter(doc, filter) {
			ptr, ok := out.(*bson.M)
			if !ok {
				return fmt.Errorf("fakeStore: unsupported FindOne out %T", out)
			}
			*ptr = cloneDoc(doc)
			return nil
		}
	}
	return mongo.ErrNoDocuments
}

func (s *fakeStore) Find(ctx context.Context, collection string, filter bson.M, out any, opts ...options.Lister[options.FindOptions]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptr, ok := out.(*[]bson.M)
	if !ok {
		return fmt.Errorf("fakeStore: unsupported Find out %T", out)
	}
	var results []bson.M
	for _, doc := range s.collection(collection) {
		if matchFilter(doc, filter) {
			results = append(results, cloneDoc(doc))
		}
	}
	*ptr = results
	return nil
}

func (s *fakeStore) InsertOne(ctx context.Context, collection string, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(collection, doc)
}

func (s *fakeStore) insertLocked(collection string, doc any) error {
	m, ok := doc.(bson.M)
	if !ok {
		return fmt.Errorf("fakeStore: unsupported InsertOne doc %T", doc)
	}
	id, _ := m["_id"].(string)
	s.collection(collection)[id] = cloneDoc(m)
	return nil
}

func applyUpdate(doc bson.M, update bson.M) bson.M {
	out := cloneDoc(doc)
	if set, ok := update["$set"].(bson.M); ok {
		for k, v := range set {
			out[k] = v
		}
	}
	if unset, ok := update["$unset"].(bson.M); ok {
		for k := range unset {
			delete(out, k)
		}
	}
	if push, ok := update["$push"].(bson.M); ok {
		for k, v := range push {
			each, _ := v.(bson.M)
			items, _ := each["$each"].(bson.A)
			cur, _ := out[k].(bson.A)
			out[k] = append(append(bson.A{}, cur...), items...)
		}
	}
	if pull, ok := update["$pull"].(bson.M); ok {
		for k, v := range pull {
			cond, _ := v.(bson.M)
			idCond, _ := cond["id"].(bson.M)
			remove, _ := idCond["$in"].([]string)
			cur, _ := out[k].(bson.A)
			var kept bson.A
			for _, el := range cur {
				m, _ := el.(bson.M)
				id, _ := m["id"].(string)
				drop := false
				for _, r := range remove {
					if r == id {
						drop = true
						break
					}
				}
				if !drop {
					kept = append(kept, el)
				}
			}
			out[k] = kept
		}
	}
	return out
}

func (s *fakeStore) UpdateOne(ctx context.Context, collection string, filter, update bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	for id, doc := range c {
		if matchFilter(doc, filter) {
			c[id] = applyUpdate(doc, update)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) UpdateMany(ctx context.Context, collection string, filter, update bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	for id, doc := range c {
		if matchFilter(doc, filter) {
			c[id] = applyUpdate(doc, update)
		}
	}
	return nil
}

func (s *fakeStore) FindOneAndUpdate(ctx context.Context, collection string, filter, update bson.M, out any, opts ...options.Lister[options.FindOneAndUpdateOptions]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	for id, doc := range c {
		if matchFilter(doc, filter) {
			updated := applyUpdate(doc, update)
			c[id] = updated
			if ptr, ok := out.(*bson.M); ok {
				*ptr = cloneDoc(updated)
			}
			return nil
		}
	}
	return mongo.ErrNoDocuments
}

func (s *fakeStore) BulkWrite(ctx context.Context, collection string, models []mongo.WriteModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	for _, wm := range models {
		switch m := wm.(type) {
		case *mongo.InsertOneModel:
			doc, _ := m.Document.(bson.M)
			id, _ := doc["_id"].(string)
			c[id] = cloneDoc(doc)
		case *mongo.UpdateOneModel:
			filter, _ := m.Filter.(bson.M)
			update, _ := m.Update.(bson.M)
			for id, doc := range c {
				if matchFilter(doc, filter) {
					c[id] = applyUpdate(doc, update)
					break
				}
			}
		case *mongo.DeleteOneModel:
			filter, _ := m.Filter.(bson.M)
			for id, doc := range c {
				if matchFilter(doc, filter) {
					delete(c, id)
					break
				}
			}
		}
	}
	return nil
}

func (s *fakeStore) DeleteOne(ctx context.Context, collection string, filter bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	for id, doc := range c {
		if matchFilter(doc, filter) {
			delete(c, id)
			return nil
		}
	}
	return nil
}

// --- fixtures -----------------------------------------------------------

// baseRegistry registers the classes exercised across this file's tests:
// Test (S1/S3 round-trip + uniqueness + attribute-permission gating), A/B
// (S2 relation symmetry), Owner/Item (reference-still-held on delete), and
// Greeter (CallToi method dispatch).
func baseRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry()

	require.NoError(t, r.Register("Test", map[string]*schema.Attribute{
		"name":         {Name: "name", Kind: value.String, Multiplicity: schema.Many},
		"u":            {Name: "u", Kind: value.String, Multiplicity: schema.Many, Unique: true},
		"ro":           {Name: "ro", Kind: value.String, Multiplicity: schema.Optional, ReadOnly: true},
		"computed":     {Name: "computed", Kind: value.String, Multiplicity: schema.Optional, Computed: true},
		"locked":       {Name: "locked", Kind: value.String, Multiplicity: schema.Optional, Locked: true},
		"unchangeable": {Name: "unchangeable", Kind: value.String, Multiplicity: schema.Optional, Unchangeable: true},
		"reorder":      {Name: "reorder", Kind: value.String, Multiplicity: schema.Many, ReorderOnly: true},
	}, nil))

	require.NoError(t, r.Register("A", map[string]*schema.Attribute{
		"bs": {
			Name: "bs", Kind: value.Reference, Multiplicity: schema.Many,
			Relation: &schema.Relation{RelatedClass: "B", Counterpart: "a"},
		},
	}, nil))
	require.NoError(t, r.Register("B", map[string]*schema.Attribute{
		"a": {
			Name: "a", Kind: value.Reference, Multiplicity: schema.Optional,
			Relation: &schema.Relation{RelatedClass: "A", Counterpart: "bs"},
		},
	}, nil))

	require.NoError(t, r.Register("Item", map[string]*schema.Attribute{
		"owner": {
			Name: "owner", Kind: value.Reference, Multiplicity: schema.Required,
			Relation: &schema.Relation{RelatedClass: "Owner", Counterpart: "items"},
		},
	}, nil))
	require.NoError(t, r.Register("Owner", map[string]*schema.Attribute{
		"items": {
			Name: "items", Kind: value.Reference, Multiplicity: schema.Many,
			Relation: &schema.Relation{RelatedClass: "Item", Counterpart: "owner"},
		},
	}, nil))

	ret := value.String
	require.NoError(t, r.Register("Greeter", nil, map[string]*schema.Method{
		"greet": {
			Name: "greet", Kind: schema.MethodToi,
			Params: []schema.Param{{Name: "suffix", Kind: value.String, Multiplicity: schema.Optional}},
			Return: &ret,
			Impl: func(ctx context.Context, targetID string, args []value.Sequence) (value.Sequence, error) {
				suffix := ""
				if len(args) > 0 && len(args[0]) > 0 {
					suffix, _ = args[0][0].(string)
				}
				return value.Sequence{"hello " + targetID + suffix}, nil
			},
		},
	}, nil))

	require.NoError(t, r.Resolve())
	return r
}

func newEngine(t *testing.T, store *fakeStore) *Engine {
	t.Helper()
	return New(baseRegistry(t), store, zap.NewNop())
}

// collOf returns the storage-layer collection key the engine uses for class.
// commit.go addresses every Store call by the raw class name (op.Class),
// never by the descriptor's pluralised Collection field, so the fake store
// must be keyed the same way for a test's fixtures to land where the engine
// actually looks. The registry lookup stays only to assert the class exists.
func collOf(t *testing.T, e *Engine, class string) string {
	t.Helper()
	_, ok := e.registry.Descriptor(class)
	require.True(t, ok, "class %q not registered", class)
	return class
}

func newTx() *txctx.CommitContext {
	ctx := txctx.New(txctx.Identity{UserID: "u1", Superuser: true}, time.Minute, time.Minute)
	return txctx.NewCommit(ctx)
}

func attrErrReason(t *testing.T, err error) errs.Reason {
	t.Helper()
	var ave *errs.AttrValueError
	require.True(t, errors.As(err, &ave), "expected an *errs.AttrValueError in the chain, got %v", err)
	return ave.Reason
}

// --- S1: create / query / delete round-trip -----------------------------

func TestCreateQueryDeleteRoundTrip(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()

	create := Operation{Kind: CreateToi, Class: "Test", Attrs: map[string]value.Sequence{
		"name": {"alice"},
	}}
	res := e.Run(ctx, newTx(), []Operation{create})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)

	tests := collOf(t, e, "Test")
	var ids []string
	for id := range store.collection(tests) {
		ids = append(ids, id)
	}
	require.Len(t, ids, 1)
	id := ids[0]
	assert.Equal(t, "alice", store.collection(tests)[id]["name"].(bson.A)[0])

	del := Operation{Kind: DeleteToi, Class: "Test", ID: id}
	res = e.Run(ctx, newTx(), []Operation{del})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)
	assert.Empty(t, store.collection(tests))
}

// --- S2: relation symmetry -----------------------------------------------

func TestRelationFixupIsSymmetric(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()

	as, bs := collOf(t, e, "A"), collOf(t, e, "B")
	store.collection(as)["a1"] = bson.M{"_id": "a1", "_toc": "A", "bs": bson.A{}}
	store.collection(bs)["b1"] = bson.M{"_id": "b1", "_toc": "B"}

	change := Operation{
		Kind: ChangeToi, Class: "A", ID: "a1",
		Attrs:    map[string]value.Sequence{"bs": {value.Ref{ID: "b1"}}},
		Baseline: map[string]value.Sequence{"bs": {}},
	}
	res := e.Run(ctx, newTx(), []Operation{change})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)

	bDoc := store.collection(bs)["b1"]
	require.NotNil(t, bDoc["a"])
	assert.Equal(t, "a1", bDoc["a"].(bson.M)["id"])

	// Removing the relation on A's side must clear B's back-link too.
	change2 := Operation{
		Kind: ChangeToi, Class: "A", ID: "a1",
		Attrs:    map[string]value.Sequence{"bs": {}},
		Baseline: map[string]value.Sequence{"bs": {value.Ref{ID: "b1"}}},
	}
	res = e.Run(ctx, newTx(), []Operation{change2})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)
	assert.Nil(t, store.collection(bs)["b1"]["a"])
}

// --- S3: unique conflict --------------------------------------------------

func TestUniqueRejectsConflictingCreate(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()

	first := Operation{Kind: CreateToi, Class: "Test", Attrs: map[string]value.Sequence{"u": {"X"}}}
	res := e.Run(ctx, newTx(), []Operation{first})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)

	second := Operation{Kind: CreateToi, Class: "Test", Attrs: map[string]value.Sequence{"u": {"X"}}}
	res = e.Run(ctx, newTx(), []Operation{second})
	require.Equal(t, Failed, res.Outcome)
	assert.Equal(t, errs.ReasonUnique, attrErrReason(t, res.Err))
}

func TestUniqueRejectsConflictInSameBatch(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()

	ops := []Operation{
		{Kind: CreateToi, Class: "Test", ID: "t1", Attrs: map[string]value.Sequence{"u": {"X"}}},
		{Kind: CreateToi, Class: "Test", ID: "t2", Attrs: map[string]value.Sequence{"u": {"X"}}},
	}
	res := e.Run(ctx, newTx(), ops)
	require.Equal(t, Failed, res.Outcome)
	assert.Equal(t, errs.ReasonUnique, attrErrReason(t, res.Err))
}

// --- S4: conflict retry ---------------------------------------------------
//
// spec.md's own retry loop replays the identical operation list with
// generation+=1 on a CommitConflict; it has no way to discover a fresher
// baseline on its own. The scenario's "retried under a fresh context where
// baseline = [B]" describes the caller re-reading the current value and
// resubmitting a new commit, not Engine.Run looping by itself — so this test
// models context 2 as a second, independent Run call carrying a refreshed
// baseline, exactly as a retrying caller would (see DESIGN.md).
func TestConflictRetryRequiresFreshBaseline(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()

	create := Operation{Kind: CreateToi, Class: "Test", ID: "t1", Attrs: map[string]value.Sequence{"name": {"A"}}}
	res := e.Run(ctx, newTx(), []Operation{create})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)

	// Context 1 commits name := "B" against the correct baseline "A".
	change1 := Operation{
		Kind: ChangeToi, Class: "Test", ID: "t1",
		Attrs:    map[string]value.Sequence{"name": {"B"}},
		Baseline: map[string]value.Sequence{"name": {"A"}},
	}
	res = e.Run(ctx, newTx(), []Operation{change1})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)

	// Context 2 staged name := "C" against the now-stale baseline "A".
	stale := Operation{
		Kind: ChangeToi, Class: "Test", ID: "t1",
		Attrs:    map[string]value.Sequence{"name": {"C"}},
		Baseline: map[string]value.Sequence{"name": {"A"}},
	}
	res = e.Run(ctx, newTx(), []Operation{stale})
	require.Equal(t, Conflict, res.Outcome)

	// Context 2 re-reads ("B") and retries with a refreshed baseline.
	fresh := Operation{
		Kind: ChangeToi, Class: "Test", ID: "t1",
		Attrs:    map[string]value.Sequence{"name": {"C"}},
		Baseline: map[string]value.Sequence{"name": {"B"}},
	}
	res = e.Run(ctx, newTx(), []Operation{fresh})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)

	assert.Equal(t, "C", store.collection(collOf(t, e, "Test"))["t1"]["name"].(bson.A)[0])
}

func TestConflictWhenInstanceVanished(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()

	change := Operation{
		Kind: ChangeToi, Class: "Test", ID: "ghost",
		Attrs:    map[string]value.Sequence{"name": {"x"}},
		Baseline: map[string]value.Sequence{"name": {"y"}},
	}
	res := e.Run(ctx, newTx(), []Operation{change})
	assert.Equal(t, Conflict, res.Outcome)
}

// --- attribute-permission gating ------------------------------------------

func TestCreateRejectsComputedAndReadOnlyAndLocked(t *testing.T) {
	cases := []string{"ro", "computed", "locked"}
	for _, attr := range cases {
		attr := attr
		t.Run(attr, func(t *testing.T) {
			store := newFakeStore()
			e := newEngine(t, store)
			op := Operation{Kind: CreateToi, Class: "Test", Attrs: map[string]value.Sequence{attr: {"v"}}}
			res := e.Run(context.Background(), newTx(), []Operation{op})
			require.Equal(t, Failed, res.Outcome)
			assert.True(t, errs.Is(res.Err, errs.KindAttrPermission), "%v", res.Err)
		})
	}
}

func TestChangeRejectsUnchangeableAndLockedAndReadOnly(t *testing.T) {
	cases := []string{"unchangeable", "locked", "ro"}
	for _, attr := range cases {
		attr := attr
		t.Run(attr, func(t *testing.T) {
			store := newFakeStore()
			e := newEngine(t, store)
			ctx := context.Background()
			store.collection(collOf(t, e, "Test"))["t1"] = bson.M{"_id": "t1", "_toc": "Test"}

			op := Operation{Kind: ChangeToi, Class: "Test", ID: "t1", Attrs: map[string]value.Sequence{attr: {"v"}}}
			res := e.Run(ctx, newTx(), []Operation{op})
			require.Equal(t, Failed, res.Outcome)
			assert.True(t, errs.Is(res.Err, errs.KindAttrPermission), "%v", res.Err)
		})
	}
}

func TestChangeReorderOnlyAllowsPermutationNotMembershipChange(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()
	tests := collOf(t, e, "Test")
	store.collection(tests)["t1"] = bson.M{"_id": "t1", "_toc": "Test", "reorder": bson.A{"x", "y"}}

	reorder := Operation{
		Kind: ChangeToi, Class: "Test", ID: "t1",
		Attrs:    map[string]value.Sequence{"reorder": {"y", "x"}},
		Baseline: map[string]value.Sequence{"reorder": {"x", "y"}},
	}
	res := e.Run(ctx, newTx(), []Operation{reorder})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)

	store.collection(tests)["t1"] = bson.M{"_id": "t1", "_toc": "Test", "reorder": bson.A{"x", "y"}}
	addElement := Operation{
		Kind: ChangeToi, Class: "Test", ID: "t1",
		Attrs:    map[string]value.Sequence{"reorder": {"x", "y", "z"}},
		Baseline: map[string]value.Sequence{"reorder": {"x", "y"}},
	}
	res = e.Run(ctx, newTx(), []Operation{addElement})
	require.Equal(t, Failed, res.Outcome)
	assert.True(t, errs.Is(res.Err, errs.KindAttrPermission), "%v", res.Err)
}

// --- reference-still-held on delete ---------------------------------------

func TestDeleteRejectsWhenRequiredBackLinkStillHeld(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()

	owners, items := collOf(t, e, "Owner"), collOf(t, e, "Item")
	store.collection(owners)["o1"] = bson.M{"_id": "o1", "_toc": "Owner", "items": bson.A{bson.M{"id": "i1"}}}
	store.collection(items)["i1"] = bson.M{"_id": "i1", "_toc": "Item", "owner": bson.M{"id": "o1"}}

	res := e.Run(ctx, newTx(), []Operation{{Kind: DeleteToi, Class: "Owner", ID: "o1"}})
	require.Equal(t, Failed, res.Outcome)
	assert.Equal(t, errs.ReasonRelation, attrErrReason(t, res.Err))
	assert.NotEmpty(t, store.collection(owners), "owner must not be deleted once rejected")
}

func TestDeleteAllowsWeakRelationToTearDownBackLink(t *testing.T) {
	store := newFakeStore()
	r := baseRegistry(t)
	d, ok := r.Descriptor("Owner")
	require.True(t, ok)
	d.Attributes["items"].Weak = true
	e := New(r, store, zap.NewNop())
	ctx := context.Background()

	owners, items := collOf(t, e, "Owner"), collOf(t, e, "Item")
	store.collection(owners)["o1"] = bson.M{"_id": "o1", "_toc": "Owner", "items": bson.A{bson.M{"id": "i1"}}}
	store.collection(items)["i1"] = bson.M{"_id": "i1", "_toc": "Item", "owner": bson.M{"id": "o1"}}

	res := e.Run(ctx, newTx(), []Operation{{Kind: DeleteToi, Class: "Owner", ID: "o1"}})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)
	assert.Empty(t, store.collection(owners))
	assert.Nil(t, store.collection(items)["i1"]["owner"])
}

// --- CallToi method dispatch -----------------------------------------------

func TestCallToiInvokesMethodAndCoercesReturn(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()

	store.collection(collOf(t, e, "Greeter"))["g1"] = bson.M{"_id": "g1", "_toc": "Greeter"}

	call := Operation{Kind: CallToi, Class: "Greeter", ID: "g1", Method: "greet", Args: []any{[]any{"!"}}}
	res := e.Run(ctx, newTx(), []Operation{call})
	require.Equal(t, Ok, res.Outcome, "%v", res.Err)
	require.Len(t, res.MethodVals, 1)
	assert.Equal(t, []any{"hello g1!"}, res.MethodVals[0])
}

func TestCallToiRejectsUnknownMethod(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()
	store.collection(collOf(t, e, "Greeter"))["g1"] = bson.M{"_id": "g1", "_toc": "Greeter"}

	call := Operation{Kind: CallToi, Class: "Greeter", ID: "g1", Method: "nope"}
	res := e.Run(ctx, newTx(), []Operation{call})
	assert.Equal(t, Failed, res.Outcome)
}

// --- lock vanished vs. held -------------------------------------------------

func TestLockDistinguishesVanishedFromHeld(t *testing.T) {
	store := newFakeStore()
	e := newEngine(t, store)
	ctx := context.Background()

	tests := collOf(t, e, "Test")
	outcome, err := e.lock(ctx, map[string]string{"ghost": tests}, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, lockVanished, outcome)

	store.collection(tests)["t1"] = bson.M{"_id": "t1", "_toc": "Test", consts.FieldHandledBy: "owner-b"}
	outcome, err = e.lock(ctx, map[string]string{"t1": tests}, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, lockHeld, outcome)
}
