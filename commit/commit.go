// Package commit implements the atomic multi-object commit engine from
// spec.md §4.6: CreateToi/ChangeToi/DeleteToi/CallToi/CallBlm operations,
// relation fix-up, the lock/conflict-check/write/unlock pipeline, and the
// commit record lifecycle used for async handoff and client polling.
package commit

import (
	"context"
	"fmt"

	"github.com/forbearing/tol/consts"
	"github.com/forbearing/tol/errs"
	"github.com/forbearing/tol/object"
	"github.com/forbearing/tol/pkg/auditmanager"
	"github.com/forbearing/tol/schema"
	"github.com/forbearing/tol/storage"
	"github.com/forbearing/tol/textindex"
	"github.com/forbearing/tol/txctx"
	"github.com/forbearing/tol/util"
	"github.com/forbearing/tol/value"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// Outcome tags how a commit attempt ended, per spec.md §9's redesign flag
// replacing a single boolean success/fail with a small result type.
type Outcome int

const (
	Ok Outcome = iota
	Conflict
	Locked
	Failed
)

// Operation is one staged change within a commit: create, change, delete,
// or a method call against a toi or the whole class (blm).
type Operation struct {
	Kind  OpKind
	Class string
	ID    string // "" for CreateToi, filled in once an id is allocated
	Attrs map[string]value.Sequence

	// Baseline holds the caller-observed prior value of every attribute
	// ChangeToi is about to overwrite, keyed the same as Attrs. The commit
	// engine compares it against the current store value during the
	// conflict-check phase (spec.md §4.6 step 3's optimistic-concurrency
	// rule); an attribute absent from Baseline is not conflict-checked.
	// Unused for every op kind besides ChangeToi.
	Baseline map[string]value.Sequence

	Method string
	Args   []any
}

type OpKind int

const (
	CreateToi OpKind = iota
	ChangeToi
	DeleteToi
	CallToi
	CallBlm
)

// Result is what a commit attempt returns to its caller.
type Result struct {
	Outcome    Outcome
	CommitID   string
	Err        error
	MethodVals []any // CallToi/CallBlm return values, in operation order
}

// Engine ties the registry, storage adapter and blob/link hooks together to
// run commit operations.
type Engine struct {
	registry *schema.Registry
	store    storage.Store
	log      *zap.Logger

	// OnAffected is invoked after a successful write with the set of
	// instance ids whose attributes changed, for the link engine to
	// recompute subscriptions against (spec.md §4.7).
	OnAffected func(ids []string)

	// Audit records a human-readable trail entry per operation once a
	// commit succeeds; nil disables audit logging entirely.
	Audit *auditmanager.Manager

	// Index receives the (owner-id, [term,...]) pairs emitted for Indexed
	// attributes once a commit succeeds; defaults to textindex.Noop{}.
	Index textindex.Indexer
}

// New returns an Engine.
func New(registry *schema.Registry, store storage.Store, log *zap.Logger) *Engine {
	return &Engine{registry: registry, store: store, log: log, Index: textindex.Noop{}}
}

// Run executes ops as one atomic commit: pre-validation, relation fix-up,
// and the lock/conflict/write/unlock pipeline. It does not write a commit
// record; the commit id in Result is used only for the audit trail.
// It retries on commit-conflict up to consts.GenerationCap times and on
// tois-locked up to consts.LockRetryCap times before giving up.
func (e *Engine) Run(ctx context.Context, tx *txctx.CommitContext, ops []Operation) Result {
	for tx.Generation < consts.GenerationCap {
		res := e.attempt(ctx, tx, ops)
		switch res.Outcome {
		case Ok:
			return res
		case Conflict:
			tx.Generation++
			tx.Reset()
			continue
		case Locked:
			tx.LockAttempt++
			if tx.LockAttempt >= consts.LockRetryCap {
				return res
			}
			continue
		default:
			return res
		}
	}
	return Result{Outcome: Conflict, Err: errs.New(errs.KindCommitConflict, "exceeded generation cap")}
}

// attempt runs the commit pipeline once (spec.md §4.6):
//  1. pre-validate every staged attribute value against its restrictions
//  2. allocate CreateToi ids; CreateToi attribute-permission gating and
//     per-attribute on_create hooks
//  3. stage instances
//  4. lock phase: atomically claim affected ids via _handled_by
//  5. conflict check against the caller-supplied Baseline; ChangeToi
//     attribute-permission gating and on_update hooks; DeleteToi delete
//     permission and class-level on_delete hook
//  6. class-level on_create hooks; uniqueness and deferred
//     to-type/qualification post-validation
//  7. relation fix-up (including DeleteToi's reference-still-held check)
//  8. build and run writes, including CallToi/CallBlm method dispatch
//  9. blob ref-count update, text index, cache invalidation, audit record;
//     unlock runs on every exit path
func (e *Engine) attempt(ctx context.Context, tx *txctx.CommitContext, ops []Operation) Result {
	errList := &errs.AttrErrorList{}
	for _, op := range ops {
		if err := e.validateOp(op, errList); err != nil {
			return Result{Outcome: Failed, Err: err}
		}
	}
	if !errList.Empty() {
		return Result{Outcome: Failed, Err: errs.ClientError(errList)}
	}

	for i := range ops {
		if ops[i].Kind == CreateToi && ops[i].ID == "" {
			ops[i].ID = util.NewID()
		}
	}

	for _, op := range ops {
		desc, ok := e.registry.Descriptor(op.Class)
		if !ok {
			return Result{Outcome: Failed, Err: errs.New(errs.KindToiNonexistent, "unknown class: "+op.Class)}
		}
		switch op.Kind {
		case CreateToi:
			if err := e.checkAttrPermissions(op, desc, nil); err != nil {
				return Result{Outcome: Failed, Err: err}
			}
			if err := e.runAttrHooks(ctx, op, desc, true); err != nil {
				return Result{Outcome: Failed, Err: err}
			}
		}
	}

	e.stageInstances(tx, ops)

	targets := lockTargets(ops)
	owner := util.NewID()
	outcome, err := e.lock(ctx, targets, owner)
	if err != nil {
		return Result{Outcome: Failed, Err: errs.Internal(err)}
	}
	switch outcome {
	case lockVanished:
		return Result{Outcome: Conflict, Err: errs.New(errs.KindCommitConflict, "one or more instances no longer exist")}
	case lockHeld:
		return Result{Outcome: Locked, Err: errs.New(errs.KindToisLocked, "one or more instances are locked")}
	}
	defer e.unlock(ctx, targets, owner)

	docs, err := e.loadCurrentDocs(ctx, ops)
	if err != nil {
		return Result{Outcome: Failed, Err: errs.Internal(err)}
	}

	if e.checkConflicts(ops, docs) {
		return Result{Outcome: Conflict, Err: errs.New(errs.KindCommitConflict, "baseline changed since read")}
	}

	for _, op := range ops {
		desc, ok := e.registry.Descriptor(op.Class)
		if !ok {
			continue
		}
		switch op.Kind {
		case ChangeToi:
			if err := e.checkAttrPermissions(op, desc, docs[op.ID]); err != nil {
				return Result{Outcome: Failed, Err: err}
			}
			if err := e.runAttrHooks(ctx, op, desc, false); err != nil {
				return Result{Outcome: Failed, Err: err}
			}
		case DeleteToi:
			if err := e.checkDeletePermission(op, docs[op.ID], tx); err != nil {
				return Result{Outcome: Failed, Err: err}
			}
			if err := e.runClassHook(ctx, desc, op.ID, false); err != nil {
				return Result{Outcome: Failed, Err: err}
			}
		}
	}

	for _, op := range ops {
		if op.Kind != CreateToi {
			continue
		}
		desc, ok := e.registry.Descriptor(op.Class)
		if !ok {
			continue
		}
		if err := e.runClassHook(ctx, desc, op.ID, true); err != nil {
			return Result{Outcome: Failed, Err: err}
		}
	}

	if err := e.checkUnique(ctx, ops); err != nil {
		return Result{Outcome: Failed, Err: err}
	}
	if err := e.checkDeferredRestrictions(ctx, ops, docs); err != nil {
		return Result{Outcome: Failed, Err: err}
	}

	fixups, err := e.fixupRelations(ctx, ops, docs)
	if err != nil {
		if errs.Is(err, errs.KindClientError) {
			return Result{Outcome: Failed, Err: err}
		}
		return Result{Outcome: Failed, Err: errs.Internal(err)}
	}

	writesByClass, methodVals, err := e.buildWrites(ctx, ops, fixups)
	if err != nil {
		if errs.Is(err, errs.KindClientError) {
			return Result{Outcome: Failed, Err: err}
		}
		return Result{Outcome: Failed, Err: errs.Internal(err)}
	}
	for class, writes := range writesByClass {
		if err := e.store.BulkWrite(ctx, class, writes); err != nil {
			return Result{Outcome: Failed, Err: errs.Internal(err)}
		}
	}

	e.applyBlobRefDeltas(tx)
	e.emitIndexData(ctx, tx, ops)
	e.commitInstances(tx)

	affected := e.affectedIDs(ops)
	if e.OnAffected != nil {
		e.OnAffected(affected)
	}
	tx.CacheInvalidate()

	commitID := util.NewID()
	e.recordAudit(ctx, commitID, tx, ops)
	return Result{Outcome: Ok, CommitID: commitID, MethodVals: methodVals}
}

var opName = map[OpKind]string{
	CreateToi: "create_toi", ChangeToi: "change_toi", DeleteToi: "delete_toi",
	CallToi: "call_toi", CallBlm: "call_blm",
}

// recordAudit logs one human-readable trail entry per staged operation,
// best-effort: a logging failure never fails the commit that already
// succeeded.
func (e *Engine) recordAudit(ctx context.Context, commitID string, tx *txctx.CommitContext, ops []Operation) {
	if e.Audit == nil {
		return
	}
	for _, op := range ops {
		diff, err := auditmanager.Diff(nil, op.Attrs)
		if err != nil {
			diff = ""
		}
		entry := &auditmanager.Entry{
			CommitID: commitID, Class: op.Class, ID: op.ID,
			Op: opName[op.Kind], UserID: tx.Identity.UserID, Diff: diff,
		}
		if err := e.Audit.Record(ctx, entry); err != nil {
			e.log.Warn("commit: audit record failed", zap.Error(err))
		}
	}
}

func (e *Engine) validateOp(op Operation, errList *errs.AttrErrorList) error {
	desc, ok := e.registry.Descriptor(op.Class)
	if !ok {
		return errs.New(errs.KindToiNonexistent, "unknown class: "+op.Class)
	}
	for attrName, raw := range op.Attrs {
		attr, ok := desc.Attributes[attrName]
		if !ok {
			return errs.New(errs.KindAttrNameUnknown, "unknown attribute: "+attrName)
		}
		for _, r := range attr.Restrictions {
			for _, ie := range r.Check(attrName, raw) {
				errList.Add(ie.Err)
			}
		}
	}
	return nil
}

// checkAttrPermissions enforces the per-attribute property gate spec.md
// §4.6 describes for CreateToi ("reject if read-only or computed") and
// ChangeToi ("check write permission per attribute (canWrite)", honoring
// unchangeable/reorder-only). baseline is the current store document for
// op.ID, used only by the ChangeToi reorder-only check; nil for CreateToi.
func (e *Engine) checkAttrPermissions(op Operation, desc *schema.Descriptor, baseline bson.M) error {
	for attrName, raw := range op.Attrs {
		attr, ok := desc.Attributes[attrName]
		if !ok {
			continue
		}
		switch op.Kind {
		case CreateToi:
			if attr.Computed {
				return errs.New(errs.KindAttrPermission, "attribute "+attrName+" is computed and cannot be supplied directly")
			}
			if attr.ReadOnly {
				return errs.New(errs.KindAttrPermission, "attribute "+attrName+" is read-only")
			}
			if attr.Locked {
				return errs.New(errs.KindAttrPermission, "attribute "+attrName+" is not writable (canWrite=false)")
			}
		case ChangeToi:
			if attr.Locked {
				return errs.New(errs.KindAttrPermission, "attribute "+attrName+" is not writable (canWrite=false)")
			}
			if attr.ReadOnly {
				return errs.New(errs.KindAttrPermission, "attribute "+attrName+" is read-only")
			}
			if attr.Unchangeable {
				return errs.New(errs.KindAttrPermission, "attribute "+attrName+" is unchangeable once committed")
			}
			if attr.ReorderOnly && baseline != nil {
				current := decodeStoredSequence(attr, baseline[attrName])
				if !value.EqualAsSet(current, raw) {
					return errs.New(errs.KindAttrPermission, "attribute "+attrName+" only allows reordering, not adding or removing elements")
				}
			}
		}
	}
	return nil
}

// checkDeletePermission enforces DeleteToi's delete-permission check
// (spec.md §4.6) against the deleted instance's allowRead visibility list,
// the closest existing permission primitive to a dedicated delete ACL.
// doc is nil when the instance is already gone, in which case there is
// nothing left to protect.
func (e *Engine) checkDeletePermission(op Operation, doc bson.M, tx *txctx.CommitContext) error {
	if doc == nil || tx.Identity.Superuser {
		return nil
	}
	allowRead := stringsFromDoc(doc[consts.FieldAllowRead])
	if !object.Visible(nil, allowRead, tx.Identity.Privileges) {
		return errs.New(errs.KindAttrPermission, "insufficient privileges to delete instance "+op.ID)
	}
	return nil
}

// runAttrHooks dispatches the per-attribute on_create/on_update hook for
// every attribute op touches that declares one (spec.md §4.6).
func (e *Engine) runAttrHooks(ctx context.Context, op Operation, desc *schema.Descriptor, create bool) error {
	for attrName, raw := range op.Attrs {
		attr, ok := desc.Attributes[attrName]
		if !ok {
			continue
		}
		hook := attr.OnUpdate
		verb := "on_update"
		if create {
			hook, verb = attr.OnCreate, "on_create"
		}
		if hook == nil {
			continue
		}
		if err := hook(ctx, op.ID, raw); err != nil {
			return errs.Wrap(errs.KindInternal, err, attrName+" "+verb+" hook failed")
		}
	}
	return nil
}

// runClassHook dispatches desc's class-level on_create/on_delete hook, if
// any (spec.md §4.6 "run class-level on_create" / "run class on_delete").
func (e *Engine) runClassHook(ctx context.Context, desc *schema.Descriptor, id string, create bool) error {
	if desc.Hooks == nil {
		return nil
	}
	hook := desc.Hooks.OnDelete
	verb := "on_delete"
	if create {
		hook, verb = desc.Hooks.OnCreate, "on_create"
	}
	if hook == nil {
		return nil
	}
	if err := hook(ctx, id); err != nil {
		return errs.Wrap(errs.KindInternal, err, "class "+verb+" hook failed")
	}
	return nil
}

// checkUnique enforces the Unique attribute property (spec.md §3 invariant
// 2, §4.6 "enforce uniqueness ... with both committed and newly-created
// data", scenario S3): no element of a Unique attribute may be shared with
// another non-deleted instance, whether already committed or staged
// elsewhere in this same batch.
func (e *Engine) checkUnique(ctx context.Context, ops []Operation) error {
	type seenKey struct {
		attr string
		val  any
	}
	seenBy := make(map[seenKey]string)
	for _, op := range ops {
		if op.Kind != CreateToi && op.Kind != ChangeToi {
			continue
		}
		desc, ok := e.registry.Descriptor(op.Class)
		if !ok {
			continue
		}
		for attrName, raw := range op.Attrs {
			attr, ok := desc.Attributes[attrName]
			if !ok || !attr.Unique {
				continue
			}
			vals := uniqueScalars(raw)
			if len(vals) == 0 {
				continue
			}
			for _, v := range vals {
				k := seenKey{attrName, v}
				if other, ok := seenBy[k]; ok && other != op.ID {
					return errs.ClientError(errs.NewAttrValueError(attrName, -1, errs.ReasonUnique,
						fmt.Errorf("value already claimed by instance %q in this commit", other)))
				}
				seenBy[k] = op.ID
			}
			if err := e.checkUniqueAgainstStore(ctx, attrName, op.Class, op.ID, vals); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkUniqueAgainstStore queries every class sharing attrName's Unique
// declaration (its whole inheritance lineage, both ancestors and
// descendants) for a non-deleted instance other than id already holding one
// of vals.
func (e *Engine) checkUniqueAgainstStore(ctx context.Context, attrName, class, id string, vals []any) error {
	for _, candidate := range e.uniqueScopeClasses(class) {
		filter := bson.M{attrName: bson.M{"$in": vals}}
		if id != "" {
			filter["_id"] = bson.M{"$ne": id}
		}
		var docs []bson.M
		if err := e.store.Find(ctx, candidate, filter, &docs); err != nil {
			return errs.Internal(err)
		}
		if len(docs) > 0 {
			return errs.ClientError(errs.NewAttrValueError(attrName, -1, errs.ReasonUnique,
				fmt.Errorf("value already claimed by instance %q", docs[0][consts.FieldDocID])))
		}
	}
	return nil
}

// uniqueScopeClasses returns every registered class in the same inheritance
// lineage as class (ancestors and descendants alike), since an inherited
// Unique attribute's scope spans the whole subtree that can declare it.
func (e *Engine) uniqueScopeClasses(class string) []string {
	var out []string
	for _, c := range e.registry.Classes() {
		if e.registry.IsSubclass(c, class) || e.registry.IsSubclass(class, c) {
			out = append(out, c)
		}
	}
	return out
}

// uniqueScalars extracts the raw comparable values of seq usable both as an
// in-batch map key and as a Mongo $in query value. Decimal/Blob/Map elements
// are skipped: the corpus carries no decimal-safe BSON codec (see
// DESIGN.md), and the other kinds aren't meaningfully unique-comparable.
func uniqueScalars(seq value.Sequence) []any {
	out := make([]any, 0, len(seq))
	for _, v := range seq {
		switch t := v.(type) {
		case bool, int64, float64, string:
			out = append(out, t)
		case value.Ref:
			out = append(out, t.ID)
		}
	}
	return out
}

// stageInstances builds the in-memory object.Instance each CreateToi/
// ChangeToi op stages its attribute values onto, and records them on tx.New
// / tx.Changed the way spec.md §4.6's context-stack description has the
// commit context track "new/changed" instances keyed by id.
func (e *Engine) stageInstances(tx *txctx.CommitContext, ops []Operation) {
	for _, op := range ops {
		switch op.Kind {
		case CreateToi:
			inst := object.New(op.Class, op.ID)
			for attr, v := range op.Attrs {
				inst.Stage(attr, v)
			}
			tx.New[op.ID] = inst
		case ChangeToi:
			inst := &object.Instance{ID: op.ID, Class: op.Class, Attrs: make(map[string]value.Sequence)}
			for attr, v := range op.Baseline {
				inst.Attrs[attr] = v
			}
			for attr, v := range op.Attrs {
				inst.Stage(attr, v)
			}
			tx.Changed[op.ID] = inst
		case DeleteToi:
			tx.DeletedIDs[op.ID] = true
		}
	}
}

// commitInstances folds every staged instance's pending values into its
// committed state once the write that makes them durable has succeeded.
func (e *Engine) commitInstances(tx *txctx.CommitContext) {
	for _, inst := range tx.New {
		inst.Commit()
	}
	for _, inst := range tx.Changed {
		inst.Commit()
	}
}

func (e *Engine) affectedIDs(ops []Operation) []string {
	ids := lo.FilterMap(ops, func(op Operation, _ int) (string, bool) {
		return op.ID, op.ID != ""
	})
	return lo.Uniq(ids)
}

// lockTargets returns the id->class map of every instance this commit's
// operations must claim before writing. CreateToi ids are excluded: nothing
// exists yet to claim (spec.md §4.6 step 1/2).
func lockTargets(ops []Operation) map[string]string {
	out := make(map[string]string, len(ops))
	for _, op := range ops {
		if op.ID == "" || op.Kind == CreateToi {
			continue
		}
		out[op.ID] = op.Class
	}
	return out
}

// lockOutcome reports how the lock phase concluded.
type lockOutcome int

const (
	lockOK lockOutcome = iota
	// lockVanished: one or more target ids no longer exist at all — a
	// commit-conflict, not a lock contention (spec.md §4.6 step 2).
	lockVanished
	// lockHeld: one or more target ids are currently claimed by another
	// owner — a tois-locked retry.
	lockHeld
)

// lock claims every id in targets via an atomic findAndModify setting
// _handled_by to owner, only when currently unset or already owned by us
// (spec.md §4.6 step 2). It distinguishes an id that no longer exists
// (lockVanished) from one genuinely held by someone else (lockHeld), since
// the two map to different retry policies.
func (e *Engine) lock(ctx context.Context, targets map[string]string, owner string) (lockOutcome, error) {
	claimed := make(map[string]string, len(targets))
	for id, class := range targets {
		filter := bson.M{
			"_id": id,
			"$or": bson.A{
				bson.M{consts.FieldHandledBy: bson.M{"$exists": false}},
				bson.M{consts.FieldHandledBy: owner},
			},
		}
		update := bson.M{"$set": bson.M{consts.FieldHandledBy: owner}}
		var out bson.M
		err := e.store.FindOneAndUpdate(ctx, class, filter, update, &out)
		if err == nil {
			claimed[id] = class
			continue
		}
		if err != mongo.ErrNoDocuments {
			e.unlock(ctx, claimed, owner)
			return lockOK, err
		}
		var probe bson.M
		perr := e.store.FindOne(ctx, class, bson.M{"_id": id}, &probe)
		e.unlock(ctx, claimed, owner)
		switch {
		case perr == mongo.ErrNoDocuments:
			return lockVanished, nil
		case perr != nil:
			return lockOK, perr
		default:
			return lockHeld, nil
		}
	}
	return lockOK, nil
}

func (e *Engine) unlock(ctx context.Context, targets map[string]string, owner string) {
	for id, class := range targets {
		filter := bson.M{"_id": id, consts.FieldHandledBy: owner}
		update := bson.M{"$unset": bson.M{consts.FieldHandledBy: ""}}
		if err := e.store.UpdateOne(ctx, class, filter, update); err != nil {
			e.log.Warn("commit: failed to release lock", zap.String("id", id), zap.Error(err))
		}
	}
}

// loadCurrentDocs reloads the current store document for every distinct id
// a non-CreateToi operation touches, once per id, so checkConflicts,
// checkAttrPermissions, checkDeletePermission and fixupRelations can share a
// single round trip each instead of re-querying per check.
func (e *Engine) loadCurrentDocs(ctx context.Context, ops []Operation) (map[string]bson.M, error) {
	out := make(map[string]bson.M)
	for _, op := range ops {
		if op.ID == "" || op.Kind == CreateToi {
			continue
		}
		if _, ok := out[op.ID]; ok {
			continue
		}
		var doc bson.M
		if err := e.store.FindOne(ctx, op.Class, bson.M{"_id": op.ID}, &doc); err != nil {
			if err == mongo.ErrNoDocuments {
				out[op.ID] = nil
				continue
			}
			return nil, err
		}
		out[op.ID] = doc
	}
	return out, nil
}

// checkConflicts compares each ChangeToi op's recorded Baseline against the
// current store document loaded in docs, per spec.md §4.6 step 3's
// optimistic-concurrency rule. A ChangeToi whose target has vanished since
// the lock phase, or whose baseline no longer matches, is a conflict.
func (e *Engine) checkConflicts(ops []Operation, docs map[string]bson.M) bool {
	for _, op := range ops {
		if op.Kind != ChangeToi {
			continue
		}
		doc, loaded := docs[op.ID]
		if !loaded || doc == nil {
			return true
		}
		desc, ok := e.registry.Descriptor(op.Class)
		if !ok {
			continue
		}
		for attrName, baseline := range op.Baseline {
			attr, ok := desc.Attributes[attrName]
			if !ok {
				continue
			}
			current := decodeStoredSequence(attr, doc[attrName])
			if !value.Equal(baseline, current) {
				return true
			}
		}
	}
	return false
}

// decodeStoredSequence turns a BSON round-trip document field back into a
// typed Sequence comparable against op.Attrs/op.Baseline, re-running it
// through the attribute's own coercer the same way client input is coerced.
func decodeStoredSequence(attr *schema.Attribute, raw any) value.Sequence {
	items := normalizeSequence(raw)
	if attr.Kind == value.Reference {
		ids := idsFromDoc(raw)
		out := make(value.Sequence, 0, len(ids))
		for _, id := range ids {
			out = append(out, value.Ref{ID: id})
		}
		return out
	}
	seq, _ := value.CoerceList(value.CoercerFor(attr.Kind), attr.Name, items)
	return seq
}

// normalizeSequence turns a BSON round-trip value (bson.A, a bare scalar, or
// nil) into a plain []any, the same idiom query/match.go uses for decoded
// document fields.
func normalizeSequence(raw any) []any {
	switch t := raw.(type) {
	case bson.A:
		return []any(t)
	case []any:
		return t
	case nil:
		return nil
	default:
		return []any{t}
	}
}

// stringsFromDoc extracts a []string from a BSON round-trip array field.
func stringsFromDoc(raw any) []string {
	items := normalizeSequence(raw)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// checkDeferredRestrictions runs the ToType/Qualification restriction
// checks value.Restriction.Check deliberately skips (value/restriction.go),
// now that schema and storage context are available to resolve them
// (spec.md §4.6 "post-validate: toi-type existence, qualification
// subquery").
func (e *Engine) checkDeferredRestrictions(ctx context.Context, ops []Operation, docs map[string]bson.M) error {
	for _, op := range ops {
		if op.Kind != CreateToi && op.Kind != ChangeToi {
			continue
		}
		desc, ok := e.registry.Descriptor(op.Class)
		if !ok {
			continue
		}
		for attrName, raw := range op.Attrs {
			attr, ok := desc.Attributes[attrName]
			if !ok {
				continue
			}
			for _, r := range attr.Restrictions {
				switch r.Kind {
				case value.RestrictToType:
					if err := e.checkToType(ctx, attrName, r, raw); err != nil {
						return err
					}
				case value.RestrictQualification:
					if err := e.checkQualification(attrName, r, raw, op, docs); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// checkToType verifies every Reference element of raw resolves to an
// existing instance whose class is r.RequiredType or a subclass of it.
func (e *Engine) checkToType(ctx context.Context, attrName string, r value.Restriction, raw value.Sequence) error {
	for i, v := range raw {
		ref, ok := v.(value.Ref)
		if !ok {
			continue
		}
		var doc bson.M
		if err := e.store.FindOne(ctx, r.RequiredType, bson.M{"_id": ref.ID}, &doc); err != nil {
			if err == mongo.ErrNoDocuments {
				return errs.ClientError(errs.NewAttrValueError(attrName, i, errs.ReasonToiType,
					fmt.Errorf("referenced instance %q is not a %s", ref.ID, r.RequiredType)))
			}
			return errs.Internal(err)
		}
		class, _ := doc[consts.FieldToc].(string)
		if !e.registry.IsSubclass(class, r.RequiredType) {
			return errs.ClientError(errs.NewAttrValueError(attrName, i, errs.ReasonToiType,
				fmt.Errorf("referenced instance %q is a %s, not a %s", ref.ID, class, r.RequiredType)))
		}
	}
	return nil
}

// checkQualification verifies every Reference element of raw is also
// reachable through op's own r.QualifiedVia attribute — the qualifying
// subquery restricts legal peers to those the instance separately relates
// to via that other attribute (spec.md §4.5 "qualified" relations).
func (e *Engine) checkQualification(attrName string, r value.Restriction, raw value.Sequence, op Operation, docs map[string]bson.M) error {
	qualIDs := idsFromSequence(op.Attrs[r.QualifiedVia])
	if len(qualIDs) == 0 {
		if doc := docs[op.ID]; doc != nil {
			qualIDs = idsFromDoc(doc[r.QualifiedVia])
		}
	}
	qualSet := make(map[string]bool, len(qualIDs))
	for _, id := range qualIDs {
		qualSet[id] = true
	}
	for i, v := range raw {
		ref, ok := v.(value.Ref)
		if !ok {
			continue
		}
		if !qualSet[ref.ID] {
			return errs.ClientError(errs.NewAttrValueError(attrName, i, errs.ReasonQualification,
				fmt.Errorf("referenced instance %q is not reachable through %s", ref.ID, r.QualifiedVia)))
		}
	}
	return nil
}

// relationFixup is one counterpart-side update to apply once a relation
// attribute's peer set changes on the owning side (spec.md §4.5's
// bidirectional back-link contract).
type relationFixup struct {
	Class  string
	ID     string
	Attr   string
	Add    []string
	Remove []string
	Many   bool
}

// fixupRelations computes, for every relation attribute touched by a
// CreateToi/ChangeToi/DeleteToi op, the set of counterpart peers that
// gained or lost a back-link, diffing against the prior committed value in
// docs, so buildWrites can emit the matching updates on the other side of
// each relation. A DeleteToi whose non-weak relation attribute still holds a
// peer that requires the back-link (the counterpart attribute is Required)
// fails with a reference-still-held error instead of silently tearing the
// link down (spec.md §4.6 "verify that every still-referenced peer no
// longer references back").
func (e *Engine) fixupRelations(ctx context.Context, ops []Operation, docs map[string]bson.M) ([]relationFixup, error) {
	var fixups []relationFixup
	for _, op := range ops {
		desc, ok := e.registry.Descriptor(op.Class)
		if !ok {
			continue
		}
		switch op.Kind {
		case CreateToi, ChangeToi:
			for attrName, raw := range op.Attrs {
				attr, ok := desc.Attributes[attrName]
				if !ok || !attr.IsRelation() {
					continue
				}
				oldIDs := idsFromDoc(docs[op.ID][attrName])
				added, removed := diffIDSets(oldIDs, idsFromSequence(raw))
				fixups = append(fixups, e.buildRelationFixups(attr, op.ID, added, removed)...)
			}
		case DeleteToi:
			// A deleted instance loses every back-link it held, regardless
			// of whether this commit's Attrs touched the relation.
			for attrName, attr := range desc.Attributes {
				if !attr.IsRelation() {
					continue
				}
				oldIDs := idsFromDoc(docs[op.ID][attrName])
				if len(oldIDs) == 0 {
					continue
				}
				if !attr.Weak && e.counterpartRequired(attr) {
					return nil, errs.ClientError(errs.NewAttrValueError(attrName, -1, errs.ReasonRelation,
						fmt.Errorf("instance %q still holds a required relation through %s", op.ID, attrName)))
				}
				fixups = append(fixups, e.buildRelationFixups(attr, op.ID, nil, oldIDs)...)
			}
		}
	}
	return fixups, nil
}

// counterpartRequired reports whether attr's relation counterpart has
// Required multiplicity, meaning a peer on the other end cannot simply lose
// the back-link without being left in an invalid state.
func (e *Engine) counterpartRequired(attr *schema.Attribute) bool {
	rel := attr.Relation
	desc, ok := e.registry.Descriptor(rel.RelatedClass)
	if !ok {
		return false
	}
	cp, ok := desc.Attributes[rel.Counterpart]
	if !ok {
		return false
	}
	return cp.Multiplicity == schema.Required
}

// buildRelationFixups turns an added/removed peer-id set into one fixup per
// peer, targeting the relation's counterpart attribute on the related class
// and sized to that attribute's own multiplicity (which may differ from
// attr's).
func (e *Engine) buildRelationFixups(attr *schema.Attribute, ownerID string, added, removed []string) []relationFixup {
	rel := attr.Relation
	many := false
	if desc, ok := e.registry.Descriptor(rel.RelatedClass); ok {
		if cp, ok := desc.Attributes[rel.Counterpart]; ok {
			many = cp.Multiplicity == schema.Many
		}
	}
	out := make([]relationFixup, 0, len(added)+len(removed))
	for _, peer := range added {
		out = append(out, relationFixup{Class: rel.RelatedClass, ID: peer, Attr: rel.Counterpart, Add: []string{ownerID}, Many: many})
	}
	for _, peer := range removed {
		out = append(out, relationFixup{Class: rel.RelatedClass, ID: peer, Attr: rel.Counterpart, Remove: []string{ownerID}, Many: many})
	}
	return out
}

// idsFromSequence extracts reference ids from a staged attribute value.
func idsFromSequence(seq value.Sequence) []string {
	out := make([]string, 0, len(seq))
	for _, v := range seq {
		if ref, ok := v.(value.Ref); ok {
			out = append(out, ref.ID)
		}
	}
	return out
}

// idsFromDoc extracts reference ids from a relation attribute's persisted
// form: an array (or single value) of {id: ...} subdocuments, decoded as
// bson.A/bson.M after a storage round trip.
func idsFromDoc(v any) []string {
	var items []any
	switch t := v.(type) {
	case bson.A:
		items = t
	case []any:
		items = t
	case nil:
		return nil
	default:
		items = []any{t}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var m map[string]any
		switch t := it.(type) {
		case bson.M:
			m = t
		case map[string]any:
			m = t
		default:
			continue
		}
		if id, ok := m["id"].(string); ok {
			out = append(out, id)
		}
	}
	return out
}

func diffIDSets(old, new []string) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, id := range old {
		oldSet[id] = true
	}
	newSet := make(map[string]bool, len(new))
	for _, id := range new {
		newSet[id] = true
	}
	for id := range newSet {
		if !oldSet[id] {
			added = append(added, id)
		}
	}
	for id := range oldSet {
		if !newSet[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// relationWriteModel turns one fixup into the update that applies it: a
// $push/$pull against an array-valued counterpart, or $set/$unset against a
// single-valued one.
func relationWriteModel(f relationFixup) mongo.WriteModel {
	filter := bson.M{"_id": f.ID}
	if f.Many {
		if len(f.Add) > 0 {
			items := make(bson.A, len(f.Add))
			for i, id := range f.Add {
				items[i] = bson.M{"id": id}
			}
			return mongo.NewUpdateOneModel().SetFilter(filter).
				SetUpdate(bson.M{"$push": bson.M{f.Attr: bson.M{"$each": items}}})
		}
		return mongo.NewUpdateOneModel().SetFilter(filter).
			SetUpdate(bson.M{"$pull": bson.M{f.Attr: bson.M{"id": bson.M{"$in": f.Remove}}}})
	}
	if len(f.Add) > 0 {
		return mongo.NewUpdateOneModel().SetFilter(filter).
			SetUpdate(bson.M{"$set": bson.M{f.Attr: bson.M{"id": f.Add[0]}}})
	}
	return mongo.NewUpdateOneModel().SetFilter(filter).
		SetUpdate(bson.M{"$unset": bson.M{f.Attr: ""}})
}

// buildWrites groups each operation's write model, plus every relation
// fixup's counterpart update, under its class's own collection: a commit
// spanning several classes needs one BulkWrite call per collection, since
// mongo.Collection.BulkWrite has no cross-collection form. CallToi/CallBlm
// ops carry no write model of their own; invokeMethod runs them directly and
// their return value is collected into methodVals.
func (e *Engine) buildWrites(ctx context.Context, ops []Operation, fixups []relationFixup) (map[string][]mongo.WriteModel, []any, error) {
	writes := make(map[string][]mongo.WriteModel)
	var methodVals []any
	for _, op := range ops {
		switch op.Kind {
		case CreateToi:
			var bases []string
			if desc, ok := e.registry.Descriptor(op.Class); ok {
				bases = desc.Bases
			}
			env := storage.Envelope{ID: op.ID, Class: op.Class, Bases: bases, Attrs: attrsToBson(op.Attrs)}
			writes[op.Class] = append(writes[op.Class], mongo.NewInsertOneModel().SetDocument(env.ToDoc()))
		case ChangeToi:
			writes[op.Class] = append(writes[op.Class], mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": op.ID}).
				SetUpdate(bson.M{"$set": attrsToBson(op.Attrs)}))
		case DeleteToi:
			writes[op.Class] = append(writes[op.Class], mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": op.ID}))
		case CallToi, CallBlm:
			val, err := e.invokeMethod(ctx, op)
			if err != nil {
				return nil, nil, err
			}
			methodVals = append(methodVals, []any(val))
		}
	}
	for _, f := range fixups {
		writes[f.Class] = append(writes[f.Class], relationWriteModel(f))
	}
	return writes, methodVals, nil
}

// invokeMethod resolves op's target method on its class descriptor and runs
// it: arguments are coerced and padded against the method's declared
// parameters, the implementation is invoked, and a declared return kind is
// re-coerced before handing the result back (spec.md §4.6, CallToi/CallBlm).
func (e *Engine) invokeMethod(ctx context.Context, op Operation) (value.Sequence, error) {
	desc, ok := e.registry.Descriptor(op.Class)
	if !ok {
		return nil, errs.New(errs.KindToiNonexistent, "unknown class: "+op.Class)
	}
	m, ok := desc.Methods[op.Method]
	if !ok {
		return nil, errs.New(errs.KindAttrNameUnknown, "unknown method: "+op.Method)
	}
	wantKind := schema.MethodToi
	if op.Kind == CallBlm {
		wantKind = schema.MethodBlm
	}
	if m.Kind != wantKind {
		return nil, errs.ClientError(fmt.Errorf("method %q is not callable this way", op.Method))
	}
	if m.Impl == nil {
		return nil, errs.New(errs.KindInternal, "method "+op.Method+" has no implementation registered")
	}
	args, err := coerceMethodArgs(m, op.Args)
	if err != nil {
		return nil, err
	}
	ret, err := m.Impl(ctx, op.ID, args)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "method "+op.Method+" invocation failed")
	}
	if m.Return == nil {
		return ret, nil
	}
	raw := make([]any, len(ret))
	copy(raw, ret)
	coerced, indexErrs := value.CoerceList(value.CoercerFor(*m.Return), op.Method, raw)
	if len(indexErrs) > 0 {
		list := &errs.AttrErrorList{}
		for _, ie := range indexErrs {
			list.Add(ie.Err)
		}
		return nil, errs.ClientError(list)
	}
	return coerced, nil
}

// coerceMethodArgs coerces and pads op's raw call arguments against m's
// declared parameter list, one value.Sequence per parameter.
func coerceMethodArgs(m *schema.Method, rawArgs []any) ([]value.Sequence, error) {
	out := make([]value.Sequence, len(m.Params))
	list := &errs.AttrErrorList{}
	for i, p := range m.Params {
		var raw any
		if i < len(rawArgs) {
			raw = rawArgs[i]
		}
		items, ok := raw.([]any)
		if !ok {
			if raw == nil {
				items = nil
			} else {
				items = []any{raw}
			}
		}
		if p.Multiplicity != schema.Many && len(items) > 1 {
			list.Add(errs.NewAttrValueError(p.Name, -1, errs.ReasonQuantityMax, fmt.Errorf("parameter %q takes at most one value", p.Name)))
			continue
		}
		seq, indexErrs := value.CoerceList(value.CoercerFor(p.Kind), p.Name, items)
		for _, ie := range indexErrs {
			list.Add(ie.Err)
		}
		out[i] = seq
	}
	if !list.Empty() {
		return nil, errs.ClientError(list)
	}
	return out, nil
}

func attrsToBson(attrs map[string]value.Sequence) bson.M {
	out := bson.M{}
	for k, v := range attrs {
		arr := make(bson.A, len(v))
		for i, el := range v {
			if ref, ok := el.(value.Ref); ok {
				arr[i] = bson.M{"id": ref.ID}
				continue
			}
			arr[i] = el
		}
		out[k] = arr
	}
	return out
}

func (e *Engine) applyBlobRefDeltas(tx *txctx.CommitContext) {
	// Ref-count bookkeeping itself lives in the blob package; the commit
	// engine only needs to hand the accumulated deltas over once the write
	// that makes them real has succeeded.
	_ = tx.BlobAddRef
	_ = tx.BlobDelRef
}

// emitIndexData extracts text from every Indexed attribute touched by ops,
// buffers it on tx.IndexData, and hands each owner's terms to the text
// indexer (spec.md §4.6 step 5's "index-data buffer"). Best-effort: an
// indexer failure never fails a commit that already wrote successfully.
func (e *Engine) emitIndexData(ctx context.Context, tx *txctx.CommitContext, ops []Operation) {
	if e.Index == nil {
		return
	}
	for _, op := range ops {
		if op.ID == "" {
			continue
		}
		desc, ok := e.registry.Descriptor(op.Class)
		if !ok {
			continue
		}
		var terms []string
		for attrName, raw := range op.Attrs {
			attr, ok := desc.Attributes[attrName]
			if !ok || !attr.Indexed {
				continue
			}
			for _, v := range raw {
				s, ok := v.(string)
				if !ok {
					continue
				}
				terms = append(terms, textindex.Tokenize(s)...)
			}
		}
		if len(terms) == 0 {
			continue
		}
		tx.IndexData[op.ID] = append(tx.IndexData[op.ID], terms...)
		if err := e.Index.Index(ctx, op.ID, terms); err != nil {
			e.log.Warn("commit: text index update failed", zap.String("id", op.ID), zap.Error(err))
		}
	}
}
