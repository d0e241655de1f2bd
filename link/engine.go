package link

import (
	"context"
	"time"

	"github.com/forbearing/tol/commit"
	"github.com/forbearing/tol/consts"
	"github.com/forbearing/tol/diffseq"
	"github.com/forbearing/tol/query"
	"github.com/forbearing/tol/storage"
	"github.com/forbearing/tol/txctx"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Engine runs links to produce and deliver update payloads, and keeps the
// ancient-link sweep on its own schedule (spec.md §4.7).
type Engine struct {
	store   *Store
	adapter *storage.Adapter
	commits *commit.Store
	engine  *commit.Engine
	log     *zap.Logger
	cron    *cron.Cron
}

func New(store *Store, adapter *storage.Adapter, commits *commit.Store, ce *commit.Engine, log *zap.Logger) *Engine {
	return &Engine{store: store, adapter: adapter, commits: commits, engine: ce, log: log, cron: cron.New()}
}

// Start schedules the outdated-link recompute pass every second and the
// hourly ancient-link sweep (spec.md §4.7's 3600s threshold,
// consts.AncientAfter), then starts the cron scheduler. Links re-compute
// lazily (spec.md §4.6 "links re-compute lazily on their next run"), so the
// recompute pass just needs to run frequently, not immediately on notify.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.cron.AddFunc("@every 1s", func() { e.runOutdated(ctx) }); err != nil {
		return err
	}
	if _, err := e.cron.AddFunc("@hourly", func() { e.sweepAncient(ctx) }); err != nil {
		return err
	}
	e.cron.Start()
	return nil
}

func (e *Engine) Stop() { e.cron.Stop() }

func (e *Engine) runOutdated(ctx context.Context) {
	links, err := e.store.Outdated(ctx)
	if err != nil {
		e.log.Warn("link: outdated query failed", zap.Error(err))
		return
	}
	for i := range links {
		if _, err := e.Run(ctx, &links[i]); err != nil {
			e.log.Warn("link: run failed", zap.String("link", links[i].ID), zap.Error(err))
		}
	}
}

func (e *Engine) sweepAncient(ctx context.Context) {
	links, err := e.store.Ancient(ctx, time.Now().Add(-consts.AncientAfter))
	if err != nil {
		e.log.Warn("link: ancient sweep query failed", zap.Error(err))
		return
	}
	for _, l := range links {
		if err := e.store.MarkAncient(ctx, l.ID); err != nil {
			e.log.Warn("link: failed to mark ancient", zap.String("link", l.ID), zap.Error(err))
		}
	}
}

// MarkOutdated wires as commit.Engine.OnAffected (spec.md §4.6's change-
// notification step): every open link gets outdatedBy set, with the
// affected ids appended to outdatedToids for SortedQuery's local-recompute
// optimisation to consume. It runs every active link's notification as a
// background task since OnAffected is called synchronously from within a
// commit attempt and must not block it.
func (e *Engine) MarkOutdated(ids []string) {
	go func() {
		ctx := context.Background()
		if err := e.store.markOutdated(ctx, bson.M{}, "commit", ids); err != nil {
			e.log.Warn("link: failed to mark outdated", zap.Error(err))
		}
	}()
}

// Run dispatches to the per-kind handler, persists the link's post-run
// state, and delivers the resulting payload to the client.
func (e *Engine) Run(ctx context.Context, l *Link) (UpdatePayload, error) {
	var (
		payload UpdatePayload
		err     error
		first   = l.State == nil
	)
	switch l.Kind {
	case CallMethod:
		payload, err = e.runCallMethod(ctx, l)
	case Request:
		payload, err = e.runRequest(ctx, l)
	case Query:
		payload, err = e.runQuery(ctx, l)
	case SortedQuery:
		payload, err = e.runSortedQuery(ctx, l)
	}
	if err != nil {
		return payload, err
	}

	l.Timestamp = time.Now()
	if err := e.store.save(ctx, l); err != nil {
		return payload, err
	}
	if l.Kind == Request && !first && len(payload.Diff) == 0 {
		return payload, nil
	}
	return payload, e.store.Deliver(ctx, l.ClientID, l.ID, payload)
}

// runCallMethod runs the method call synchronously as a one-operation commit
// through the commit engine and returns {result, error}; it does not wait on
// a commit record. It then deletes any commit record stored under the
// result's commit id, since a CallMethod link is one-shot (spec.md §4.7).
func (e *Engine) runCallMethod(ctx context.Context, l *Link) (UpdatePayload, error) {
	class, _ := l.Params["class"].(string)
	id, _ := l.Params["id"].(string)
	method, _ := l.Params["method"].(string)
	kind := commit.CallBlm
	if id != "" {
		kind = commit.CallToi
	}

	tx := txctx.NewCommit(txctx.New(txctx.Identity{}, 0, 0))
	result := e.engine.Run(ctx, tx, []commit.Operation{{Kind: kind, Class: class, ID: id, Method: method}})
	if result.Err != nil {
		return UpdatePayload{Error: result.Err.Error()}, nil
	}

	var val any
	if len(result.MethodVals) > 0 {
		val = result.MethodVals[0]
	}
	if result.CommitID != "" {
		_ = e.commits.Delete(ctx, result.CommitID)
	}
	return UpdatePayload{Result: val}, nil
}

// runRequest reads one instance's projection and diffs it against the
// link's cached state, emitting only when the diff is non-empty after the
// first run (spec.md §4.7 "Request link").
func (e *Engine) runRequest(ctx context.Context, l *Link) (UpdatePayload, error) {
	id, _ := l.Params["id"].(string)
	var doc bson.M
	if err := e.adapter.FindOne(ctx, collectionFor(l), bson.M{"_id": id}, &doc); err != nil {
		return UpdatePayload{}, err
	}

	diff := diffAttrs(l.State, doc)
	first := l.State == nil
	l.State = doc
	if !first && len(diff) == 0 {
		return UpdatePayload{}, nil
	}
	return UpdatePayload{Diff: diff}, nil
}

// runQuery runs the query in full and reports the add/del set against the
// link's cached id→class membership (spec.md §4.7 "Query link").
func (e *Engine) runQuery(ctx context.Context, l *Link) (UpdatePayload, error) {
	filter, _ := decodeParam[bson.M](l.Params, "filter")
	var docs []bson.M
	if err := e.adapter.Find(ctx, collectionFor(l), filter, &docs); err != nil {
		return UpdatePayload{}, err
	}

	current := make(map[string]string, len(docs))
	for _, d := range docs {
		current[idOf(d)] = l.Class
	}
	prev := idSetFromState(l.State)

	add := map[string]string{}
	del := map[string]string{}
	for id, class := range current {
		if _, ok := prev[id]; !ok {
			add[id] = class
		}
	}
	for id := range prev {
		if _, ok := current[id]; !ok {
			del[id] = l.Class
		}
	}

	l.State = bson.M{"ids": keysOf(current)}
	return UpdatePayload{Add: add, Del: del}, nil
}

// runSortedQuery runs the sorted-query link, using the local-recompute
// optimisation when the link has prior state and only specific ids were
// marked outdated (spec.md §4.7 "Sorted-query optimisation"); otherwise it
// falls back to a full query.
func (e *Engine) runSortedQuery(ctx context.Context, l *Link) (UpdatePayload, error) {
	cond, _ := decodeParam[query.Cond](l.Params, "cond")
	sortKey, _ := l.Params["sort_key"].(string)

	prevOrder := sortedOrderFromState(l.State)
	toiDiffs := map[string]map[string]any{}

	var newOrder []string
	if prevOrder != nil && len(l.OutdatedToids) > 0 && !l.Ancient {
		newOrder, toiDiffs = e.recomputeLocal(ctx, l, cond, sortKey, prevOrder)
	} else {
		newOrder, toiDiffs = e.recomputeFull(ctx, l, cond, sortKey)
	}

	ops := diffseq.Diff(prevOrder, newOrder)
	wireOps := make([]DiffOp, len(ops))
	for i, op := range ops {
		wireOps[i] = DiffOp{Start: op.Start, End: op.End, Replacement: op.Replacement}
	}

	l.State = bson.M{"order": newOrder}
	return UpdatePayload{DiffOps: wireOps, ToiDiffs: toiDiffs}, nil
}

// recomputeLocal re-evaluates only the ids in l.OutdatedToids against the
// in-process query.Matches, instead of a full collection scan.
func (e *Engine) recomputeLocal(ctx context.Context, l *Link, cond query.Cond, sortKey string, prevOrder []string) ([]string, map[string]map[string]any) {
	order := append([]string(nil), prevOrder...)
	present := make(map[string]bool, len(order))
	for _, id := range order {
		present[id] = true
	}
	toiDiffs := map[string]map[string]any{}

	var docs []bson.M
	filter := bson.M{"_id": bson.M{"$in": l.OutdatedToids}}
	if err := e.adapter.Find(ctx, collectionFor(l), filter, &docs); err != nil {
		e.log.Warn("link: local recompute find failed", zap.Error(err))
		return order, toiDiffs
	}
	found := make(map[string]bson.M, len(docs))
	for _, d := range docs {
		found[idOf(d)] = d
	}

	for _, id := range l.OutdatedToids {
		doc, ok := found[id]
		matches := ok && query.Matches(cond, fieldGetter(doc))
		switch {
		case matches && !present[id]:
			order = append(order, id)
			present[id] = true
			toiDiffs[id] = doc
		case !matches && present[id]:
			order = removeID(order, id)
			delete(present, id)
		case matches:
			toiDiffs[id] = doc
		}
	}
	sortIDs(order, sortKey, found)
	return order, toiDiffs
}

// recomputeFull runs a full scan through the same compiled filter storage
// uses for ordinary reads (spec.md §4.7 "otherwise a full query runs").
func (e *Engine) recomputeFull(ctx context.Context, l *Link, cond query.Cond, sortKey string) ([]string, map[string]map[string]any) {
	var docs []bson.M
	if err := e.adapter.Find(ctx, collectionFor(l), query.Compile(cond), &docs); err != nil {
		e.log.Warn("link: full recompute find failed", zap.Error(err))
		return nil, nil
	}
	order := make([]string, 0, len(docs))
	toiDiffs := map[string]map[string]any{}
	byID := make(map[string]bson.M, len(docs))
	for _, d := range docs {
		id := idOf(d)
		order = append(order, id)
		byID[id] = d
		toiDiffs[id] = d
	}
	sortIDs(order, sortKey, byID)
	return order, toiDiffs
}
