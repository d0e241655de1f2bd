package link

import (
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// decodeParam recovers a typed value from a Link.Params entry that may
// either still be its original Go type (a link just built in-process) or a
// bson.D/bson.M produced by decoding the Link document back out of storage
// (spec.md §6's links collection round-trips every field through BSON, and
// the driver has no way to know Params["cond"] was a query.Cond). Re-marshal
// and unmarshal into T either way; it's a no-op cost for the in-process
// case and the only way to recover the concrete type after a DB round trip.
func decodeParam[T any](params bson.M, key string) (T, bool) {
	var zero T
	raw, ok := params[key]
	if !ok {
		return zero, false
	}
	data, err := bson.Marshal(bson.M{"v": raw})
	if err != nil {
		return zero, false
	}
	var wrap struct {
		V T `bson:"v"`
	}
	if err := bson.Unmarshal(data, &wrap); err != nil {
		return zero, false
	}
	return wrap.V, true
}

func collectionFor(l *Link) string {
	if c, _ := l.Params["collection"].(string); c != "" {
		return c
	}
	return l.Class
}

func idOf(doc bson.M) string {
	id, _ := doc["_id"].(string)
	return id
}

// diffAttrs returns the attributes present in cur whose value differs from
// prev (or is new), the projection-level equivalent of object.Changed used
// against plain documents rather than typed instances.
func diffAttrs(prev, cur bson.M) map[string]any {
	out := map[string]any{}
	for k, v := range cur {
		if k == "_id" {
			continue
		}
		if old, ok := prev[k]; !ok || !bsonEqual(old, v) {
			out[k] = v
		}
	}
	return out
}

func bsonEqual(a, b any) bool {
	ab, _ := bson.Marshal(bson.M{"v": a})
	bb, _ := bson.Marshal(bson.M{"v": b})
	return string(ab) == string(bb)
}

func idSetFromState(state bson.M) map[string]struct{} {
	out := map[string]struct{}{}
	if state == nil {
		return out
	}
	ids, _ := state["ids"].([]string)
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedOrderFromState(state bson.M) []string {
	if state == nil {
		return nil
	}
	order, _ := state["order"].([]string)
	return order
}

func fieldGetter(doc bson.M) func(attr string) any {
	return func(attr string) any { return doc[attr] }
}

func removeID(order []string, id string) []string {
	out := order[:0:0]
	for _, x := range order {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func sortIDs(order []string, sortKey string, docs map[string]bson.M) {
	sort.SliceStable(order, func(i, j int) bool {
		vi := docs[order[i]][sortKey]
		vj := docs[order[j]][sortKey]
		return lessAny(vi, vj)
	})
}

func lessAny(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	case int:
		bv, ok := b.(int)
		return ok && av < bv
	case int64:
		bv, ok := b.(int64)
		return ok && av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	default:
		return false
	}
}
