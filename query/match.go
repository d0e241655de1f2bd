package query

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Matches evaluates c in-process against a single document's attribute
// values, using the exact same operator semantics Compile translates to a
// storage predicate — the sorted-query link's local recompute optimisation
// runs this instead of round-tripping through storage for ids it already
// holds cached projections for.
func Matches(c Cond, get func(attr string) any) bool {
	switch {
	case c.And != nil:
		for _, sub := range c.And {
			if !Matches(sub, get) {
				return false
			}
		}
		return true
	case c.Or != nil:
		for _, sub := range c.Or {
			if Matches(sub, get) {
				return true
			}
		}
		return false
	case c.Not != nil:
		return !Matches(*c.Not, get)
	default:
		return matchLeaf(c, get)
	}
}

func matchLeaf(c Cond, get func(attr string) any) bool {
	switch c.Op {
	case Eq:
		return compareEqual(get(c.Attr), c.Value)
	case Ne:
		return !compareEqual(get(c.Attr), c.Value)
	case In:
		return containsAny(c.Value, get(c.Attr))
	case NotIn:
		return !containsAny(c.Value, get(c.Attr))
	case Lt:
		return compareOrdered(get(c.Attr), c.Value) < 0
	case Lte:
		return compareOrdered(get(c.Attr), c.Value) <= 0
	case Gt:
		return compareOrdered(get(c.Attr), c.Value) > 0
	case Gte:
		return compareOrdered(get(c.Attr), c.Value) >= 0
	case Between:
		v := get(c.Attr)
		return compareOrdered(v, c.Lo) >= 0 && compareOrdered(v, c.Hi) <= 0
	case Empty:
		return isEmpty(get(c.Attr))
	case NotEmpty:
		return !isEmpty(get(c.Attr))
	case Like:
		s, _ := get(c.Attr).(string)
		ok, _ := regexp.MatchString(GlobToRegexp(c.Value.(string)), s)
		return ok
	case Ilike:
		s, _ := get(c.Attr).(string)
		ok, _ := regexp.MatchString("(?i)"+GlobToRegexp(c.Value.(string)), s)
		return ok
	case HasKey:
		_, ok := asMap(get(c.Attr))[c.Value.(string)]
		return ok
	case LacksKey:
		_, ok := asMap(get(c.Attr))[c.Value.(string)]
		return !ok
	case Fulltext:
		// No default full-text matcher; see textindex package.
		return false
	case Readable:
		return readable(get(c.Attr), stringsFromAny(c.Value))
	default:
		return false
	}
}

// stringsFromAny recovers a []string from a query.Cond.Value that may still
// be its original Go type or a bson.A of individual strings produced by a
// Link.Params BSON round trip (the same class of decode issue decodeParam
// solves for the Params map itself).
func stringsFromAny(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case bson.A:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// readable reports whether allowRead (a document's allowRead field value, nil
// or empty meaning visible to everyone) intersects privileges, the in-process
// equivalent of the allowRead ∩ privileges filter WithVisibility compiles.
func readable(allowRead any, privileges []string) bool {
	var vs []any
	switch a := allowRead.(type) {
	case nil:
		return true
	case []any:
		vs = a
	case bson.A:
		vs = a
	case []string:
		if len(a) == 0 {
			return true
		}
		for _, s := range a {
			vs = append(vs, s)
		}
	default:
		return true
	}
	if len(vs) == 0 {
		return true
	}
	for _, v := range vs {
		for _, p := range privileges {
			if compareEqual(v, p) {
				return true
			}
		}
	}
	return false
}

func compareEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func containsAny(haystack, needle any) bool {
	// An array-valued needle (a multi-valued attribute) matches when any of
	// its elements is in haystack, as MongoDB's $in does.
	var ns []any
	switch n := needle.(type) {
	case []any:
		ns = n
	case bson.A:
		ns = n
	}
	if ns != nil {
		for _, el := range ns {
			if containsAny(haystack, el) {
				return true
			}
		}
		return false
	}

	var vs []any
	switch h := haystack.(type) {
	case []any:
		vs = h
	case bson.A:
		vs = h
	default:
		return compareEqual(haystack, needle)
	}
	for _, v := range vs {
		if compareEqual(v, needle) {
			return true
		}
	}
	return false
}

// compareOrdered compares a against b numerically when both are numbers,
// falling back to string comparison otherwise so Lt/Gt degrade gracefully on types that
// don't carry a natural numeric ordering.
func compareOrdered(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// asMap accepts either bson.M (the shape MongoDB decodes subdocuments
// into) or a plain map[string]any (the shape in-process callers build
// before a value ever round-trips through storage).
func asMap(v any) map[string]any {
	switch m := v.(type) {
	case bson.M:
		return m
	case map[string]any:
		return m
	default:
		return nil
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case bson.A:
		return len(t) == 0
	default:
		return false
	}
}
