// Package query implements the condition-tree model and its translation to
// MongoDB predicates from spec.md §4.3 and SPEC_FULL.md's expanded query
// model: a small typed AST of operators over attribute paths, compiled to
// bson.M/bson.D rather than interpreted ad hoc, so the ancestor-closure and
// visibility injections in Compile happen exactly once per query.
package query

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Op is the closed operator vocabulary from spec.md §4.3's operator-class
// table.
type Op int

const (
	Eq Op = iota
	Ne
	In
	NotIn
	Lt
	Lte
	Gt
	Gte
	Between
	Empty
	NotEmpty
	Like   // glob pattern, case-sensitive
	Ilike  // glob pattern, case-insensitive
	HasKey
	LacksKey
	Fulltext
	Readable // internal: allowRead visibility injection
)

// Cond is one leaf or boolean-combinator node in a condition tree.
type Cond struct {
	Op    Op
	Attr  string
	Value any
	Lo, Hi any // Between bounds

	And []Cond
	Or  []Cond
	Not *Cond
}

// And combines conditions with boolean and.
func And(conds ...Cond) Cond { return Cond{And: conds} }

// Or combines conditions with boolean or.
func Or(conds ...Cond) Cond { return Cond{Or: conds} }

// Not negates a condition.
func Not(c Cond) Cond { return Cond{Not: &c} }

func leaf(op Op, attr string, val any) Cond { return Cond{Op: op, Attr: attr, Value: val} }

func EqCond(attr string, v any) Cond       { return leaf(Eq, attr, v) }
func NeCond(attr string, v any) Cond       { return leaf(Ne, attr, v) }
func InCond(attr string, vs []any) Cond    { return leaf(In, attr, vs) }
func NotInCond(attr string, vs []any) Cond { return leaf(NotIn, attr, vs) }
func LtCond(attr string, v any) Cond       { return leaf(Lt, attr, v) }
func LteCond(attr string, v any) Cond      { return leaf(Lte, attr, v) }
func GtCond(attr string, v any) Cond       { return leaf(Gt, attr, v) }
func GteCond(attr string, v any) Cond      { return leaf(Gte, attr, v) }
func BetweenCond(attr string, lo, hi any) Cond {
	return Cond{Op: Between, Attr: attr, Lo: lo, Hi: hi}
}
func EmptyCond(attr string) Cond    { return leaf(Empty, attr, nil) }
func NotEmptyCond(attr string) Cond { return leaf(NotEmpty, attr, nil) }
func LikeCond(attr, pattern string) Cond  { return leaf(Like, attr, pattern) }
func IlikeCond(attr, pattern string) Cond { return leaf(Ilike, attr, pattern) }
func HasKeyCond(attr, key string) Cond    { return leaf(HasKey, attr, key) }
func LacksKeyCond(attr, key string) Cond  { return leaf(LacksKey, attr, key) }
func FulltextCond(text string) Cond       { return leaf(Fulltext, "", text) }

// ReadableCond injects the allowRead ∩ privileges visibility check as an
// ordinary condition leaf (spec.md §4.3), so a SortedQuery link's cond can
// carry the same rule WithVisibility applies to an ordinary document-store
// filter, and query.Matches can apply it during local recompute.
func ReadableCond(privileges []string) Cond { return leaf(Readable, "allowRead", privileges) }

// Compile translates a condition tree into a bson.M filter document
// (spec.md §6's translation rules):
//
//	In([x])             -> $in   (the default, un-negated operator)
//	Between(lo,hi)       -> $gte + $lte on the same field
//	Like/Ilike           -> $regex, Ilike adds case-insensitive option
//	HasKey/LacksKey      -> $exists on "attr.key"
//	Fulltext             -> unsatisfiable filter (no-op: see textindex package)
func Compile(c Cond) bson.M {
	switch {
	case c.And != nil:
		parts := make(bson.A, 0, len(c.And))
		for _, sub := range c.And {
			parts = append(parts, Compile(sub))
		}
		return bson.M{"$and": parts}
	case c.Or != nil:
		parts := make(bson.A, 0, len(c.Or))
		for _, sub := range c.Or {
			parts = append(parts, Compile(sub))
		}
		return bson.M{"$or": parts}
	case c.Not != nil:
		return bson.M{"$nor": bson.A{Compile(*c.Not)}}
	default:
		return compileLeaf(c)
	}
}

func compileLeaf(c Cond) bson.M {
	switch c.Op {
	case Eq:
		return bson.M{c.Attr: c.Value}
	case Ne:
		return bson.M{c.Attr: bson.M{"$ne": c.Value}}
	case In:
		return bson.M{c.Attr: bson.M{"$in": c.Value}}
	case NotIn:
		return bson.M{c.Attr: bson.M{"$nin": c.Value}}
	case Lt:
		return bson.M{c.Attr: bson.M{"$lt": c.Value}}
	case Lte:
		return bson.M{c.Attr: bson.M{"$lte": c.Value}}
	case Gt:
		return bson.M{c.Attr: bson.M{"$gt": c.Value}}
	case Gte:
		return bson.M{c.Attr: bson.M{"$gte": c.Value}}
	case Between:
		return bson.M{c.Attr: bson.M{"$gte": c.Lo, "$lte": c.Hi}}
	case Empty:
		return bson.M{"$or": bson.A{
			bson.M{c.Attr: bson.M{"$exists": false}},
			bson.M{c.Attr: bson.M{"$size": 0}},
		}}
	case NotEmpty:
		return bson.M{c.Attr: bson.M{"$exists": true, "$not": bson.M{"$size": 0}}}
	case Like:
		return bson.M{c.Attr: bson.M{"$regex": GlobToRegexp(c.Value.(string))}}
	case Ilike:
		return bson.M{c.Attr: bson.M{"$regex": GlobToRegexp(c.Value.(string)), "$options": "i"}}
	case HasKey:
		return bson.M{c.Attr + "." + c.Value.(string): bson.M{"$exists": true}}
	case LacksKey:
		return bson.M{c.Attr + "." + c.Value.(string): bson.M{"$exists": false}}
	case Fulltext:
		// Deliberately unsatisfiable: the textindex package's default
		// Noop indexer never populates the backing text index, so a
		// Fulltext condition must match nothing rather than (as an empty
		// bson.M filter would) everything.
		return bson.M{"_id": bson.M{"$in": bson.A{}}}
	case Readable:
		privileges, _ := c.Value.([]string)
		return bson.M{"$or": bson.A{
			bson.M{c.Attr: bson.M{"$exists": false}},
			bson.M{c.Attr: bson.M{"$size": 0}},
			bson.M{c.Attr: bson.M{"$in": privileges}},
		}}
	default:
		return bson.M{}
	}
}

// GlobToRegexp compiles a shell-style glob (only leading/trailing "*" are
// meaningful, matching spec.md's Like/Ilike semantics) into an anchored
// regular expression string.
func GlobToRegexp(glob string) string {
	leading := strings.HasPrefix(glob, "*")
	trailing := strings.HasSuffix(glob, "*")
	body := strings.TrimSuffix(strings.TrimPrefix(glob, "*"), "*")
	body = regexp.QuoteMeta(body)
	switch {
	case leading && trailing:
		return body
	case leading:
		return body + "$"
	case trailing:
		return "^" + body
	default:
		return "^" + body + "$"
	}
}
