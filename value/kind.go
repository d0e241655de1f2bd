// Package value implements the typed attribute value model from spec.md
// §4.1: a closed set of element kinds, each with coercion rules, plus the
// restriction types that validate coerced sequences. Maps carry a distinct
// case wrapping any of the other kinds, per "map variants of each".
package value

import (
	"fmt"
	"math/big"
	"time"
)

// Kind is the closed set of attribute value kinds.
type Kind int

const (
	Bool Kind = iota
	Int
	Float
	Decimal
	Timespan
	Timestamp
	String
	LimitedString
	Enum
	Blob
	Reference
	Map
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case Decimal:
		return "decimal"
	case Timespan:
		return "timespan"
	case Timestamp:
		return "timestamp"
	case String:
		return "string"
	case LimitedString:
		return "limited-string"
	case Enum:
		return "enum"
	case Blob:
		return "blob"
	case Reference:
		return "reference"
	case Map:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Ref is an element of kind Reference: a toi-reference, stored on the wire
// as {id: <opaque-id>} so the ".id" dotted path addresses it in predicates
// (spec.md §6).
type Ref struct {
	ID string `bson:"id" json:"id"`
}

// BlobRef is an element of kind Blob. Inline holds the payload when it is
// below the externalisation threshold; External holds the blob store's
// payload identifier once externalised. Equality of two externalised blobs
// is by payload identifier; of two inline blobs, by byte content; mixed
// comparison is always inequal (spec.md §4.8).
type BlobRef struct {
	Inline   []byte
	External string
}

func (b BlobRef) Equal(o BlobRef) bool {
	switch {
	case b.External != "" && o.External != "":
		return b.External == o.External
	case b.External == "" && o.External == "":
		return string(b.Inline) == string(o.Inline)
	default:
		return false
	}
}

// Decimal is a fixed-precision decimal, quantised on coercion. Grounded on
// math/big.Rat rather than an ecosystem decimal library: no decimal package
// appears anywhere in the retrieved corpus (see DESIGN.md).
type Decimal struct {
	rat *big.Rat
}

// Scale is the fixed number of decimal digits Decimal quantises to.
const Scale = 6

var scaleFactor = func() *big.Int {
	f := big.NewInt(1)
	ten := big.NewInt(10)
	for range Scale {
		f.Mul(f, ten)
	}
	return f
}()

// NewDecimal quantises f to Scale decimal digits.
func NewDecimal(f float64) Decimal {
	r := new(big.Rat).SetFloat64(f)
	if r == nil {
		return Decimal{rat: new(big.Rat)}
	}
	return quantise(r)
}

func quantise(r *big.Rat) Decimal {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(scaleFactor))
	num := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	result := new(big.Rat).SetFrac(num, scaleFactor)
	return Decimal{rat: result}
}

func (d Decimal) Float64() float64 {
	if d.rat == nil {
		return 0
	}
	f, _ := d.rat.Float64()
	return f
}

func (d Decimal) String() string {
	if d.rat == nil {
		return "0"
	}
	return d.rat.FloatString(Scale)
}

func (d Decimal) Equal(o Decimal) bool {
	if d.rat == nil || o.rat == nil {
		return d.Float64() == o.Float64()
	}
	return d.rat.Cmp(o.rat) == 0
}

func (d Decimal) Cmp(o Decimal) int {
	if d.rat == nil {
		d.rat = new(big.Rat)
	}
	if o.rat == nil {
		o.rat = new(big.Rat)
	}
	return d.rat.Cmp(o.rat)
}

// MapEntry is an element of kind Map: a (string key, inner-kind value) pair,
// per spec.md §4.1 "map kinds require (key:string, value) pairs with string
// keys".
type MapEntry struct {
	Key   string
	Value any
}

// Sequence is the always-ordered value of an attribute: single values are
// simply the length-1 case.
type Sequence []any

// Equal reports whether a and b hold equal elements in the same order,
// comparing Decimal/BlobRef/Ref by value and everything else by ==. Used by
// the commit engine's optimistic-concurrency baseline comparison.
func Equal(a, b Sequence) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !elementEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// EqualAsSet reports whether a and b hold the same multiset of elements
// regardless of order, for the reorder-only attribute-permission check
// (spec.md §4.2 "reorder-only forbids element addition/removal post-create,
// only reordering").
func EqualAsSet(a, b Sequence) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, av := range a {
		found := false
		for j, bv := range b {
			if used[j] {
				continue
			}
			if elementEqual(av, bv) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func elementEqual(a, b any) bool {
	switch av := a.(type) {
	case Decimal:
		bv, ok := b.(Decimal)
		return ok && av.Equal(bv)
	case BlobRef:
		bv, ok := b.(BlobRef)
		return ok && av.Equal(bv)
	case Ref:
		bv, ok := b.(Ref)
		return ok && av.ID == bv.ID
	default:
		return a == b
	}
}
