package value

import (
	"regexp"

	"github.com/forbearing/tol/errs"
)

// RestrictionKind tags which of the fixed restriction shapes a Restriction
// value carries (spec.md §4.2).
type RestrictionKind int

const (
	RestrictRange RestrictionKind = iota
	RestrictRegexp
	RestrictResolution
	RestrictSize
	RestrictSelection
	RestrictToType
	RestrictQualification
	RestrictDistinct
	RestrictQuantity
)

// Restriction is one constraint attached to an attribute descriptor. Only
// one field matching Kind is populated; the rest are zero.
//
// Range, Regexp, Resolution, Size, Selection and Distinct are pure-value
// restrictions, validated with nothing but the coerced sequence itself:
// Check below handles the per-element ones, and Distinct, a whole-sequence
// property, is checked by CheckDistinct instead. ToType and Qualification are descriptor-only here — they
// name a required toi type or counterpart class, but verifying a reference's
// actual runtime class needs the schema registry and a storage lookup, so
// their real check happens in the commit engine, not here (see DESIGN.md).
type Restriction struct {
	Kind RestrictionKind

	// Range: numeric bound (int, float or decimal values), at least one end
	// open. Values with no numeric form, timestamps included, fail it.
	Min, Max *float64

	// Regexp: a compiled pattern an attribute's string form must match.
	Pattern *regexp.Regexp

	// Resolution: a timestamp's truncation granularity, e.g. time.Minute.
	ResolutionNanos int64

	// Size: inclusive byte-length bound for Blob/String elements.
	MinSize, MaxSize *int

	// Selection: the closed set of legal values (Enum or otherwise
	// enumerable kinds).
	Choices []string

	// ToType: the toi type name a Reference element must resolve to.
	RequiredType string

	// Qualification: the relation attribute name a Reference element must
	// also be reachable through (spec.md §4.5 "qualified" relations).
	QualifiedVia string

	// Quantity: whole-sequence element-count bound.
	MinCount, MaxCount *int
}

// Check validates seq against the pure-value restrictions only. ToType and
// Qualification restrictions are skipped (return no errors) since they
// cannot be resolved without schema/storage context; callers must run a
// separate relation check for those during commit.
func (r Restriction) Check(attr string, seq Sequence) []IndexError {
	switch r.Kind {
	case RestrictQuantity:
		return r.checkQuantity(attr, seq)
	case RestrictToType, RestrictQualification:
		return nil
	default:
		var out []IndexError
		for i, el := range seq {
			if err := r.checkElement(attr, i, el); err != nil {
				out = append(out, IndexError{Index: i, Err: err})
			}
		}
		return out
	}
}

func (r Restriction) checkQuantity(attr string, seq Sequence) []IndexError {
	n := len(seq)
	if r.MinCount != nil && n < *r.MinCount {
		return []IndexError{{Index: -1, Err: fail(attr, -1, errs.ReasonQuantityMin, "too few elements")}}
	}
	if r.MaxCount != nil && n > *r.MaxCount {
		return []IndexError{{Index: -1, Err: fail(attr, -1, errs.ReasonQuantityMax, "too many elements")}}
	}
	return nil
}

func (r Restriction) checkElement(attr string, index int, el any) *errs.AttrValueError {
	switch r.Kind {
	case RestrictRange:
		return r.checkRange(attr, index, el)
	case RestrictRegexp:
		return r.checkRegexp(attr, index, el)
	case RestrictResolution:
		return r.checkResolution(attr, index, el)
	case RestrictSize:
		return r.checkSize(attr, index, el)
	case RestrictSelection:
		return r.checkSelection(attr, index, el)
	case RestrictDistinct:
		return nil // whole-sequence property, checked separately via CheckDistinct
	default:
		return nil
	}
}

func asFloat(el any) (float64, bool) {
	switch v := el.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case Decimal:
		return v.Float64(), true
	default:
		return 0, false
	}
}

func (r Restriction) checkRange(attr string, index int, el any) *errs.AttrValueError {
	f, ok := asFloat(el)
	if !ok {
		return fail(attr, index, errs.ReasonRange, "value has no numeric ordering")
	}
	if r.Min != nil && f < *r.Min {
		return fail(attr, index, errs.ReasonRange, "below minimum")
	}
	if r.Max != nil && f > *r.Max {
		return fail(attr, index, errs.ReasonRange, "above maximum")
	}
	return nil
}

func (r Restriction) checkRegexp(attr string, index int, el any) *errs.AttrValueError {
	s, ok := el.(string)
	if !ok {
		return fail(attr, index, errs.ReasonRegexp, "value is not a string")
	}
	if r.Pattern != nil && !r.Pattern.MatchString(s) {
		return fail(attr, index, errs.ReasonRegexp, "does not match pattern")
	}
	return nil
}

func (r Restriction) checkResolution(attr string, index int, el any) *errs.AttrValueError {
	t, ok := el.(interface{ UnixNano() int64 })
	if !ok {
		return fail(attr, index, errs.ReasonResolution, "value is not a timestamp")
	}
	if r.ResolutionNanos <= 0 {
		return nil
	}
	if t.UnixNano()%r.ResolutionNanos != 0 {
		return fail(attr, index, errs.ReasonResolution, "timestamp finer than declared resolution")
	}
	return nil
}

func (r Restriction) checkSize(attr string, index int, el any) *errs.AttrValueError {
	var n int
	switch v := el.(type) {
	case string:
		n = len(v)
	case BlobRef:
		if v.External != "" {
			return nil // size of an already-externalised blob isn't checked here
		}
		n = len(v.Inline)
	default:
		return fail(attr, index, errs.ReasonSize, "value has no size")
	}
	if r.MinSize != nil && n < *r.MinSize {
		return fail(attr, index, errs.ReasonSize, "below minimum size")
	}
	if r.MaxSize != nil && n > *r.MaxSize {
		return fail(attr, index, errs.ReasonSize, "above maximum size")
	}
	return nil
}

func (r Restriction) checkSelection(attr string, index int, el any) *errs.AttrValueError {
	s, ok := el.(string)
	if !ok {
		return fail(attr, index, errs.ReasonSelection, "value is not selectable")
	}
	for _, c := range r.Choices {
		if c == s {
			return nil
		}
	}
	return fail(attr, index, errs.ReasonSelection, "not one of the declared choices")
}

// CheckDistinct validates the whole-sequence distinct-keys constraint for a
// Map-kind attribute: no two elements may share a key.
func CheckDistinct(attr string, seq Sequence) []IndexError {
	seen := make(map[string]bool, len(seq))
	var out []IndexError
	for i, el := range seq {
		entry, ok := el.(MapEntry)
		if !ok {
			continue
		}
		if seen[entry.Key] {
			out = append(out, IndexError{Index: i, Err: fail(attr, i, errs.ReasonUnique, "duplicate map key")})
			continue
		}
		seen[entry.Key] = true
	}
	return out
}
