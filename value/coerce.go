package value

import (
	"fmt"
	"time"

	"github.com/forbearing/tol/errs"
	"github.com/spf13/cast"
)

// IndexError pairs a sequence index with the coercion/restriction error at
// that index. Index -1 marks a whole-sequence (quantity) error.
type IndexError struct {
	Index int
	Err   *errs.AttrValueError
}

// Coercer coerces a single raw element, or a whole raw sequence, into typed
// Sequence values for one Kind (spec.md §4.1).
type Coercer interface {
	Kind() Kind
	Coerce(attr string, index int, el any) (any, *errs.AttrValueError)
}

// CoerceList coerces every element of raw through c, accumulating per-index
// errors instead of stopping at the first one, matching the accumulate-then-
// raise propagation policy of spec.md §7.
func CoerceList(c Coercer, attr string, raw []any) (Sequence, []IndexError) {
	out := make(Sequence, 0, len(raw))
	var errsOut []IndexError
	for i, el := range raw {
		v, err := c.Coerce(attr, i, el)
		if err != nil {
			errsOut = append(errsOut, IndexError{Index: i, Err: err})
			continue
		}
		out = append(out, v)
	}
	return out, errsOut
}

// CoercerFor returns the Coercer for a scalar kind. Map is handled separately
// by MapCoercer since it wraps an inner kind.
func CoercerFor(k Kind) Coercer {
	switch k {
	case Bool:
		return boolCoercer{}
	case Int:
		return intCoercer{}
	case Float:
		return floatCoercer{}
	case Decimal:
		return decimalCoercer{}
	case Timespan:
		return timespanCoercer{}
	case Timestamp:
		return timestampCoercer{}
	case String:
		return stringCoercer{}
	case LimitedString:
		return stringCoercer{}
	case Enum:
		return stringCoercer{}
	case Blob:
		return blobCoercer{}
	case Reference:
		return referenceCoercer{}
	default:
		return stringCoercer{}
	}
}

func fail(attr string, index int, reason errs.Reason, msg string) *errs.AttrValueError {
	return errs.NewAttrValueError(attr, index, reason, fmt.Errorf("%s", msg))
}

type boolCoercer struct{}

func (boolCoercer) Kind() Kind { return Bool }
func (boolCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	switch v := el.(type) {
	case bool:
		return v, nil
	case string:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, fail(attr, index, errs.ReasonBool, "not boolean-like")
		}
		return b, nil
	case int, int32, int64, float32, float64:
		return cast.ToBool(v), nil
	default:
		return nil, fail(attr, index, errs.ReasonBool, "not boolean-like")
	}
}

type intCoercer struct{}

func (intCoercer) Kind() Kind { return Int }
func (intCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	switch v := el.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		if float32(int64(v)) != v {
			return nil, fail(attr, index, errs.ReasonInt, "float has a fractional part")
		}
		return int64(v), nil
	case float64:
		if float64(int64(v)) != v {
			return nil, fail(attr, index, errs.ReasonInt, "float has a fractional part")
		}
		return int64(v), nil
	case string:
		n, err := cast.ToInt64E(v)
		if err != nil {
			return nil, fail(attr, index, errs.ReasonInt, "not an integer")
		}
		return n, nil
	default:
		return nil, fail(attr, index, errs.ReasonInt, "not an integer")
	}
}

type floatCoercer struct{}

func (floatCoercer) Kind() Kind { return Float }
func (floatCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	f, err := cast.ToFloat64E(el)
	if err != nil {
		return nil, fail(attr, index, errs.ReasonFloat, "not a float")
	}
	return f, nil
}

type decimalCoercer struct{}

func (decimalCoercer) Kind() Kind { return Decimal }
func (decimalCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	if d, ok := el.(Decimal); ok {
		return d, nil
	}
	f, err := cast.ToFloat64E(el)
	if err != nil {
		return nil, fail(attr, index, errs.ReasonDecimal, "not decimal-like")
	}
	return NewDecimal(f), nil
}

type timespanCoercer struct{}

func (timespanCoercer) Kind() Kind { return Timespan }
func (timespanCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	switch v := el.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fail(attr, index, errs.ReasonRange, "not a duration")
		}
		return d, nil
	default:
		n, err := cast.ToInt64E(el)
		if err != nil {
			return nil, fail(attr, index, errs.ReasonRange, "not a duration")
		}
		return time.Duration(n), nil
	}
}

type timestampCoercer struct{}

func (timestampCoercer) Kind() Kind { return Timestamp }
func (timestampCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	switch v := el.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fail(attr, index, errs.ReasonResolution, "not an RFC3339 timestamp")
		}
		return t, nil
	default:
		return nil, fail(attr, index, errs.ReasonResolution, "not a timestamp")
	}
}

type stringCoercer struct{}

func (stringCoercer) Kind() Kind { return String }
func (stringCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	s, err := cast.ToStringE(el)
	if err != nil {
		return nil, fail(attr, index, errs.ReasonString, "not a string")
	}
	return s, nil
}

type blobCoercer struct{}

func (blobCoercer) Kind() Kind { return Blob }
func (blobCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	switch v := el.(type) {
	case BlobRef:
		return v, nil
	case []byte:
		return BlobRef{Inline: v}, nil
	case string:
		return BlobRef{Inline: []byte(v)}, nil
	default:
		return nil, fail(attr, index, errs.ReasonSize, "not blob-like")
	}
}

type referenceCoercer struct{}

func (referenceCoercer) Kind() Kind { return Reference }
func (referenceCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	switch v := el.(type) {
	case Ref:
		return v, nil
	case string:
		if len(v) == 0 {
			return nil, fail(attr, index, errs.ReasonToiType, "empty reference id")
		}
		return Ref{ID: v}, nil
	default:
		return nil, fail(attr, index, errs.ReasonToiType, "not a reference")
	}
}

// MapCoercer wraps an inner Coercer and requires each raw element be a
// (key string, value) pair, per spec.md §4.1.
type MapCoercer struct{ Inner Coercer }

func (m MapCoercer) Kind() Kind { return Map }

func (m MapCoercer) Coerce(attr string, index int, el any) (any, *errs.AttrValueError) {
	entry, ok := el.(MapEntry)
	if !ok {
		return nil, fail(attr, index, errs.ReasonString, "map element must be a (key,value) pair")
	}
	if len(entry.Key) == 0 {
		return nil, fail(attr, index, errs.ReasonString, "map key must be a non-empty string")
	}
	v, err := m.Inner.Coerce(attr, index, entry.Value)
	if err != nil {
		return nil, err
	}
	return MapEntry{Key: entry.Key, Value: v}, nil
}
