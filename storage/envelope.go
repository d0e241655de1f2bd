package storage

import (
	"github.com/forbearing/tol/consts"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Envelope is the persisted document shape from spec.md §6: the instance
// id, its most-derived class name, the ancestor closure for superclass
// queries, the lock owner, visibility list and arbitrary attribute fields.
type Envelope struct {
	ID         string   `bson:"_id"`
	Class      string   `bson:"_toc"`
	Bases      []string `bson:"_bases,omitempty"`
	HandledBy  string   `bson:"_handled_by,omitempty"`
	AllowRead  []string `bson:"allowRead,omitempty"`
	Attrs      bson.M   `bson:"attrs"`
}

// ToDoc flattens an Envelope into the bson.M actually written to Mongo,
// merging the reserved fields with the attribute map.
func (e Envelope) ToDoc() bson.M {
	doc := bson.M{
		consts.FieldDocID: e.ID,
		consts.FieldToc:   e.Class,
	}
	if len(e.Bases) > 0 {
		doc[consts.FieldBases] = e.Bases
	}
	if e.HandledBy != "" {
		doc[consts.FieldHandledBy] = e.HandledBy
	}
	if len(e.AllowRead) > 0 {
		doc[consts.FieldAllowRead] = e.AllowRead
	}
	for k, v := range e.Attrs {
		doc[k] = v
	}
	return doc
}

// FromDoc splits a raw document back into its reserved fields and the
// remaining attribute map.
func FromDoc(doc bson.M) Envelope {
	e := Envelope{Attrs: bson.M{}}
	for k, v := range doc {
		switch k {
		case consts.FieldDocID:
			e.ID, _ = v.(string)
		case consts.FieldToc:
			e.Class, _ = v.(string)
		case consts.FieldBases:
			e.Bases = toStringSlice(v)
		case consts.FieldHandledBy:
			e.HandledBy, _ = v.(string)
		case consts.FieldAllowRead:
			e.AllowRead = toStringSlice(v)
		default:
			e.Attrs[k] = v
		}
	}
	return e
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case bson.A:
		out := make([]string, 0, len(vv))
		for _, el := range vv {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
