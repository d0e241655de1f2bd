package query

import "go.mongodb.org/mongo-driver/v2/bson"

// WithAncestorClosure narrows filter to instances of class or any of its
// subclasses, using the persisted "_bases" ancestor-closure field so a
// query against a superclass transparently matches subclass instances
// (spec.md §4.2, §6 "_bases").
func WithAncestorClosure(filter bson.M, class string) bson.M {
	return bson.M{"$and": bson.A{
		filter,
		bson.M{"$or": bson.A{
			bson.M{"_toc": class},
			bson.M{"_bases": class},
		}},
	}}
}

// WithVisibility narrows filter to instances the caller may read, per the
// allowRead ∩ privileges rule (spec.md §4.3). superuser bypasses the check
// entirely. privileges is the caller's own privilege set.
func WithVisibility(filter bson.M, superuser bool, privileges []string) bson.M {
	if superuser {
		return filter
	}
	return bson.M{"$and": bson.A{
		filter,
		bson.M{"$or": bson.A{
			bson.M{"allowRead": bson.M{"$exists": false}},
			bson.M{"allowRead": bson.M{"$size": 0}},
			bson.M{"allowRead": bson.M{"$in": privileges}},
		}},
	}}
}
