package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestCompileInUsesInOperator(t *testing.T) {
	got := Compile(InCond("status", []any{"open", "pending"}))
	assert.Equal(t, bson.M{"status": bson.M{"$in": []any{"open", "pending"}}}, got)
}

func TestCompileBetweenUsesGteAndLte(t *testing.T) {
	got := Compile(BetweenCond("age", 18, 65))
	assert.Equal(t, bson.M{"age": bson.M{"$gte": 18, "$lte": 65}}, got)
}

func TestCompileHasKeyUsesDottedExists(t *testing.T) {
	got := Compile(HasKeyCond("props", "color"))
	assert.Equal(t, bson.M{"props.color": bson.M{"$exists": true}}, got)
}

func TestCompileFulltextIsUnsatisfiable(t *testing.T) {
	got := Compile(FulltextCond("anything"))
	assert.Equal(t, bson.M{"_id": bson.M{"$in": bson.A{}}}, got)
}

func TestCompileReadableAllowsEmptyOrIntersecting(t *testing.T) {
	got := Compile(ReadableCond([]string{"admin"}))
	want := bson.M{"$or": bson.A{
		bson.M{"allowRead": bson.M{"$exists": false}},
		bson.M{"allowRead": bson.M{"$size": 0}},
		bson.M{"allowRead": bson.M{"$in": []string{"admin"}}},
	}}
	assert.Equal(t, want, got)
}

func TestGlobToRegexpAnchoring(t *testing.T) {
	assert.Equal(t, "^foo$", GlobToRegexp("foo"))
	assert.Equal(t, "^foo", GlobToRegexp("foo*"))
	assert.Equal(t, "foo$", GlobToRegexp("*foo"))
	assert.Equal(t, "foo", GlobToRegexp("*foo*"))
}

func TestCompileAndOr(t *testing.T) {
	got := Compile(And(EqCond("a", 1), Or(EqCond("b", 2), EqCond("c", 3))))
	want := bson.M{"$and": bson.A{
		bson.M{"a": 1},
		bson.M{"$or": bson.A{bson.M{"b": 2}, bson.M{"c": 3}}},
	}}
	assert.Equal(t, want, got)
}
