package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func getter(doc bson.M) func(string) any {
	return func(attr string) any { return doc[attr] }
}

func TestMatchesEqAndAnd(t *testing.T) {
	doc := bson.M{"status": "open", "age": int64(20)}
	c := And(EqCond("status", "open"), GteCond("age", int64(18)))
	assert.True(t, Matches(c, getter(doc)))
	assert.False(t, Matches(And(EqCond("status", "closed")), getter(doc)))
}

func TestMatchesHasKeyAcceptsBsonM(t *testing.T) {
	doc := bson.M{"props": bson.M{"color": "red"}}
	assert.True(t, Matches(HasKeyCond("props", "color"), getter(doc)))
	assert.False(t, Matches(LacksKeyCond("props", "color"), getter(doc)))
}

func TestMatchesInAcceptsBsonA(t *testing.T) {
	doc := bson.M{"tags": bson.A{"a", "b"}}
	assert.True(t, Matches(InCond("tags", []any{"b"}), getter(doc)))
}

func TestMatchesEmptyAcceptsBsonA(t *testing.T) {
	doc := bson.M{"tags": bson.A{}}
	assert.True(t, Matches(EmptyCond("tags"), getter(doc)))
	assert.False(t, Matches(NotEmptyCond("tags"), getter(doc)))
}

func TestMatchesFulltextAlwaysFalse(t *testing.T) {
	assert.False(t, Matches(FulltextCond("x"), getter(bson.M{})))
}

func TestMatchesReadable(t *testing.T) {
	open := bson.M{}
	assert.True(t, Matches(ReadableCond([]string{"viewer"}), getter(open)))

	restricted := bson.M{"allowRead": bson.A{"admin"}}
	assert.False(t, Matches(ReadableCond([]string{"viewer"}), getter(restricted)))
	assert.True(t, Matches(ReadableCond([]string{"admin"}), getter(restricted)))
}

func TestMatchesReadableAfterBsonRoundTrip(t *testing.T) {
	cond := ReadableCond([]string{"admin"})
	data, err := bson.Marshal(bson.M{"v": cond})
	assert.NoError(t, err)
	var wrap struct {
		V Cond `bson:"v"`
	}
	assert.NoError(t, bson.Unmarshal(data, &wrap))

	restricted := bson.M{"allowRead": bson.A{"admin"}}
	assert.True(t, Matches(wrap.V, getter(restricted)))
	assert.False(t, Matches(wrap.V, getter(bson.M{"allowRead": bson.A{"other"}})))
}
