package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := Envelope{
		ID:        "abc123",
		Class:     "Widget",
		Bases:     []string{"Item"},
		AllowRead: []string{"ops"},
		Attrs:     bson.M{"name": "gadget"},
	}

	doc := e.ToDoc()
	assert.Equal(t, "abc123", doc["_id"])
	assert.Equal(t, "Widget", doc["_toc"])
	assert.Equal(t, "gadget", doc["name"])

	back := FromDoc(doc)
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, e.Class, back.Class)
	assert.Equal(t, e.Bases, back.Bases)
	assert.Equal(t, e.AllowRead, back.AllowRead)
	assert.Equal(t, "gadget", back.Attrs["name"])
}
