// Package link implements the subscription/link engine from spec.md §4.7:
// four link kinds sharing one document shape, each producing an update
// payload on its next run and delivering it to the subscribing client.
package link

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Kind distinguishes the four link shapes spec.md §4.7 describes.
type Kind int

const (
	CallMethod Kind = iota
	Request
	Query
	SortedQuery
)

// Link is the persisted subscription document (spec.md §6 "links
// collection"): `(clientId, linkId, params, state?, outdatedBy?,
// outdatedToids[], allowRead[], timestamp, ancient)`.
type Link struct {
	ID       string `bson:"_id"`
	ClientID string `bson:"client"`
	Kind     Kind   `bson:"type"`
	Class    string `bson:"class"`

	// Params carries kind-specific call arguments: "id" for Request,
	// "filter" for Query, "cond" and "sort_key" for SortedQuery, and
	// "class", "id" and "method" for CallMethod.
	Params bson.M `bson:"params"`

	// State is the link's cached result from its last run: the prior
	// projection for Request, the prior id set for Query, the prior sorted
	// id order for SortedQuery. nil before the first run.
	State bson.M `bson:"state,omitempty"`

	OutdatedBy    string    `bson:"outdatedBy,omitempty"`
	OutdatedToids []string  `bson:"outdatedToids,omitempty"`
	AllowRead     []string  `bson:"allowRead,omitempty"`
	Timestamp     time.Time `bson:"timestamp"`
	Ancient       bool      `bson:"ancient"`
}

// UpdatePayload is what one Run call pushes to the client's update queue.
// Only the fields relevant to the link's Kind are populated.
type UpdatePayload struct {
	// CallMethod
	Result any    `bson:"result,omitempty" json:"result,omitempty"`
	Error  string `bson:"error,omitempty" json:"error,omitempty"`

	// Request
	Diff map[string]any `bson:"diff,omitempty" json:"diff,omitempty"`

	// Query
	Add map[string]string `bson:"add,omitempty" json:"add,omitempty"`
	Del map[string]string `bson:"del,omitempty" json:"del,omitempty"`

	// SortedQuery
	DiffOps  []DiffOp                  `bson:"diffops,omitempty" json:"diffops,omitempty"`
	ToiDiffs map[string]map[string]any `bson:"toiDiffs,omitempty" json:"toiDiffs,omitempty"`
}

// DiffOp mirrors diffseq.Op for the wire payload, keeping the link
// package's public shape independent of diffseq's internal field names.
type DiffOp struct {
	Start       int      `bson:"start" json:"start"`
	End         int      `bson:"end" json:"end"`
	Replacement []string `bson:"replacement" json:"replacement"`
}
