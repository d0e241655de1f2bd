package commit

import (
	"context"
	"time"

	"github.com/forbearing/tol/consts"
	"github.com/forbearing/tol/errs"
	"github.com/forbearing/tol/util"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Record is the persisted commit document clients poll to learn the
// outcome of an async-submitted commit (spec.md §4.6).
type Record struct {
	ID        string             `bson:"_id"`
	State     consts.CommitState `bson:"state"`
	HandledBy string             `bson:"_handled_by,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
	FinishedAt *time.Time        `bson:"finished_at,omitempty"`
	Error     string             `bson:"error,omitempty"`

	// GridData points at a side blob holding this record's oversize
	// operations/results payload once it exceeds consts.GridDataThreshold,
	// instead of inlining it (spec.md §9 open question, resolved with a
	// named constant — see DESIGN.md).
	GridData string `bson:"_griddata,omitempty"`

	// payload is the inline operations/results when small enough; nil once
	// externalised to GridData.
	payload []byte
}

// NewRecord starts a commit record in the "new" state.
func NewRecord() *Record {
	return &Record{ID: util.NewID(), State: consts.CommitNew, CreatedAt: time.Now()}
}

// SetPayload msgpack-encodes payload and stores it inline, unless it
// exceeds consts.GridDataThreshold, in which case the caller is expected to
// externalise the encoded bytes to the blob store and record the resulting
// reference in GridData instead (spec.md's "_griddata" side-blob envelope;
// grounded on vmihailenco/msgpack/v5, reserved for this wire form only —
// ordinary document fields stay plain BSON).
func (r *Record) SetPayload(v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	if len(b) > consts.GridDataThreshold {
		r.payload = b // caller externalises via blob.Manager and sets GridData
		return nil
	}
	r.payload = b
	return nil
}

// Payload decodes the inline payload into v.
func (r *Record) Payload(v any) error {
	if r.payload == nil {
		return errs.New(errs.KindInternal, "commit record payload not loaded")
	}
	return msgpack.Unmarshal(r.payload, v)
}

// Store persists a commit record, including its encoded payload under a
// reserved field msgpack can own end to end without colliding with the
// document's plain BSON attribute fields.
type Store struct {
	coll *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{coll: db.Collection(consts.CollectionCommit)}
}

func (s *Store) Insert(ctx context.Context, r *Record) error {
	doc := bson.M{
		"_id":        r.ID,
		"state":      r.State,
		"created_at": r.CreatedAt,
		"payload":    r.payload,
	}
	if r.GridData != "" {
		doc[consts.FieldGridData] = r.GridData
	}
	_, err := s.coll.InsertOne(ctx, doc)
	return err
}

// Load fetches a commit record's persisted state and inline payload so a
// dispatcher worker can decode it back into the operations that were
// staged for it.
func (s *Store) Load(ctx context.Context, id string) (*Record, error) {
	var doc struct {
		ID      string             `bson:"_id"`
		State   consts.CommitState `bson:"state"`
		Payload []byte             `bson:"payload"`
	}
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, err
	}
	return &Record{ID: doc.ID, State: doc.State, payload: doc.Payload}, nil
}

// Delete removes a commit record once a CallMethod link has delivered its
// result and no longer needs the record retained.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *Store) MarkDone(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"state":       consts.CommitDone,
		"finished_at": now,
	}})
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	now := time.Now()
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"state":       consts.CommitFailed,
		"finished_at": now,
		"error":       cause.Error(),
	}})
	return err
}

// WaitFor polls the commit record until it leaves the "new" state or ctx is
// done, at consts.WaitPollInterval (spec.md §4.6 "waitForCommit").
func (s *Store) WaitFor(ctx context.Context, id string, timeout time.Duration) (*Record, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(consts.WaitPollInterval)
	defer ticker.Stop()
	for {
		var raw bson.M
		err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
		if err != nil && err != mongo.ErrNoDocuments {
			return nil, err
		}
		if err == nil {
			state, _ := raw["state"].(string)
			if consts.CommitState(state) != consts.CommitNew {
				return &Record{ID: id, State: consts.CommitState(state)}, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, errs.New(errs.KindTimeout, "timed out waiting for commit")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
