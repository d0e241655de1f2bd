package link

import (
	"context"
	"time"

	"github.com/forbearing/tol/consts"
	"github.com/forbearing/tol/storage"
	"github.com/forbearing/tol/util"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store persists links and delivers update payloads through the storage
// adapter, the same way commit.Store owns the commits collection.
type Store struct {
	store *storage.Adapter
}

func NewStore(store *storage.Adapter) *Store {
	return &Store{store: store}
}

// Subscribe registers a new link and returns its id.
func (s *Store) Subscribe(ctx context.Context, l *Link) (string, error) {
	l.ID = util.NewID()
	l.Timestamp = time.Now()
	if err := s.store.InsertOne(ctx, consts.CollectionLinks, l); err != nil {
		return "", err
	}
	return l.ID, nil
}

// Unsubscribe removes a link.
func (s *Store) Unsubscribe(ctx context.Context, id string) error {
	return s.store.DeleteOne(ctx, consts.CollectionLinks, bson.M{"_id": id})
}

// Load fetches one link by id.
func (s *Store) Load(ctx context.Context, id string) (*Link, error) {
	var l Link
	if err := s.store.FindOne(ctx, consts.CollectionLinks, bson.M{"_id": id}, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Outdated returns every link with a pending OutdatedBy marker, the set
// Run should be called on this pass.
func (s *Store) Outdated(ctx context.Context) ([]Link, error) {
	var links []Link
	filter := bson.M{"outdatedBy": bson.M{"$exists": true, "$ne": ""}}
	if err := s.store.Find(ctx, consts.CollectionLinks, filter, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// Ancient returns links last fully recomputed before cutoff, candidates for
// the ancient-link sweep.
func (s *Store) Ancient(ctx context.Context, cutoff time.Time) ([]Link, error) {
	var links []Link
	filter := bson.M{"timestamp": bson.M{"$lt": cutoff}, "ancient": bson.M{"$ne": true}}
	if err := s.store.Find(ctx, consts.CollectionLinks, filter, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// MarkAncient flags a link ancient and clears its outdated-id list (spec.md
// §4.7 ancient-link sweep).
func (s *Store) MarkAncient(ctx context.Context, id string) error {
	return s.store.UpdateOne(ctx, consts.CollectionLinks, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"ancient": true},
		"$unset": bson.M{"outdatedToids": ""},
	})
}

// save persists a link's State/Timestamp after a run and clears its
// outdated markers.
func (s *Store) save(ctx context.Context, l *Link) error {
	return s.store.UpdateOne(ctx, consts.CollectionLinks, bson.M{"_id": l.ID}, bson.M{
		"$set":   bson.M{"state": l.State, "timestamp": l.Timestamp},
		"$unset": bson.M{"outdatedBy": "", "outdatedToids": ""},
	})
}

// markOutdated sets outdatedBy on every link matching filter, appending ids
// to outdatedToids instead of overwriting it (spec.md §4.6's notification
// step runs this once per commit, with all its affected ids, across every
// open link).
func (s *Store) markOutdated(ctx context.Context, filter bson.M, by string, ids []string) error {
	update := bson.M{"$set": bson.M{"outdatedBy": by}}
	if len(ids) > 0 {
		anyIDs := make([]any, len(ids))
		for i, id := range ids {
			anyIDs[i] = id
		}
		update["$addToSet"] = bson.M{"outdatedToids": bson.M{"$each": anyIDs}}
	}
	return s.store.UpdateMany(ctx, consts.CollectionLinks, filter, update)
}

// Deliver appends payload to the client update queue (spec.md §6 "client
// updates collection").
func (s *Store) Deliver(ctx context.Context, clientID, linkID string, payload UpdatePayload) error {
	doc := bson.M{
		"_id":        util.NewID(),
		"client":     clientID,
		"link":       linkID,
		"payload":    payload,
		"delivered":  false,
		"created_at": time.Now(),
	}
	return s.store.InsertOne(ctx, consts.CollectionUpdate, doc)
}

// Poll returns every undelivered update queued for clientID and marks them
// delivered, the pull-based counterpart to a push transport (SSE/websocket)
// this layer doesn't itself open.
func (s *Store) Poll(ctx context.Context, clientID string) ([]bson.M, error) {
	var docs []bson.M
	filter := bson.M{"client": clientID, "delivered": false}
	if err := s.store.Find(ctx, consts.CollectionUpdate, filter, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return docs, nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = idOf(d)
	}
	err := s.store.UpdateMany(ctx, consts.CollectionUpdate, bson.M{"_id": bson.M{"$in": ids}}, bson.M{
		"$set": bson.M{"delivered": true},
	})
	return docs, err
}
