// Package storage implements the concrete MongoDB-backed adapter the
// object layer's commit and query engines sit on top of: the document
// envelope shape from spec.md §6, the 9-attempt retry schedule for
// transient failures, and a circuit breaker wrapped around the whole retry
// loop so a genuinely down backend fails fast instead of re-queueing every
// caller through the full backoff schedule.
package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/tol/consts"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// Store is the subset of Adapter's method set the commit engine depends on.
// Extracted so tests can substitute an in-memory fake instead of requiring a
// live MongoDB, the same seam the teacher's own data-access layer exposes
// for its sqlmock-backed tests (see DESIGN.md).
type Store interface {
	FindOne(ctx context.Context, collection string, filter bson.M, out any) error
	Find(ctx context.Context, collection string, filter bson.M, out any, opts ...options.Lister[options.FindOptions]) error
	InsertOne(ctx context.Context, collection string, doc any) error
	UpdateOne(ctx context.Context, collection string, filter, update bson.M) error
	UpdateMany(ctx context.Context, collection string, filter, update bson.M) error
	FindOneAndUpdate(ctx context.Context, collection string, filter, update bson.M, out any, opts ...options.Lister[options.FindOneAndUpdateOptions]) error
	BulkWrite(ctx context.Context, collection string, models []mongo.WriteModel) error
	DeleteOne(ctx context.Context, collection string, filter bson.M) error
}

// Adapter wraps one Mongo database handle plus the retry/breaker policy
// every storage call goes through.
type Adapter struct {
	db      *mongo.Database
	log     *zap.Logger
	breaker *gobreaker.CircuitBreaker
}

// New returns an Adapter over db. breakerName distinguishes this adapter's
// breaker in metrics/logs when more than one database is in play.
func New(db *mongo.Database, log *zap.Logger, breakerName string) *Adapter {
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consts.MaxStorageAttempts
		},
	}
	return &Adapter{db: db, log: log, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Collection returns the underlying *mongo.Collection for name, for callers
// that need driver features this adapter doesn't wrap directly (index
// management, aggregation).
func (a *Adapter) Collection(name string) *mongo.Collection { return a.db.Collection(name) }

// withRetry runs op up to consts.MaxStorageAttempts times, honoring
// consts.RetryBackoff between attempts, with the whole loop gated by the
// circuit breaker so a tripped breaker fails every call immediately instead
// of spending the full backoff schedule on each one.
func (a *Adapter) withRetry(ctx context.Context, op func(context.Context) error) error {
	_, err := a.breaker.Execute(func() (any, error) {
		var lastErr error
		for attempt := 0; attempt < consts.MaxStorageAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(consts.RetryBackoff[attempt]):
				}
			}
			lastErr = op(ctx)
			if lastErr == nil {
				return nil, nil
			}
			if !isTransient(lastErr) {
				return nil, lastErr
			}
			a.log.Warn("storage: transient failure, retrying",
				zap.Int("attempt", attempt+1), zap.Error(lastErr))
		}
		return nil, lastErr
	})
	return err
}

func isTransient(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.HasErrorLabel("TransientTransactionError") || cmdErr.HasErrorLabel("RetryableWriteError")
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

// FindOne loads one document matching filter into out.
func (a *Adapter) FindOne(ctx context.Context, collection string, filter bson.M, out any) error {
	return a.withRetry(ctx, func(ctx context.Context) error {
		return a.db.Collection(collection).FindOne(ctx, filter).Decode(out)
	})
}

// Find loads every document matching filter, applying opts (sort/skip/limit).
func (a *Adapter) Find(ctx context.Context, collection string, filter bson.M, out any, opts ...options.Lister[options.FindOptions]) error {
	return a.withRetry(ctx, func(ctx context.Context) error {
		cur, err := a.db.Collection(collection).Find(ctx, filter, opts...)
		if err != nil {
			return err
		}
		return cur.All(ctx, out)
	})
}

// InsertOne inserts doc into collection.
func (a *Adapter) InsertOne(ctx context.Context, collection string, doc any) error {
	return a.withRetry(ctx, func(ctx context.Context) error {
		_, err := a.db.Collection(collection).InsertOne(ctx, doc)
		return err
	})
}

// UpdateOne applies update to the single document matching filter.
func (a *Adapter) UpdateOne(ctx context.Context, collection string, filter, update bson.M) error {
	return a.withRetry(ctx, func(ctx context.Context) error {
		_, err := a.db.Collection(collection).UpdateOne(ctx, filter, update)
		return err
	})
}

// UpdateMany applies update to every document matching filter, for bulk
// state transitions like the link engine's outdated-marker propagation.
func (a *Adapter) UpdateMany(ctx context.Context, collection string, filter, update bson.M) error {
	return a.withRetry(ctx, func(ctx context.Context) error {
		_, err := a.db.Collection(collection).UpdateMany(ctx, filter, update)
		return err
	})
}

// FindOneAndUpdate applies update to the document matching filter and
// decodes the document named by opts' ReturnDocument setting into out. Used
// for the lock phase's atomic `_handled_by` claim (spec.md §4.6 step 2) and
// for commit-claiming (SPEC_FULL.md's cron-driven handoff).
func (a *Adapter) FindOneAndUpdate(ctx context.Context, collection string, filter, update bson.M, out any, opts ...options.Lister[options.FindOneAndUpdateOptions]) error {
	return a.withRetry(ctx, func(ctx context.Context) error {
		return a.db.Collection(collection).FindOneAndUpdate(ctx, filter, update, opts...).Decode(out)
	})
}

// BulkWrite runs a batch of writes atomically-per-document (Mongo has no
// cross-document transaction requirement here; spec.md §4.6's atomicity is
// enforced by the lock phase, not by a Mongo transaction).
func (a *Adapter) BulkWrite(ctx context.Context, collection string, models []mongo.WriteModel) error {
	if len(models) == 0 {
		return nil
	}
	return a.withRetry(ctx, func(ctx context.Context) error {
		_, err := a.db.Collection(collection).BulkWrite(ctx, models)
		return err
	})
}

// DeleteOne removes the single document matching filter.
func (a *Adapter) DeleteOne(ctx context.Context, collection string, filter bson.M) error {
	return a.withRetry(ctx, func(ctx context.Context) error {
		_, err := a.db.Collection(collection).DeleteOne(ctx, filter)
		return err
	})
}

// EnsureIndexes creates the index set spec.md §6 requires (ancestor
// closure, allowRead visibility, commit-claim polling); safe to call on
// every bootstrap since CreateMany is idempotent for already-existing
// equivalent indexes.
func (a *Adapter) EnsureIndexes(ctx context.Context, collection string, models []mongo.IndexModel) error {
	if len(models) == 0 {
		return nil
	}
	_, err := a.db.Collection(collection).Indexes().CreateMany(ctx, models)
	return err
}
