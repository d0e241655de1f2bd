package commit

import (
	"context"
	"time"

	"github.com/forbearing/tol/consts"
	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// Dispatcher periodically claims unhandled commit records and runs them
// through a bounded worker pool, instead of a goroutine-per-commit, so a
// burst of submissions can't exhaust the process (grounded on the
// panjf2000/ants/v2 pooling pattern the teacher's dependency set already
// carries for background work; scheduled by robfig/cron/v3).
type Dispatcher struct {
	pool  *ants.Pool
	cron  *cron.Cron
	coll  *mongo.Collection
	log   *zap.Logger
	owner string
	run   func(ctx context.Context, commitID string)
}

// NewDispatcher builds a dispatcher with the given worker concurrency.
func NewDispatcher(db *mongo.Database, owner string, concurrency int, log *zap.Logger, run func(ctx context.Context, commitID string)) (*Dispatcher, error) {
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		pool:  pool,
		cron:  cron.New(),
		coll:  db.Collection(consts.CollectionCommit),
		log:   log,
		owner: owner,
		run:   run,
	}, nil
}

// Start schedules the claim-and-dispatch job every second and starts the
// cron scheduler. The link engine's own ancient-link sweep runs on a
// separate cron instance (see link.Engine.Start) since it has no
// dependency on commit records.
func (d *Dispatcher) Start(ctx context.Context) error {
	if _, err := d.cron.AddFunc("@every 1s", func() { d.claimAndDispatch(ctx) }); err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

func (d *Dispatcher) Stop() {
	d.cron.Stop()
	d.pool.Release()
}

// claimAndDispatch atomically claims every unhandled "new" commit record
// and submits it to the worker pool.
func (d *Dispatcher) claimAndDispatch(ctx context.Context) {
	for {
		filter := bson.M{"state": consts.CommitNew, consts.FieldHandledBy: bson.M{"$exists": false}}
		update := bson.M{"$set": bson.M{consts.FieldHandledBy: d.owner}}
		var doc bson.M
		err := d.coll.FindOneAndUpdate(ctx, filter, update).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return
		}
		if err != nil {
			d.log.Warn("commit: claim poll failed", zap.Error(err))
			return
		}
		id, _ := doc["_id"].(string)
		if err := d.pool.Submit(func() { d.run(ctx, id) }); err != nil {
			d.log.Warn("commit: failed to submit claimed commit to pool", zap.String("id", id), zap.Error(err))
		}
	}
}

// SweepAncient resyncs every sorted-query link that hasn't had a full
// recompute in longer than consts.AncientAfter, per spec.md §4.7.
func (d *Dispatcher) SweepAncient(ctx context.Context, resync func(ctx context.Context, linkID string) error, listAncient func(ctx context.Context, cutoff time.Time) ([]string, error)) error {
	cutoff := time.Now().Add(-consts.AncientAfter)
	ids, err := listAncient(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := resync(ctx, id); err != nil {
			d.log.Warn("commit: ancient link resync failed", zap.String("link_id", id), zap.Error(err))
		}
	}
	return nil
}
