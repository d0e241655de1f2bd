// Package auditmanager records a human-readable trail of every commit
// operation, additive to (and independent of) the opcode-triple diffs the
// link engine computes: this trail is for people reading an audit log, not
// for reconstructing a client's subscription window (see the diffseq
// package's doc comment). Adapted from the teacher's circular-buffer audit
// manager, with the missing ds/queue/circularbuffer replaced by a buffered
// channel and go-diff used to render before/after attribute JSON as a
// unified diff.
package auditmanager

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/tol/config"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// Entry is one audit trail record: a commit operation against a single
// instance, with a human-readable diff of what changed.
type Entry struct {
	CommitID  string    `bson:"commit_id"`
	Class     string    `bson:"class"`
	ID        string    `bson:"instance_id"`
	Op        string    `bson:"op"`
	UserID    string    `bson:"user_id"`
	Diff      string    `bson:"diff,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
}

// Manager buffers audit entries and flushes them to storage in batches,
// either synchronously or asynchronously depending on config.
type Manager struct {
	cfg  *config.Audit
	coll *mongo.Collection
	log  *zap.Logger
	ch   chan *Entry
}

// New returns a Manager. bufSize bounds the async channel; entries are
// dropped (and logged) if the consumer falls behind past that bound,
// matching the teacher's "best-effort async audit" posture.
func New(cfg *config.Audit, db *mongo.Database, log *zap.Logger, bufSize int) *Manager {
	return &Manager{
		cfg:  cfg,
		coll: db.Collection("audit_log"),
		log:  log,
		ch:   make(chan *Entry, bufSize),
	}
}

// Diff renders a unified, human-readable diff of an attribute's JSON form
// before and after a change, using sergi/go-diff/diffmatchpatch — a
// line/rune-oriented text diff, chosen here deliberately because the
// audience is a person reading an audit log, not the opcode-triple
// machinery the link engine needs (see diffseq package).
func Diff(before, after any) (string, error) {
	b, err := json.MarshalIndent(before, "", "  ")
	if err != nil {
		return "", err
	}
	a, err := json.MarshalIndent(after, "", "  ")
	if err != nil {
		return "", err
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(b), string(a), false)
	return dmp.DiffPrettyText(diffs), nil
}

// Record logs one audit entry, synchronously or via the buffered channel
// depending on config.
func (m *Manager) Record(ctx context.Context, e *Entry) error {
	if m.cfg == nil || !m.cfg.Enable {
		return nil
	}
	for _, excluded := range m.cfg.ExcludeOperations {
		if excluded == e.Op {
			return nil
		}
	}
	e.Timestamp = time.Now()

	if m.cfg.AsyncWrite {
		select {
		case m.ch <- e:
		default:
			m.log.Warn("auditmanager: buffer full, dropping entry", zap.String("commit_id", e.CommitID))
		}
		return nil
	}
	return m.writeOne(ctx, e)
}

func (m *Manager) writeOne(ctx context.Context, e *Entry) error {
	doc := bson.M{
		"commit_id":   e.CommitID,
		"class":       e.Class,
		"instance_id": e.ID,
		"op":          e.Op,
		"user_id":     e.UserID,
		"diff":        e.Diff,
		"timestamp":   e.Timestamp,
	}
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return errors.Wrap(err, "failed to write audit entry")
	}
	return nil
}

// Consume drains the async channel in batches on a fixed interval, mirroring
// the teacher's ticker-driven circular-buffer consumer.
func (m *Manager) Consume(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	var batch []*Entry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		docs := make([]any, 0, len(batch))
		for _, e := range batch {
			docs = append(docs, bson.M{
				"commit_id":   e.CommitID,
				"class":       e.Class,
				"instance_id": e.ID,
				"op":          e.Op,
				"user_id":     e.UserID,
				"diff":        e.Diff,
				"timestamp":   e.Timestamp,
			})
		}
		if _, err := m.coll.InsertMany(ctx, docs); err != nil {
			m.log.Error("auditmanager: batch flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case e := <-m.ch:
			batch = append(batch, e)
			if len(batch) >= 1000 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
