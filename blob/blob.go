// Package blob implements the ref-counted blob reference manager spec.md
// §4.8 describes: payload bytes live in MinIO once they cross the
// externalisation threshold, while a files/chunks collection pair tracked
// through the storage adapter holds the owning-reference bookkeeping that
// decides when a blob is safe to delete.
package blob

import (
	"bytes"
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/tol/consts"
	"github.com/forbearing/tol/storage"
	"github.com/forbearing/tol/util"
	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// fileDoc is the persisted envelope for one blob's metadata and owner set,
// stored in consts.CollectionFiles.
type fileDoc struct {
	ID          string    `bson:"_id"`
	Bucket      string    `bson:"bucket"`
	Object      string    `bson:"object"`
	Size        int64     `bson:"size"`
	ContentType string    `bson:"content_type"`
	Owners      []string  `bson:"owners"`
	CreatedAt   time.Time `bson:"created_at"`
}

// Manager is the blob reference manager: Put/Get move payload bytes
// through MinIO, AddRef/DelRef maintain the owner set that decides when a
// blob's storage is reclaimed.
type Manager struct {
	store  *storage.Adapter
	client *minio.Client
	bucket string
}

// New returns a Manager storing payloads in bucket via client, with
// metadata tracked through store.
func New(store *storage.Adapter, client *minio.Client, bucket string) *Manager {
	return &Manager{store: store, client: client, bucket: bucket}
}

// Put externalises payload to the blob store under a fresh object id,
// sniffing its content type from the leading bytes, and registers owner as
// its first reference holder. It returns the object id the resulting
// BlobRef.External field should carry.
func (m *Manager) Put(ctx context.Context, payload []byte, owner string) (string, error) {
	id := util.NewID()
	contentType := mimetype.Detect(payload).String()

	if _, err := m.client.PutObject(ctx, m.bucket, id, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", errors.Wrap(err, "failed to store blob payload")
	}

	doc := fileDoc{
		ID: id, Bucket: m.bucket, Object: id, Size: int64(len(payload)),
		ContentType: contentType, Owners: []string{owner}, CreatedAt: time.Now(),
	}
	if err := m.store.InsertOne(ctx, consts.CollectionFiles, doc); err != nil {
		_ = m.client.RemoveObject(ctx, m.bucket, id, minio.RemoveObjectOptions{})
		return "", errors.Wrap(err, "failed to persist blob metadata")
	}
	return id, nil
}

// Get loads the payload bytes for an externalised blob id.
func (m *Manager) Get(ctx context.Context, id string) ([]byte, error) {
	var doc fileDoc
	if err := m.store.FindOne(ctx, consts.CollectionFiles, bson.M{"_id": id}, &doc); err != nil {
		return nil, errors.Wrap(err, "blob not found")
	}
	obj, err := m.client.GetObject(ctx, doc.Bucket, doc.Object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AddRef registers owner as an additional reference holder of blob id.
func (m *Manager) AddRef(ctx context.Context, id, owner string) error {
	return m.store.UpdateOne(ctx, consts.CollectionFiles, bson.M{"_id": id}, bson.M{
		"$addToSet": bson.M{"owners": owner},
	})
}

// DelRef removes owner from blob id's reference set, destroying the blob's
// stored payload once no owner remains (spec.md §4.8 "destroy on empty
// reference set").
func (m *Manager) DelRef(ctx context.Context, id, owner string) error {
	var doc fileDoc
	if err := m.store.FindOne(ctx, consts.CollectionFiles, bson.M{"_id": id}, &doc); err != nil {
		return err
	}
	remaining := make([]string, 0, len(doc.Owners))
	for _, o := range doc.Owners {
		if o != owner {
			remaining = append(remaining, o)
		}
	}
	if len(remaining) > 0 {
		return m.store.UpdateOne(ctx, consts.CollectionFiles, bson.M{"_id": id}, bson.M{
			"$set": bson.M{"owners": remaining},
		})
	}

	if err := m.client.RemoveObject(ctx, doc.Bucket, doc.Object, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, "failed to remove blob payload")
	}
	return m.store.DeleteOne(ctx, consts.CollectionFiles, bson.M{"_id": id})
}
