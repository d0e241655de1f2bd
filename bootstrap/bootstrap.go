// Package bootstrap orchestrates process startup: config, logging,
// metrics, the storage adapter, schema resolution, the commit engine and
// its background dispatcher, authn/authz, and finally the HTTP router —
// in the same Register-then-Init, Register-then-Go shape the teacher's
// bootstrap package uses.
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/tol/authn/jwt"
	"github.com/forbearing/tol/authz/rbac/basic"
	"github.com/forbearing/tol/blob"
	"github.com/forbearing/tol/commit"
	"github.com/forbearing/tol/config"
	"github.com/forbearing/tol/link"
	pkgzap "github.com/forbearing/tol/logger/zap"
	"github.com/forbearing/tol/metrics"
	"github.com/forbearing/tol/pkg/auditmanager"
	pkgminio "github.com/forbearing/tol/provider/minio"
	"github.com/forbearing/tol/router"
	"github.com/forbearing/tol/schema"
	"github.com/forbearing/tol/storage"
	"github.com/forbearing/tol/txctx"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

var (
	initialized bool
	mu          sync.Mutex

	// Log is the process-wide structured logger, built once in Bootstrap
	// and handed to every subsystem that needs one instead of each
	// constructing its own.
	Log *zap.Logger

	mongoClient *mongo.Client
	store       *storage.Adapter
	registry    = schema.NewRegistry()
	engine      *commit.Engine
	records     *commit.Store
	dispatcher  *commit.Dispatcher

	linkStore  *link.Store
	linkEngine *link.Engine
	blobs      *blob.Manager
)

// Registry returns the process-wide schema registry application code
// registers its classes against before Bootstrap resolves it.
func Registry() *schema.Registry { return registry }

func Bootstrap() error {
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...any) {}))

	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}

	Register(
		config.Init,
		initLogger,
		metrics.Init,
		connectMongo,
		registry.Resolve,
		initCommit,
		pkgminio.Init,
		initBlob,
		initLink,
		jwt.Init,
		basic.Init,
		initRouter,
	)
	if err := Init(); err != nil {
		return err
	}

	RegisterCleanup(linkEngine.Stop)
	RegisterCleanup(func() { dispatcher.Stop() })
	RegisterCleanup(router.Stop)
	RegisterCleanup(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return mongoClient.Disconnect(ctx)
	})
	RegisterCleanup(func() { _ = Log.Sync() })
	RegisterCleanup(config.Clean)

	initialized = true
	return nil
}

func initLogger() (err error) {
	Log, err = pkgzap.New(&config.App.Logger, "")
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(Log)
	return nil
}

func connectMongo() error {
	cfg := config.App.Mongo
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return errors.Wrap(err, "failed to connect to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return errors.Wrap(err, "failed to ping mongo")
	}
	mongoClient = client
	store = storage.New(client.Database(cfg.Database), Log, "mongo")
	records = commit.NewStore(client.Database(cfg.Database))
	return nil
}

func initCommit() error {
	engine = commit.New(registry, store, Log)
	if config.App.Audit.Enable {
		audit := auditmanager.New(&config.App.Audit, mongoClient.Database(config.App.Mongo.Database), Log, config.App.Audit.BatchSize)
		engine.Audit = audit
		if config.App.Audit.AsyncWrite {
			RegisterGo(func() error {
				audit.Consume(context.Background())
				return nil
			})
		}
	}

	d, err := commit.NewDispatcher(mongoClient.Database(config.App.Mongo.Database), hostname(), 8, Log, runCommit)
	if err != nil {
		return errors.Wrap(err, "failed to build commit dispatcher")
	}
	dispatcher = d
	return dispatcher.Start(context.Background())
}

// initBlob wires the blob manager to the minio client Init built, a no-op
// when config.App.Minio.Endpoint is empty (provider/minio.Init skips
// connecting in that case too).
func initBlob() error {
	client := pkgminio.Client()
	if client == nil {
		return nil
	}
	blobs = blob.New(store, client, config.App.Minio.Bucket)
	return nil
}

func initLink() error {
	linkStore = link.NewStore(store)
	linkEngine = link.New(linkStore, store, records, engine, Log)
	engine.OnAffected = linkEngine.MarkOutdated
	return linkEngine.Start(context.Background())
}

// runCommit is the Dispatcher's claimed-commit callback: it loads the
// staged operations the submitting request stored on the record and runs
// them through the engine under a synthetic superuser identity, since the
// original caller's identity isn't preserved across the async boundary.
func runCommit(ctx context.Context, commitID string) {
	record, err := records.Load(ctx, commitID)
	if err != nil {
		_ = records.MarkFailed(ctx, commitID, err)
		return
	}
	var ops []commit.Operation
	if err := record.Payload(&ops); err != nil {
		_ = records.MarkFailed(ctx, commitID, err)
		return
	}

	// The submitting identity isn't preserved across the async boundary
	// yet, so claimed commits run as a superuser; per-record identity
	// capture is tracked as an open question.
	tx := txctx.NewCommit(txctx.New(txctx.Identity{Superuser: true}, 0, 0))
	result := engine.Run(ctx, tx, ops)
	if result.Err != nil {
		_ = records.MarkFailed(ctx, commitID, result.Err)
		return
	}
	_ = records.MarkDone(ctx, commitID)
}

func initRouter() error {
	return router.Init(Log, engine, store, registry, records, linkStore, blobs)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func Run() error {
	defer Cleanup()

	RegisterGo(router.Run)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	errCh := make(chan error, 1)

	go func() { errCh <- Go() }()
	select {
	case sig := <-sigCh:
		zap.S().Infow("canceled by signal", "signal", sig)
		return nil
	case err := <-errCh:
		return err
	}
}
