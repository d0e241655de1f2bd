// Package consts holds the small fixed vocabularies shared across the
// object layer: context keys, commit/link state names and tuning constants
// that would otherwise be magic literals scattered through storage, commit
// and link packages.
package consts

import "time"

// Context keys used to stash request-scoped identity on a context.Context,
// mirroring how the teacher's ambient stack threads username/user id/trace
// id through context.WithValue.
type ctxKey string

const (
	CtxUserID    ctxKey = "user_id"
	CtxUsername  ctxKey = "username"
	CtxRequestID ctxKey = "request_id"
	CtxTraceID   ctxKey = "trace_id"
)

// FieldID is the struct field name holding an instance's identifier; kept as
// a constant so reflection-based id get/set (schema registry, commit engine)
// never hardcodes the literal string twice.
const FieldID = "ID"

// Reserved document field names in the persisted envelope (spec.md §6).
const (
	FieldDocID       = "_id"
	FieldToc         = "_toc"
	FieldBases       = "_bases"
	FieldHandledBy   = "_handled_by"
	FieldAllowRead   = "allowRead"
	FieldGridData    = "_griddata"
	AttrAllowRead    = "allowRead"
	CollectionCommit = "commits"
	CollectionLinks  = "links"
	CollectionUpdate = "client_updates"
	CollectionFiles  = "blob_files"
	CollectionChunks = "blob_chunks"
)

// CommitState is the commit record lifecycle state (spec.md §4.6).
type CommitState string

const (
	CommitNew    CommitState = "new"
	CommitDone   CommitState = "done"
	CommitFailed CommitState = "failed"
)

// RetryBackoff is the storage adapter's fixed retry schedule for transient
// failures: 9 attempts total, entry n is the delay before attempt n (counting
// from 0), so the leading 0 is never actually waited on.
var RetryBackoff = []time.Duration{
	0,
	100 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	5 * time.Second,
	5 * time.Second,
	5 * time.Second,
}

// MaxStorageAttempts is len(RetryBackoff): one attempt per backoff entry.
const MaxStorageAttempts = 9

// GenerationCap bounds commit-conflict retries (spec.md §4.6).
const GenerationCap = 5

// LockRetryCap bounds tois-locked retries (spec.md §4.6).
const LockRetryCap = 3

// AncientAfter is how long a sorted-query link can go without a full
// recompute before it is marked ancient and resynced wholesale.
const AncientAfter = 3600 * time.Second

// WaitPollInterval is the poll interval used by waitForCommit.
const WaitPollInterval = 100 * time.Millisecond

// BlobExternalizeThreshold is the default size above which an attribute
// element's bytes are externalised to the blob store instead of being
// stored inline in the document.
const BlobExternalizeThreshold = 64 * 1024

// GridDataThreshold is the size above which an oversize commit-record field
// (operations, diffs, blob lists, results) is written to a side blob
// referenced as `_griddata` rather than inlined in the commit document.
// Matches MongoDB's own 16MiB document ceiling; kept as a named constant
// (open question in spec.md §9) so it can be re-tuned per deployment.
const GridDataThreshold = 16 * 1024 * 1024
