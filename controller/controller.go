// Package controller implements the HTTP surface over the commit and
// query engines: submit/poll for commits, find for reads, in the
// teacher's gin-handler style.
package controller

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forbearing/tol/authn/jwt"
	"github.com/forbearing/tol/blob"
	"github.com/forbearing/tol/commit"
	"github.com/forbearing/tol/errs"
	"github.com/forbearing/tol/internal/sse"
	"github.com/forbearing/tol/link"
	"github.com/forbearing/tol/middleware"
	"github.com/forbearing/tol/query"
	. "github.com/forbearing/tol/response"
	"github.com/forbearing/tol/schema"
	"github.com/forbearing/tol/storage"
	"github.com/forbearing/tol/txctx"
	"github.com/forbearing/tol/value"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Controller wires the commit engine, storage adapter, schema registry,
// link engine, and blob manager into gin handlers.
type Controller struct {
	engine   *commit.Engine
	store    *storage.Adapter
	registry *schema.Registry
	records  *commit.Store
	links    *link.Store
	blobs    *blob.Manager
}

func New(engine *commit.Engine, store *storage.Adapter, registry *schema.Registry, records *commit.Store, links *link.Store, blobs *blob.Manager) *Controller {
	return &Controller{engine: engine, store: store, registry: registry, records: records, links: links, blobs: blobs}
}

// Healthz reports liveness.
func Healthz(c *gin.Context) { c.Status(http.StatusOK) }

// Logout revokes the bearer token presented on this request, so it can no
// longer authenticate even though it hasn't naturally expired yet.
func Logout(c *gin.Context) {
	jwt.Revoke(strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")))
	c.Status(http.StatusOK)
}

// operationRequest is the wire shape for one staged operation in a submit
// request; Attrs use plain JSON values, coerced against the class schema
// before entering the commit pipeline.
type operationRequest struct {
	Kind  string         `json:"kind" binding:"required"`
	Class string         `json:"class" binding:"required"`
	ID    string         `json:"id"`
	Attrs map[string]any `json:"attrs"`
	// Baseline carries the client's last-observed value for every attribute
	// in Attrs it is changing, so the commit engine's conflict check can
	// detect a concurrent write since the client last read this instance
	// (spec.md §4.6 step 3). Required for change_toi; ignored otherwise.
	// The HTTP surface is stateless between requests, so the client — not
	// the server — is the one place this prior value can come from.
	Baseline map[string]any `json:"baseline"`
	Method   string         `json:"method"`
	Args     []any          `json:"args"`
}

type submitRequest struct {
	Operations []operationRequest `json:"operations" binding:"required,min=1"`
}

var opKindByName = map[string]commit.OpKind{
	"create_toi": commit.CreateToi,
	"change_toi": commit.ChangeToi,
	"delete_toi": commit.DeleteToi,
	"call_toi":   commit.CallToi,
	"call_blm":   commit.CallBlm,
}

// Submit accepts a batch of staged operations and runs them through the
// commit engine as a single atomic attempt.
func (ctl *Controller) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ResponseJSON(c, CodeInvalidParam.WithErr(err))
		return
	}

	identity, _ := middleware.Identity(c)
	ops := make([]commit.Operation, 0, len(req.Operations))
	for _, o := range req.Operations {
		kind, ok := opKindByName[o.Kind]
		if !ok {
			ResponseJSON(c, CodeInvalidParam.WithMsg("unknown operation kind: "+o.Kind))
			return
		}
		attrs, err := decodeAttrs(ctl.registry, o.Class, o.Attrs)
		if err != nil {
			ResponseJSON(c, CodeInvalidParam.WithErr(err))
			return
		}
		var baseline map[string]value.Sequence
		if kind == commit.ChangeToi {
			baseline, err = decodeAttrs(ctl.registry, o.Class, o.Baseline)
			if err != nil {
				ResponseJSON(c, CodeInvalidParam.WithErr(err))
				return
			}
		}
		ops = append(ops, commit.Operation{
			Kind: kind, Class: o.Class, ID: o.ID, Attrs: attrs, Baseline: baseline,
			Method: o.Method, Args: o.Args,
		})
	}

	txCtx := txctx.NewCommit(txctx.New(identity, 0, 0))
	result := ctl.engine.Run(c.Request.Context(), txCtx, ops)

	switch result.Outcome {
	case commit.Ok:
		ResponseJSON(c, CodeSuccess, result)
	case commit.Conflict:
		ResponseJSON(c, CodeConflict, result)
	case commit.Locked:
		ResponseJSON(c, CodeLocked, result)
	default:
		msg := ""
		if result.Err != nil {
			msg = result.Err.Error()
		}
		ResponseJSON(c, CodeFailure.WithMsg(msg))
	}
}

// decodeAttrs coerces raw JSON attribute values against class's schema,
// collecting the coercion errors of every attribute and failing if there is
// any.
func decodeAttrs(registry *schema.Registry, class string, raw map[string]any) (map[string]value.Sequence, error) {
	desc, ok := registry.Descriptor(class)
	if !ok {
		return nil, errs.New(errs.KindAttrNameUnknown, "unknown class: "+class)
	}
	out := make(map[string]value.Sequence, len(raw))
	var attrErrs errs.AttrErrorList
	for name, v := range raw {
		attr, ok := desc.Attributes[name]
		if !ok {
			continue
		}
		coercer := value.CoercerFor(attr.Kind)
		items, ok := v.([]any)
		if !ok {
			items = []any{v}
		}
		seq, indexErrs := value.CoerceList(coercer, name, items)
		for _, ie := range indexErrs {
			attrErrs.Add(ie.Err)
		}
		out[name] = seq
	}
	if !attrErrs.Empty() {
		return nil, attrErrs.AsErr()
	}
	return out, nil
}

// queryRequest describes a Find over one class's collection.
type queryRequest struct {
	Class string `json:"class" binding:"required"`
	// Filter is an opaque condition tree; for the HTTP surface we only
	// support the common equality/comparison leaves directly as a map,
	// leaving full Cond tree construction to in-process callers.
	Filter map[string]any `json:"filter"`
	Limit  int64          `json:"limit"`
	Skip   int64          `json:"skip"`
}

// Find runs a read-only query against class's collection, applying
// visibility filtering for the caller's identity.
func (ctl *Controller) Find(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ResponseJSON(c, CodeInvalidParam.WithErr(err))
		return
	}

	identity, _ := middleware.Identity(c)
	filter := bson.M(req.Filter)
	filter = query.WithAncestorClosure(filter, req.Class)
	filter = query.WithVisibility(filter, identity.Superuser, identity.Privileges)

	if _, ok := ctl.registry.Descriptor(req.Class); !ok {
		ResponseJSON(c, CodeNotFound.WithMsg("unknown class: "+req.Class))
		return
	}

	opts := options.Find()
	if req.Limit > 0 {
		opts.SetLimit(req.Limit)
	}
	if req.Skip > 0 {
		opts.SetSkip(req.Skip)
	}

	var docs []bson.M
	if err := ctl.store.Find(c.Request.Context(), req.Class, filter, &docs, opts); err != nil {
		ResponseJSON(c, CodeFailure.WithErr(err))
		return
	}
	ResponseJSON(c, CodeSuccess, docs)
}

var linkKindByName = map[string]link.Kind{
	"call_method":  link.CallMethod,
	"request":      link.Request,
	"query":        link.Query,
	"sorted_query": link.SortedQuery,
}

// subscribeRequest describes one link to open; which fields apply depends
// on Kind (spec.md §4.7's four link shapes).
type subscribeRequest struct {
	ClientID string         `json:"client_id" binding:"required"`
	Kind     string         `json:"kind" binding:"required"`
	Class    string         `json:"class"`
	ID       string         `json:"id"`
	Method   string         `json:"method"`
	Filter   map[string]any `json:"filter"`
	SortKey  string         `json:"sort_key"`
}

// Subscribe opens a link and returns its id; the link engine's background
// pass produces its first update on the next run.
func (ctl *Controller) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ResponseJSON(c, CodeInvalidParam.WithErr(err))
		return
	}
	kind, ok := linkKindByName[req.Kind]
	if !ok {
		ResponseJSON(c, CodeInvalidParam.WithMsg("unknown link kind: "+req.Kind))
		return
	}

	identity, _ := middleware.Identity(c)
	params := bson.M{}
	switch kind {
	case link.CallMethod:
		params["class"], params["id"], params["method"] = req.Class, req.ID, req.Method
	case link.Request:
		params["id"] = req.ID
	case link.Query:
		filter := bson.M(req.Filter)
		filter = query.WithAncestorClosure(filter, req.Class)
		filter = query.WithVisibility(filter, identity.Superuser, identity.Privileges)
		params["filter"] = filter
	case link.SortedQuery:
		var leaves []query.Cond
		for k, v := range req.Filter {
			// The HTTP surface accepts a flat equality map; richer trees
			// are built in-process via the query package directly.
			leaves = append(leaves, query.EqCond(k, v))
		}
		if !identity.Superuser {
			leaves = append(leaves, query.ReadableCond(identity.Privileges))
		}
		params["cond"] = query.And(leaves...)
		params["sort_key"] = req.SortKey
	}

	l := &link.Link{ClientID: req.ClientID, Kind: kind, Class: req.Class, Params: params, AllowRead: identity.Privileges}
	id, err := ctl.links.Subscribe(c.Request.Context(), l)
	if err != nil {
		ResponseJSON(c, CodeFailure.WithErr(err))
		return
	}
	ResponseJSON(c, CodeSuccess, gin.H{"link_id": id})
}

// Unsubscribe closes a link by id.
func (ctl *Controller) Unsubscribe(c *gin.Context) {
	id := c.Param("id")
	if err := ctl.links.Unsubscribe(c.Request.Context(), id); err != nil {
		ResponseJSON(c, CodeFailure.WithErr(err))
		return
	}
	ResponseJSON(c, CodeSuccess, nil)
}

// Updates drains the undelivered update queue for one client (the pull
// transport; StreamUpdates is the SSE push counterpart).
func (ctl *Controller) Updates(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		ResponseJSON(c, CodeInvalidParam.WithMsg("client_id is required"))
		return
	}
	docs, err := ctl.links.Poll(c.Request.Context(), clientID)
	if err != nil {
		ResponseJSON(c, CodeFailure.WithErr(err))
		return
	}
	ResponseJSON(c, CodeSuccess, docs)
}

// UploadBlob externalises the request body as a blob owned by the caller's
// user id, returning the blob id an attribute's reference value carries.
func (ctl *Controller) UploadBlob(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		ResponseJSON(c, CodeInvalidParam.WithErr(err))
		return
	}
	identity, _ := middleware.Identity(c)
	id, err := ctl.blobs.Put(c.Request.Context(), payload, identity.UserID)
	if err != nil {
		ResponseJSON(c, CodeFailure.WithErr(err))
		return
	}
	ResponseJSON(c, CodeSuccess, gin.H{"blob_id": id})
}

// StreamUpdates pushes a client's link updates over Server-Sent Events as
// they're delivered, instead of requiring the client to poll /api/updates
// (spec.md §4.7 "optionally pushed live").
func (ctl *Controller) StreamUpdates(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		ResponseJSON(c, CodeInvalidParam.WithMsg("client_id is required"))
		return
	}

	sse.StreamSSEWithInterval(c.Writer, c.Request.Context(), c.Stream, time.Second, func(w io.Writer) bool {
		docs, err := ctl.links.Poll(c.Request.Context(), clientID)
		if err != nil {
			return false
		}
		for _, d := range docs {
			if err := sse.Encode(w, sse.Event{Event: "update", Data: d}); err != nil {
				return false
			}
		}
		return true
	})
}

// DownloadBlob streams a previously uploaded blob's payload back out.
func (ctl *Controller) DownloadBlob(c *gin.Context) {
	payload, err := ctl.blobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ResponseJSON(c, CodeNotFound.WithErr(err))
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", payload)
}
