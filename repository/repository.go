// Package repository implements the idempotent upsert and status-transition
// operations over the metadata document store.
package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arborwatch/httpmeta/model"
	"github.com/arborwatch/httpmeta/otel/mongodb"
	"github.com/arborwatch/httpmeta/storage/orm"
)

const collectionName = "metadata"

// Repository exposes the minimal, idempotent set of operations the
// processor and producer API need over the metadata document store.
type Repository interface {
	EnsurePending(ctx context.Context, url string) (*model.Record, error)
	MarkInProgress(ctx context.Context, url, requestID string) (*model.Record, error)
	MarkCompleted(ctx context.Context, url string, meta model.Metadata) error
	MarkRetryableFailure(ctx context.Context, url, errMsg string) error
	MarkPermanentFailure(ctx context.Context, url, errMsg string) error
	Get(ctx context.Context, url string) (*model.Record, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type repository struct {
	op  *orm.Operator
	mod *orm.Model
}

// New connects to the document store identified by `uri`/`db` and ensures
// the repository's indexes exist before returning.
func New(ctx context.Context, uri, db string) (Repository, error) {
	opts := options.Client().ApplyURI(uri).SetMonitor(mongodb.NewMonitor())
	op, err := orm.NewOperator(db, opts)
	if err != nil {
		return nil, model.WrapKind(model.ErrStoreUnavailable, err, "connect to document store")
	}
	r := &repository{op: op, mod: op.Model(collectionName)}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *repository) ensureIndexes(ctx context.Context) error {
	names := []string{"uq_metadata_url", "idx_metadata_created_at"}
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetName(names[0]).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName(names[1]),
		},
	}
	_, err := r.mod.Collection.Indexes().CreateMany(ctx, models)
	if err != nil {
		return model.WrapKind(model.ErrStoreUnavailable, err, "create indexes")
	}
	return nil
}

// EnsurePending upserts a record with $setOnInsert semantics: idempotent
// across redeliveries, a no-op if the record already exists.
func (r *repository) EnsurePending(ctx context.Context, url string) (*model.Record, error) {
	now := time.Now().UTC()
	filter := bson.M{"url": url}
	update := bson.M{
		"$setOnInsert": bson.M{
			"url":        url,
			"status":     model.StatusPending,
			"metadata":   nil,
			"processing": model.Processing{},
			"created_at": now,
			"updated_at": now,
		},
	}
	upsert := true
	opts := &options.FindOneAndUpdateOptions{
		Upsert:         &upsert,
		ReturnDocument: returnAfter(),
	}
	rec := new(model.Record)
	sr := r.mod.Collection.FindOneAndUpdate(ctx, filter, update, opts)
	if err := sr.Err(); err != nil {
		return nil, model.WrapKind(model.ErrStoreUnavailable, err, "ensure pending record")
	}
	if err := sr.Decode(rec); err != nil {
		return nil, model.WrapKind(model.ErrStoreUnavailable, err, "decode record")
	}
	return rec, nil
}

// MarkInProgress performs the conditional update described in the
// processing algorithm: it only transitions records that are not already
// terminal. On a terminal record it returns the current (unmodified)
// record so the caller can short-circuit.
func (r *repository) MarkInProgress(ctx context.Context, url, requestID string) (*model.Record, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"url": url,
		"status": bson.M{"$nin": []model.Status{
			model.StatusCompleted,
			model.StatusFailedPermanent,
		}},
	}
	update := bson.M{
		"$set": bson.M{
			"status":                      model.StatusInProgress,
			"processing.last_request_id": requestID,
			"updated_at":                  now,
		},
		"$inc": bson.M{"processing.attempt_number": 1},
	}
	after := returnAfter()
	opts := &options.FindOneAndUpdateOptions{ReturnDocument: after}
	rec := new(model.Record)
	sr := r.mod.Collection.FindOneAndUpdate(ctx, filter, update, opts)
	if err := sr.Err(); err == mongo.ErrNoDocuments {
		// Either the record doesn't exist yet (shouldn't happen, EnsurePending
		// runs first) or it is already terminal; re-read and let the caller
		// short-circuit on a terminal record.
		return r.Get(ctx, url)
	} else if err != nil {
		return nil, model.WrapKind(model.ErrStoreUnavailable, err, "mark in progress")
	}
	if err := sr.Decode(rec); err != nil {
		return nil, model.WrapKind(model.ErrStoreUnavailable, err, "decode record")
	}
	return rec, nil
}

// MarkCompleted unconditionally writes the terminal success state. Safe
// against stale redeliveries because MarkInProgress's conditional update
// already short-circuits processing of a terminal record.
func (r *repository) MarkCompleted(ctx context.Context, url string, meta model.Metadata) error {
	update := bson.M{"$set": bson.M{
		"status":                model.StatusCompleted,
		"metadata":              meta,
		"processing.error_msg": nil,
		"updated_at":            time.Now().UTC(),
	}}
	return r.set(ctx, url, update)
}

// MarkRetryableFailure records a transient failure, leaving the record
// eligible for another delivery attempt.
func (r *repository) MarkRetryableFailure(ctx context.Context, url, errMsg string) error {
	update := bson.M{"$set": bson.M{
		"status":                model.StatusFailedRetryable,
		"processing.error_msg": errMsg,
		"updated_at":            time.Now().UTC(),
	}}
	return r.set(ctx, url, update)
}

// MarkPermanentFailure records a terminal failure.
func (r *repository) MarkPermanentFailure(ctx context.Context, url, errMsg string) error {
	update := bson.M{"$set": bson.M{
		"status":                model.StatusFailedPermanent,
		"processing.error_msg": errMsg,
		"updated_at":            time.Now().UTC(),
	}}
	return r.set(ctx, url, update)
}

func (r *repository) set(ctx context.Context, url string, update bson.M) error {
	_, err := r.mod.Collection.UpdateOne(ctx, bson.M{"url": url}, update)
	if err != nil {
		return model.WrapKind(model.ErrStoreUnavailable, err, "update record")
	}
	return nil
}

// Get reads a single record by its normalized URL. Returns nil, nil if no
// record exists for the URL.
func (r *repository) Get(ctx context.Context, url string) (*model.Record, error) {
	rec := new(model.Record)
	sr := r.mod.Collection.FindOne(ctx, bson.M{"url": url})
	if err := sr.Err(); err == mongo.ErrNoDocuments {
		return nil, nil
	} else if err != nil {
		return nil, model.WrapKind(model.ErrStoreUnavailable, err, "get record")
	}
	if err := sr.Decode(rec); err != nil {
		return nil, model.WrapKind(model.ErrStoreUnavailable, err, "decode record")
	}
	return rec, nil
}

// Ping performs a liveness check against the underlying store.
func (r *repository) Ping(ctx context.Context) error {
	if err := r.op.Ping(); err != nil {
		return model.WrapKind(model.ErrStoreUnavailable, err, "store ping")
	}
	return nil
}

// Close releases the underlying store connection.
func (r *repository) Close(ctx context.Context) error {
	return r.op.Close(ctx)
}

func returnAfter() *options.ReturnDocument {
	v := options.After
	return &v
}
