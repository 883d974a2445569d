// Package mongo implements the low-level MongoDB client used by the run store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/royalbadminton/streakbot/runtime/agent/runlog"
)

type (
	// Client exposes Mongo-backed operations for run records.
	Client interface {
		health.Pinger

		Save(ctx context.Context, r *runlog.Record) error
		Get(ctx context.Context, id string) (*runlog.Record, error)
		List(ctx context.Context, limit int) ([]*runlog.Record, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	runDocument struct {
		ID        string             `bson:"_id"`
		Trigger   string             `bson:"trigger"`
		Mode      string             `bson:"mode"`
		Status    string             `bson:"status"`
		StartedAt time.Time          `bson:"started_at"`
		EndedAt   time.Time          `bson:"ended_at,omitempty"`
		Turns     int                `bson:"turns"`
		Output    string             `bson:"output,omitempty"`
		Error     string             `bson:"error,omitempty"`
		Reminders []reminderDocument `bson:"reminders,omitempty"`
	}

	reminderDocument struct {
		ContactAddress string `bson:"contact"`
		Result         string `bson:"result"`
	}
)

const (
	defaultCollection = "streak_runs"
	defaultTimeout    = 5 * time.Second
	clientName        = "runs-mongo"
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collection)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, fmt.Errorf("ensure run indexes: %w", err)
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Save(ctx context.Context, r *runlog.Record) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	doc := toDocument(r)
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (c *client) Get(ctx context.Context, id string) (*runlog.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, runlog.ErrNotFound
		}
		return nil, err
	}
	return fromDocument(doc), nil
}

func (c *client) List(ctx context.Context, limit int) ([]*runlog.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := c.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()

	var out []*runlog.Record
	for cur.Next(ctx) {
		var doc runDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, fromDocument(doc))
	}
	return out, cur.Err()
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func toDocument(r *runlog.Record) runDocument {
	doc := runDocument{
		ID:        r.ID,
		Trigger:   r.Trigger,
		Mode:      r.Mode,
		Status:    string(r.Status),
		StartedAt: r.StartedAt.UTC(),
		EndedAt:   r.EndedAt.UTC(),
		Turns:     r.Turns,
		Output:    r.Output,
		Error:     r.Error,
	}
	for _, rem := range r.Reminders {
		doc.Reminders = append(doc.Reminders, reminderDocument{ContactAddress: rem.ContactAddress, Result: rem.Result})
	}
	return doc
}

func fromDocument(doc runDocument) *runlog.Record {
	r := &runlog.Record{
		ID:        doc.ID,
		Trigger:   doc.Trigger,
		Mode:      doc.Mode,
		Status:    runlog.Status(doc.Status),
		StartedAt: doc.StartedAt,
		EndedAt:   doc.EndedAt,
		Turns:     doc.Turns,
		Output:    doc.Output,
		Error:     doc.Error,
	}
	for _, rem := range doc.Reminders {
		r.Reminders = append(r.Reminders, runlog.Reminder{ContactAddress: rem.ContactAddress, Result: rem.Result})
	}
	return r
}

func ensureIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "started_at", Value: -1}},
		Options: options.Index().SetName("started_at_desc"),
	})
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{mongo: mongoClient, coll: coll, timeout: timeout}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
