// Package mongo implements the low-level MongoDB client used by the booking
// store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/royalbadminton/streakbot/runtime/booking"
)

const (
	defaultCollection = "bookings"
	defaultTimeout    = 5 * time.Second
	clientName        = "bookings-mongo"
)

// Client exposes Mongo-backed booking operations. Arguments are expected to be
// validated and normalized by the caller.
type Client interface {
	health.Pinger

	Upsert(ctx context.Context, b booking.Booking) (bool, error)
	Range(ctx context.Context, start, end time.Time) iter.Seq2[booking.Booking, error]
	FindOne(ctx context.Context, playerID string, start, end time.Time) (booking.Booking, error)
	DeleteByPlayer(ctx context.Context, playerIDs []string) (int64, error)
	Recent(ctx context.Context, since time.Time, limit int) ([]booking.Booking, error)
}

// Options configures the Mongo client implementation.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// document is the stored shape of a booking. Field names match the documents
// written by the booking portal.
type document struct {
	PlayerID       string    `bson:"user_id"`
	PlayerName     string    `bson:"user_name"`
	ContactAddress string    `bson:"whatsapp_number"`
	CourtName      string    `bson:"court_name"`
	Date           time.Time `bson:"date"`
	IsRegularSlot  bool      `bson:"is_regular_slot"`
	CreatedAt      time.Time `bson:"created_at,omitempty"`
}

// New returns a Client backed by the provided MongoDB client. It creates the
// collection indexes.
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
		return nil, fmt.Errorf("ensure booking indexes: %w", err)
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Upsert(ctx context.Context, b booking.Booking) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"user_id": b.PlayerID, "date": b.Date}
	update := bson.M{
		"$set": bson.M{
			"user_name":       b.PlayerName,
			"whatsapp_number": b.ContactAddress,
			"court_name":      b.CourtName,
			"is_regular_slot": b.IsRegularSlot,
		},
		"$setOnInsert": bson.M{
			"created_at": time.Now().UTC(),
		},
	}
	res, err := c.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0 || res.ModifiedCount > 0, nil
}

func (c *client) Range(ctx context.Context, start, end time.Time) iter.Seq2[booking.Booking, error] {
	return func(yield func(booking.Booking, error) bool) {
		filter := bson.M{"date": bson.M{"$gte": start, "$lt": end}}
		opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "user_id", Value: 1}})
		cur, err := c.coll.Find(ctx, filter, opts)
		if err != nil {
			yield(booking.Booking{}, err)
			return
		}
		defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()
		for cur.Next(ctx) {
			var doc document
			if err := cur.Decode(&doc); err != nil {
				yield(booking.Booking{}, fmt.Errorf("decode booking: %w", err))
				return
			}
			if !yield(fromDocument(doc), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(booking.Booking{}, err)
		}
	}
}

func (c *client) FindOne(ctx context.Context, playerID string, start, end time.Time) (booking.Booking, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"user_id": playerID, "date": bson.M{"$gte": start, "$lt": end}}
	var doc document
	if err := c.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return booking.Booking{}, booking.ErrNotFound
		}
		return booking.Booking{}, err
	}
	return fromDocument(doc), nil
}

func (c *client) DeleteByPlayer(ctx context.Context, playerIDs []string) (int64, error) {
	if len(playerIDs) == 0 {
		return 0, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.coll.DeleteMany(ctx, bson.M{"user_id": bson.M{"$in": playerIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *client) Recent(ctx context.Context, since time.Time, limit int) ([]booking.Booking, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	if !since.IsZero() {
		filter["date"] = bson.M{"$gte": since}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}, {Key: "user_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()

	out := make([]booking.Booking, 0, limit)
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode booking: %w", err)
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

func fromDocument(doc document) booking.Booking {
	return booking.Booking{
		PlayerID:       doc.PlayerID,
		PlayerName:     doc.PlayerName,
		ContactAddress: doc.ContactAddress,
		CourtName:      doc.CourtName,
		Date:           booking.Day(doc.Date),
		IsRegularSlot:  doc.IsRegularSlot,
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("user_date_unique"),
		},
		{
			Keys:    bson.D{{Key: "date", Value: -1}},
			Options: options.Index().SetName("date_desc"),
		},
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
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error)
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

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteMany(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error) {
	return v.view.CreateMany(ctx, models, opts...)
}
