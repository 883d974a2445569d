package mongo

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/royalbadminton/streakbot/runtime/booking"
)

func day(s string) time.Time {
	d, err := booking.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sample(player, date string) booking.Booking {
	return booking.Booking{
		PlayerID:       player,
		PlayerName:     "Player " + player,
		ContactAddress: "whatsapp:+1" + player,
		CourtName:      "Court A",
		Date:           day(date),
		IsRegularSlot:  true,
	}
}

func TestEnsureIndexes(t *testing.T) {
	fc := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), fc))
	require.Equal(t, []string{"user_date_unique", "date_desc"}, fc.indexes)
}

func TestUpsertReportsWrites(t *testing.T) {
	c := mustNewTestClient(newFakeCollection())
	ctx := context.Background()

	wrote, err := c.Upsert(ctx, sample("p1", "2026-10-14"))
	require.NoError(t, err)
	require.True(t, wrote)

	wrote, err = c.Upsert(ctx, sample("p1", "2026-10-14"))
	require.NoError(t, err)
	require.False(t, wrote)

	changed := sample("p1", "2026-10-14")
	changed.CourtName = "Court C"
	wrote, err = c.Upsert(ctx, changed)
	require.NoError(t, err)
	require.True(t, wrote)
}

func TestRangeAndFindOne(t *testing.T) {
	fc := newFakeCollection()
	c := mustNewTestClient(fc)
	ctx := context.Background()
	for _, b := range []booking.Booking{sample("p2", "2026-10-07"), sample("p1", "2026-10-07"), sample("p1", "2026-10-14")} {
		_, err := c.Upsert(ctx, b)
		require.NoError(t, err)
	}

	var got []string
	for b, err := range c.Range(ctx, day("2026-10-01"), day("2026-10-14")) {
		require.NoError(t, err)
		got = append(got, b.Key())
	}
	require.Equal(t, []string{"p1:2026-10-07", "p2:2026-10-07"}, got)

	b, err := c.FindOne(ctx, "p1", day("2026-10-14"), day("2026-10-15"))
	require.NoError(t, err)
	require.Equal(t, "Player p1", b.PlayerName)

	_, err = c.FindOne(ctx, "p2", day("2026-10-14"), day("2026-10-15"))
	require.ErrorIs(t, err, booking.ErrNotFound)
}

func TestRangeSurfacesQueryErrors(t *testing.T) {
	fc := newFakeCollection()
	fc.findErr = errors.New("no reachable servers")
	c := mustNewTestClient(fc)

	var errs int
	for _, err := range c.Range(context.Background(), day("2026-10-01"), day("2026-10-14")) {
		require.Error(t, err)
		errs++
	}
	require.Equal(t, 1, errs)
}

func TestRecentAndDelete(t *testing.T) {
	c := mustNewTestClient(newFakeCollection())
	ctx := context.Background()
	for _, b := range []booking.Booking{sample("p1", "2026-10-01"), sample("p1", "2026-10-08"), sample("p2", "2026-10-15")} {
		_, err := c.Upsert(ctx, b)
		require.NoError(t, err)
	}

	recent, err := c.Recent(ctx, day("2026-10-02"), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "p2:2026-10-15", recent[0].Key())

	recent, err = c.Recent(ctx, time.Time{}, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	_, err = c.Recent(ctx, time.Time{}, 0)
	require.Error(t, err)

	n, err := c.DeleteByPlayer(ctx, []string{"p1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	n, err = c.DeleteByPlayer(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "mongo client is required")
	_, err = newClientWithCollection(nil, nil, time.Second)
	require.EqualError(t, err, "collection is required")
}

func mustNewTestClient(fc *fakeCollection) *client {
	cl, err := newClientWithCollection(nil, fc, time.Second)
	if err != nil {
		panic(err)
	}
	return cl
}

// fakeCollection is an in-memory collection that understands the filter
// shapes the client issues.
type fakeCollection struct {
	mu      sync.Mutex
	docs    []document
	indexes []string
	findErr error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{}
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.docs {
		if matches(d, filter.(bson.M)) {
			return fakeSingleResult{doc: d}
		}
	}
	return fakeSingleResult{err: mongodriver.ErrNoDocuments}
}

func (c *fakeCollection) Find(_ context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	if c.findErr != nil {
		return nil, c.findErr
	}
	var fo options.FindOptions
	for _, l := range opts {
		for _, set := range l.List() {
			_ = set(&fo)
		}
	}
	c.mu.Lock()
	var out []document
	for _, d := range c.docs {
		if matches(d, filter.(bson.M)) {
			out = append(out, d)
		}
	}
	c.mu.Unlock()

	desc := false
	if sort, ok := fo.Sort.(bson.D); ok && len(sort) > 0 && sort[0].Value == -1 {
		desc = true
	}
	slices.SortFunc(out, func(a, b document) int {
		c := a.Date.Compare(b.Date)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.PlayerID, b.PlayerID)
	})
	if fo.Limit != nil && int(*fo.Limit) < len(out) {
		out = out[:*fo.Limit]
	}
	return &fakeCursor{docs: out, pos: -1}, nil
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter any, update any, _ ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := filter.(bson.M)
	set := update.(bson.M)["$set"].(bson.M)
	next := document{
		PlayerID:       f["user_id"].(string),
		Date:           f["date"].(time.Time),
		PlayerName:     set["user_name"].(string),
		ContactAddress: set["whatsapp_number"].(string),
		CourtName:      set["court_name"].(string),
		IsRegularSlot:  set["is_regular_slot"].(bool),
	}
	for i, d := range c.docs {
		if d.PlayerID == next.PlayerID && d.Date.Equal(next.Date) {
			next.CreatedAt = d.CreatedAt
			if d == next {
				return &mongodriver.UpdateResult{MatchedCount: 1}, nil
			}
			c.docs[i] = next
			return &mongodriver.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	c.docs = append(c.docs, next)
	return &mongodriver.UpdateResult{UpsertedCount: 1}, nil
}

func (c *fakeCollection) DeleteMany(_ context.Context, filter any, _ ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := filter.(bson.M)["user_id"].(bson.M)["$in"].([]string)
	before := len(c.docs)
	c.docs = slices.DeleteFunc(c.docs, func(d document) bool { return slices.Contains(ids, d.PlayerID) })
	return &mongodriver.DeleteResult{DeletedCount: int64(before - len(c.docs))}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{parent: c}
}

type fakeIndexView struct {
	parent *fakeCollection
}

func (v fakeIndexView) CreateMany(_ context.Context, models []mongodriver.IndexModel, _ ...options.Lister[options.CreateIndexesOptions]) ([]string, error) {
	var names []string
	for _, m := range models {
		if len(m.Keys.(bson.D)) == 0 {
			return nil, errors.New("missing keys")
		}
		var io options.IndexOptions
		for _, set := range m.Options.List() {
			_ = set(&io)
		}
		names = append(names, *io.Name)
	}
	v.parent.mu.Lock()
	v.parent.indexes = append(v.parent.indexes, names...)
	v.parent.mu.Unlock()
	return names, nil
}

type fakeSingleResult struct {
	doc document
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	*val.(*document) = r.doc
	return nil
}

type fakeCursor struct {
	docs []document
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}

func (c *fakeCursor) Decode(val any) error {
	*val.(*document) = c.docs[c.pos]
	return nil
}

func (c *fakeCursor) Err() error                  { return nil }
func (c *fakeCursor) Close(context.Context) error { return nil }

func matches(d document, filter bson.M) bool {
	if id, ok := filter["user_id"].(string); ok && d.PlayerID != id {
		return false
	}
	if r, ok := filter["date"].(bson.M); ok {
		if gte, ok := r["$gte"].(time.Time); ok && d.Date.Before(gte) {
			return false
		}
		if lt, ok := r["$lt"].(time.Time); ok && !d.Date.Before(lt) {
			return false
		}
	}
	return true
}
