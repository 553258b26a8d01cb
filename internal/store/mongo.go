package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"marketsync/internal/domain"
)

// Compile-time interface check.
var _ Store = (*MongoStore)(nil)

const defaultMongoDatabase = "market"

// MongoStore keeps one collection per kind with a unique (code, date) index.
// The database is taken from the URI path, defaulting to "market".
//
// A non-upsert insert that collides with a stored document fails with the
// duplicate-key write error.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects, pings the primary and ensures indexes.
func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	s := &MongoStore{client: client, db: client.Database(mongoDatabase(uri))}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func mongoDatabase(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	for _, kind := range domain.AllKinds {
		keys := bson.D{{Key: "code", Value: 1}}
		if dc := kind.DateColumn(); dc != "" {
			keys = append(keys, bson.E{Key: dc, Value: 1})
		}
		_, err := s.coll(kind).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("indexing %s: %w", kind, err)
		}
	}
	return nil
}

func (s *MongoStore) coll(kind domain.Kind) *mongo.Collection {
	return s.db.Collection(string(kind))
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Insert uses InsertMany, or an unordered bulk of upserting replaces.
func (s *MongoStore) Insert(ctx context.Context, res domain.SyncResult, upsert bool) error {
	kind := res.Kind()
	recs := res.Records()

	var err error
	if upsert {
		models := make([]mongo.WriteModel, len(recs))
		for i, r := range recs {
			models[i] = mongo.NewReplaceOneModel().
				SetFilter(bson.D{{Key: "code", Value: r.RecordCode()}, {Key: kind.DateColumn(), Value: r.RecordDate()}}).
				SetReplacement(r).
				SetUpsert(true)
		}
		_, err = s.coll(kind).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	} else {
		docs := make([]any, len(recs))
		for i, r := range recs {
			docs[i] = r
		}
		_, err = s.coll(kind).InsertMany(ctx, docs)
	}
	if err != nil {
		return fmt.Errorf("inserting %s for %s: %w", kind, res.Symbol().Code, err)
	}
	return nil
}

// Latest finds the newest document for the code.
func (s *MongoStore) Latest(ctx context.Context, kind domain.Kind, code string) (time.Time, bool, error) {
	if err := checkSeries(kind); err != nil {
		return time.Time{}, false, err
	}
	dc := kind.DateColumn()
	raw, err := s.coll(kind).FindOne(ctx, bson.M{"code": code},
		options.FindOne().SetSort(bson.D{{Key: dc, Value: -1}}).SetProjection(bson.M{dc: 1})).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, ok := raw.Lookup(dc).TimeOK()
	if !ok {
		return time.Time{}, false, fmt.Errorf("%w: %s %s has no %s datetime", domain.ErrMalformed, kind, code, dc)
	}
	return domain.Day(t), true, nil
}

// LoadDaily runs the query as a filtered, sorted find.
func (s *MongoStore) LoadDaily(ctx context.Context, kind domain.Kind, q domain.Query) ([]domain.Bar, error) {
	if err := checkBars(kind); err != nil {
		return nil, err
	}
	filter := bson.M{"code": q.Code}
	date := bson.M{}
	if !q.Since.IsZero() {
		date["$gte"] = q.Since
	}
	if !q.Until.IsZero() {
		date["$lte"] = q.Until
	}
	if len(date) > 0 {
		filter["trade_date"] = date
	}
	order := 1
	if q.Desc {
		order = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "trade_date", Value: order}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.coll(kind).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var bars []domain.Bar
	if err := cur.All(ctx, &bars); err != nil {
		return nil, err
	}
	for i := range bars {
		bars[i].TradeDate = domain.Day(bars[i].TradeDate)
	}
	return bars, nil
}

// SaveSymbols upserts one document per code.
func (s *MongoStore) SaveSymbols(ctx context.Context, kind domain.Kind, symbols []domain.Symbol) error {
	if err := checkInfo(kind); err != nil {
		return err
	}
	if len(symbols) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, len(symbols))
	for i, sym := range symbols {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"code": sym.Code}).
			SetReplacement(sym).
			SetUpsert(true)
	}
	_, err := s.coll(kind).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	return err
}

// LoadSymbols returns the list sorted by code.
func (s *MongoStore) LoadSymbols(ctx context.Context, kind domain.Kind) ([]domain.Symbol, error) {
	if err := checkInfo(kind); err != nil {
		return nil, err
	}
	cur, err := s.coll(kind).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "code", Value: 1}}).SetProjection(bson.M{"_id": 0}))
	if err != nil {
		return nil, err
	}
	var out []domain.Symbol
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
