package source

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultConnectTimeout bounds server selection and the startup ping.
const DefaultConnectTimeout = 5 * time.Second

// Connect opens a client and pings the primary so an unreachable server
// fails at startup instead of on the first query.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, &Error{Code: CodeUnreachable, Err: fmt.Errorf("connect: %w", err)}
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, &Error{Code: CodeUnreachable, Err: fmt.Errorf("ping: %w", err)}
	}
	return client, nil
}

// MongoFinder implements Finder on one database.
type MongoFinder struct {
	db *mongo.Database
}

// NewMongoFinder returns a finder over db.
func NewMongoFinder(db *mongo.Database) *MongoFinder {
	return &MongoFinder{db: db}
}

func (f *MongoFinder) Find(ctx context.Context, q Query) ([]map[string]any, error) {
	cur, err := f.db.Collection(q.Collection).Find(ctx, pageFilter(q), pageOptions(q))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx) //nolint:errcheck // read errors surface from All

	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, err
	}
	docs := make([]map[string]any, len(raw))
	for i, d := range raw {
		docs[i] = normalizeMap(d)
	}
	return docs, nil
}

func pageFilter(q Query) bson.D {
	filter := bson.D{{Key: "updatedAt", Value: bson.D{{Key: "$gt", Value: q.Cutoff}}}}
	if q.AfterID == "" {
		return filter
	}
	var after any = q.AfterID
	if oid, err := primitive.ObjectIDFromHex(q.AfterID); err == nil {
		after = oid
	}
	return append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$gt", Value: after}}})
}

func pageOptions(q Query) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}
