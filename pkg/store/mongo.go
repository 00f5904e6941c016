package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/models"
)

const defaultMongoDatabase = "cliaas"

// MongoStore persists records as documents keyed by (source, external_id)
type MongoStore struct {
	client   *mongo.Client
	tickets  *mongo.Collection
	messages *mongo.Collection
	cursors  *mongo.Collection
}

// NewMongoStore connects to uri and ensures the unique indexes exist
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "store: mongo requires a dsn")
	}
	if database == "" {
		database = defaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "store: failed to connect to mongo")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "store: failed to ping mongo")
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		tickets:  db.Collection("tickets"),
		messages: db.Collection("messages"),
		cursors:  db.Collection("cursors"),
	}
	unique := mongo.IndexModel{
		Keys:    bson.D{{Key: "source", Value: 1}, {Key: "external_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	for _, coll := range []*mongo.Collection{s.tickets, s.messages} {
		if _, err := coll.Indexes().CreateOne(ctx, unique); err != nil {
			_ = client.Disconnect(ctx)
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "store: failed to create index")
		}
	}
	return s, nil
}

// LoadCursor implements Store
func (s *MongoStore) LoadCursor(ctx context.Context, connector string) (models.Cursor, error) {
	var doc struct {
		Cursor string `bson:"cursor"`
	}
	err := s.cursors.FindOne(ctx, bson.D{{Key: "_id", Value: connector}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "store: failed to load cursor")
	}
	return models.Cursor(doc.Cursor), nil
}

// SaveCursor implements Store
func (s *MongoStore) SaveCursor(ctx context.Context, connector string, cursor models.Cursor) error {
	_, err := s.cursors.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: connector}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "cursor", Value: string(cursor)},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
		options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "store: failed to save cursor")
	}
	return nil
}

// UpsertTickets implements Store
func (s *MongoStore) UpsertTickets(ctx context.Context, tickets []models.Ticket) error {
	writes := make([]mongo.WriteModel, 0, len(tickets))
	for _, t := range tickets {
		writes = append(writes, replaceByKey(t.Source, t.ExternalID, t))
	}
	return s.bulk(ctx, s.tickets, writes, "tickets")
}

// UpsertMessages implements Store
func (s *MongoStore) UpsertMessages(ctx context.Context, messages []models.Message) error {
	writes := make([]mongo.WriteModel, 0, len(messages))
	for _, m := range messages {
		writes = append(writes, replaceByKey(m.Source, m.ExternalID, m))
	}
	return s.bulk(ctx, s.messages, writes, "messages")
}

func (s *MongoStore) bulk(ctx context.Context, coll *mongo.Collection, writes []mongo.WriteModel, kind string) error {
	if len(writes) == 0 {
		return nil
	}
	if _, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "store: failed to upsert "+kind)
	}
	return nil
}

func replaceByKey(source, externalID string, doc interface{}) mongo.WriteModel {
	return mongo.NewReplaceOneModel().
		SetFilter(bson.D{{Key: "source", Value: source}, {Key: "external_id", Value: externalID}}).
		SetReplacement(doc).
		SetUpsert(true)
}

// Close implements Store
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
