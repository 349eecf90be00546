// Package mongo implements the snapshot store for MongoDB.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/store"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// mongoSnapshot is the stored form of a snapshot. The transfer list is kept
// as JSON because decimal amounts have no native bson representation.
type mongoSnapshot struct {
	Taken   time.Time         `bson:"taken"`
	Since   time.Time         `bson:"since"`
	Partial bool              `bson:"partial"`
	Failed  []string          `bson:"failed,omitempty"`
	Errors  map[string]string `bson:"errors,omitempty"`
	Txs     string            `bson:"txs"`
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// Close will close the database connection. Must be called at termination time.
func (m *Mongo) Close() error {
	return m.c.Disconnect(context.Background())
}

// SaveSnapshot upserts s as the latest snapshot and appends it to the history
// collection.
func (m *Mongo) SaveSnapshot(ctx context.Context, s *store.Snapshot) error {
	body, err := json.Marshal(s.Txs)
	if err != nil {
		return fmt.Errorf("could not encode snapshot: %w", err)
	}

	ms := mongoSnapshot{Taken: s.Taken, Since: s.Since, Partial: s.Partial, Failed: s.Failed, Errors: s.Errors, Txs: string(body)}

	_, err = m.c.Database("agg").Collection("latest").UpdateOne(ctx,
		bson.D{}, // filter
		bson.D{
			{
				Key: "$set", Value: bson.D{
					{Key: "taken", Value: ms.Taken},
					{Key: "since", Value: ms.Since},
					{Key: "partial", Value: ms.Partial},
					{Key: "failed", Value: ms.Failed},
					{Key: "errors", Value: ms.Errors},
					{Key: "txs", Value: ms.Txs},
				},
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save snapshot in db: %w", err)
	}

	if _, err = m.c.Database("agg").Collection("history").InsertOne(ctx, ms); err != nil {
		return fmt.Errorf("could not save snapshot history in db: %w", err)
	}

	return nil
}

// LoadSnapshot loads the latest snapshot from db.
func (m *Mongo) LoadSnapshot(ctx context.Context) (*store.Snapshot, error) {
	var ms mongoSnapshot

	sr := m.c.Database("agg").Collection("latest").FindOne(ctx, bson.D{})

	err := sr.Decode(&ms)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return nil, store.ErrNoSnapshot
	}

	if err != nil {
		return nil, fmt.Errorf("could not load snapshot from db: %w", err)
	}

	s := store.Snapshot{Taken: ms.Taken, Since: ms.Since, Partial: ms.Partial, Failed: ms.Failed, Errors: ms.Errors, Txs: []types.Transaction{}}
	if err = json.Unmarshal([]byte(ms.Txs), &s.Txs); err != nil {
		return nil, fmt.Errorf("could not decode snapshot: %w", err)
	}

	return &s, nil
}
