// Package archive keeps an append-only history of presence transitions in
// MongoDB. Presence records themselves are never deleted from the keyed
// store; the archive preserves how they changed over time.
package archive

import (
	"context"
	"time"

	"github.com/pulsekit/presence/data/presence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Instance interface {
	// Record appends one observed transition.
	Record(ctx context.Context, userID string, rec presence.Record) error
	// History returns the most recent transitions for userID, newest first.
	History(ctx context.Context, userID string, limit int64) ([]Transition, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type Transition struct {
	UserID string          `bson:"user_id"`
	Record presence.Record `bson:"record"`
	At     time.Time       `bson:"at"`
}

type Options struct {
	URI        string
	DB         string
	Collection string
	Direct     bool
}

type inst struct {
	client *mongo.Client
	col    *mongo.Collection
}

func New(ctx context.Context, opt Options) (Instance, error) {
	clientOpt := options.Client().ApplyURI(opt.URI)
	if opt.Direct {
		clientOpt.SetDirect(true)
	}

	client, err := mongo.Connect(ctx, clientOpt)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	col := client.Database(opt.DB).Collection(opt.Collection)

	_, err = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "at", Value: -1}},
	})
	if err != nil {
		return nil, err
	}

	return &inst{
		client: client,
		col:    col,
	}, nil
}

func (a *inst) Record(ctx context.Context, userID string, rec presence.Record) error {
	_, err := a.col.InsertOne(ctx, Transition{
		UserID: userID,
		Record: rec,
		At:     time.Now(),
	})

	return err
}

func (a *inst) History(ctx context.Context, userID string, limit int64) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}

	cur, err := a.col.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}

	items := make([]Transition, 0)
	if err := cur.All(ctx, &items); err != nil {
		return nil, err
	}

	return items, nil
}

func (a *inst) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, nil)
}

func (a *inst) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
