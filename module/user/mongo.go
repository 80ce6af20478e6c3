package user

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"PGate/tools/errs"
)

const usersCollection = "users"

type MongoConfig struct {
	Uri         string
	Database    string
	Username    string
	Password    string
	MaxPoolSize int
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(ctx context.Context, cfg *MongoConfig) (*MongoStore, error) {
	if cfg.Uri == "" {
		return nil, errs.New("mongo uri is required")
	}
	opts := options.Client().ApplyURI(cfg.Uri)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cli, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo connect")
	}
	if err := cli.Ping(connectCtx, nil); err != nil {
		return nil, errs.WrapMsg(err, "mongo ping")
	}
	return &MongoStore{coll: cli.Database(cfg.Database).Collection(usersCollection)}, nil
}

func (s *MongoStore) Account(ctx context.Context, userID int64) (*Account, error) {
	var acct Account
	err := s.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&acct)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("user", "id", userID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find user", "id", userID)
	}
	return &acct, nil
}
