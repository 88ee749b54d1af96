// Package mongodb implements the engine's storage interfaces on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

// Collection names used by the repositories.
const (
	ClientsCollection    = "oauth_clients"
	TokensCollection     = "oauth_tokens"
	CodesCollection      = "oauth_auth_codes"
	DeviceAuthCollection = "oauth_device_authorizations"
	UsersCollection      = "oauth_users"
	ScopesCollection     = "oauth_scopes"
	PublicKeysCollection = "oauth_public_keys"
	JtisCollection       = "oauth_jtis"
)

// Connect opens an instrumented MongoDB connection and verifies it with a
// ping.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}

	log.Info().Str("database", dbName).Msg("connected to MongoDB")

	return cli.Database(dbName), nil
}

// Disconnect closes the client behind the database handle.
func Disconnect(ctx context.Context, db *mongo.Database) {
	if db == nil {
		return
	}
	if err := db.Client().Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("error closing MongoDB connection")
	}
}

// Ping verifies the connection, for health checks.
func Ping(ctx context.Context, db *mongo.Database) error {
	if db == nil {
		return errors.New("mongodb database is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Client().Ping(pingCtx, readpref.Primary())
}
