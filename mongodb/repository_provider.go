package mongodb

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/oauth2"
)

// RepositoryProvider builds the full set of MongoDB-backed repositories over
// one database handle.
type RepositoryProvider struct {
	db *mongo.Database

	clients     *ClientRepository
	tokens      *TokenRepository
	authCodes   *AuthCodeRepository
	deviceAuths *DeviceAuthRepository
	users       *UserRepository
	scopes      *ScopeRepository
	keys        *PublicKeyRepository
	jtis        *JtiRepository
}

// NewRepositoryProvider creates every repository and ensures the indexes the
// engine's consistency contract depends on.
func NewRepositoryProvider(ctx context.Context, db *mongo.Database) (*RepositoryProvider, error) {
	p := &RepositoryProvider{
		db:          db,
		clients:     NewClientRepository(db),
		tokens:      NewTokenRepository(db),
		authCodes:   NewAuthCodeRepository(db),
		deviceAuths: NewDeviceAuthRepository(db),
		users:       NewUserRepository(db),
		scopes:      NewScopeRepository(db),
		keys:        NewPublicKeyRepository(db),
		jtis:        NewJtiRepository(db),
	}

	if err := p.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Storage wires the repositories into the engine's collaborator slots.
func (p *RepositoryProvider) Storage() *oauth2.Storage {
	return &oauth2.Storage{
		Clients:     p.clients,
		Tokens:      p.tokens,
		AuthCodes:   p.authCodes,
		DeviceAuths: p.deviceAuths,
		Users:       p.users,
		Scopes:      p.scopes,
		Keys:        p.keys,
		UserClaims:  p.users,
		Jti:         p.jtis,
	}
}

// Users returns the user repository for account provisioning.
func (p *RepositoryProvider) Users() *UserRepository { return p.users }

// Scopes returns the scope repository for scope provisioning.
func (p *RepositoryProvider) Scopes() *ScopeRepository { return p.scopes }

// Keys returns the key repository for key provisioning.
func (p *RepositoryProvider) Keys() *PublicKeyRepository { return p.keys }

func (p *RepositoryProvider) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexes := map[string][]mongo.IndexModel{
		TokensCollection: {
			{
				Keys:    bson.D{{Key: "token_value", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
		CodesCollection: {
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
		DeviceAuthCollection: {
			{
				Keys:    bson.D{{Key: "device_code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "user_code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		ClientsCollection: {
			{
				Keys:    bson.D{{Key: "client_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		UsersCollection: {
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		JtisCollection: {
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
	}

	for collection, models := range indexes {
		if _, err := p.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			log.Error().Err(err).Str("collection", collection).Msg("failed to create indexes")
			return err
		}
	}
	return nil
}
