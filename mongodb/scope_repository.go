package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/oauth2"
)

// scopeDoc stores one supported scope token, with an optional per-client
// default marker.
type scopeDoc struct {
	Name      string `bson:"_id"`
	Default   bool   `bson:"default,omitempty"`
	DefaultOf string `bson:"default_of,omitempty"`
}

// ScopeRepository implements oauth2.ScopeRepository on MongoDB.
type ScopeRepository struct {
	coll *mongo.Collection
}

// NewScopeRepository creates a ScopeRepository.
func NewScopeRepository(db *mongo.Database) *ScopeRepository {
	return &ScopeRepository{
		coll: db.Collection(ScopesCollection),
	}
}

// AddScope registers a supported scope token.
func (r *ScopeRepository) AddScope(ctx context.Context, name string) error {
	opts := options.Update().SetUpsert(true)
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$setOnInsert": scopeDoc{Name: name}},
		opts)
	return err
}

// ScopeExists implements oauth2.ScopeRepository.
func (r *ScopeRepository) ScopeExists(ctx context.Context, scope string) (bool, error) {
	tokens := oauth2.ParseScope(scope)
	if len(tokens) == 0 {
		return true, nil
	}

	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": tokens}})
	if err != nil {
		return false, err
	}
	return count == int64(len(tokens)), nil
}

// GetDefaultScope implements oauth2.ScopeRepository. Per-client defaults win
// over the server-wide default.
func (r *ScopeRepository) GetDefaultScope(ctx context.Context, clientID string) (string, error) {
	if clientID != "" {
		scope, err := r.defaultScope(ctx, bson.M{"default_of": clientID})
		if err != nil {
			return "", err
		}
		if scope != "" {
			return scope, nil
		}
	}
	return r.defaultScope(ctx, bson.M{"default": true})
}

func (r *ScopeRepository) defaultScope(ctx context.Context, filter bson.M) (string, error) {
	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return "", err
	}
	defer cursor.Close(ctx)

	var docs []scopeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return "", err
	}

	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	return oauth2.JoinScope(names), nil
}

// GetSupportedScopes implements oauth2.ScopeRepository.
func (r *ScopeRepository) GetSupportedScopes(ctx context.Context) ([]string, error) {
	cursor, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []scopeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	return names, nil
}
