package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/oauth2"
)

// TokenRepository implements oauth2.TokenRepository on MongoDB. Revocation
// and expiry flags are returned as stored; validity decisions stay in the
// engine.
type TokenRepository struct {
	coll *mongo.Collection
}

// NewTokenRepository creates a TokenRepository.
func NewTokenRepository(db *mongo.Database) *TokenRepository {
	return &TokenRepository{
		coll: db.Collection(TokensCollection),
	}
}

// StoreToken implements oauth2.TokenRepository.
func (r *TokenRepository) StoreToken(ctx context.Context, token *oauth2.Token) error {
	_, err := r.coll.InsertOne(ctx, token)
	return err
}

func (r *TokenRepository) getToken(ctx context.Context, tokenValue, tokenType string) (*oauth2.Token, error) {
	var token oauth2.Token
	err := r.coll.FindOne(ctx, bson.M{
		"token_value": tokenValue,
		"token_type":  tokenType,
	}).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("token not found")
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// GetAccessToken implements oauth2.TokenRepository.
func (r *TokenRepository) GetAccessToken(ctx context.Context, tokenValue string) (*oauth2.Token, error) {
	return r.getToken(ctx, tokenValue, "access_token")
}

// GetRefreshToken implements oauth2.TokenRepository.
func (r *TokenRepository) GetRefreshToken(ctx context.Context, tokenValue string) (*oauth2.Token, error) {
	return r.getToken(ctx, tokenValue, "refresh_token")
}

// RevokeToken implements oauth2.TokenRepository.
func (r *TokenRepository) RevokeToken(ctx context.Context, tokenValue string) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"token_value": tokenValue},
		bson.M{"$set": bson.M{"is_revoked": true}})
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("token not found")
	}
	return nil
}

// UnsetRefreshToken implements oauth2.TokenRepository. The token is deleted
// outright so a rotated refresh token cannot be replayed.
func (r *TokenRepository) UnsetRefreshToken(ctx context.Context, tokenValue string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{
		"token_value": tokenValue,
		"token_type":  "refresh_token",
	})
	return err
}

// DeleteExpiredTokens implements oauth2.TokenRepository.
func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	return err
}
