package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/oauth2"
)

// AuthCodeRepository implements oauth2.AuthorizationCodeRepository on
// MongoDB.
type AuthCodeRepository struct {
	coll *mongo.Collection
}

// NewAuthCodeRepository creates an AuthCodeRepository.
func NewAuthCodeRepository(db *mongo.Database) *AuthCodeRepository {
	return &AuthCodeRepository{
		coll: db.Collection(CodesCollection),
	}
}

// SaveAuthCode implements oauth2.AuthorizationCodeRepository.
func (r *AuthCodeRepository) SaveAuthCode(ctx context.Context, authCode *oauth2.AuthCode) error {
	if authCode.Code == "" {
		return errors.New("auth code value cannot be empty")
	}

	_, err := r.coll.InsertOne(ctx, authCode)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("authorization code already exists: %w", err)
		}
		log.Error().Err(err).Msg("error saving authorization code")
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	log.Debug().Str("client_id", authCode.ClientID).Str("user_id", authCode.UserID).Msg("authorization code saved")

	return nil
}

// GetAuthCode implements oauth2.AuthorizationCodeRepository.
func (r *AuthCodeRepository) GetAuthCode(ctx context.Context, codeValue string) (*oauth2.AuthCode, error) {
	var authCode oauth2.AuthCode
	err := r.coll.FindOne(ctx, bson.M{"_id": codeValue}).Decode(&authCode)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("authorization code not found")
		}
		return nil, fmt.Errorf("failed to retrieve authorization code: %w", err)
	}
	return &authCode, nil
}

// MarkAuthCodeAsUsed implements oauth2.AuthorizationCodeRepository. The
// filter requires used=false, so at most one of several concurrent
// redemptions can match.
func (r *AuthCodeRepository) MarkAuthCodeAsUsed(ctx context.Context, codeValue string) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": codeValue, "used": false},
		bson.M{"$set": bson.M{"used": true}})
	if err != nil {
		return fmt.Errorf("failed to mark authorization code as used: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("authorization code not found or already used")
	}
	return nil
}

// DeleteExpiredAuthCodes implements oauth2.AuthorizationCodeRepository.
func (r *AuthCodeRepository) DeleteExpiredAuthCodes(ctx context.Context) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	return err
}
