package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// jtiDoc records one seen JWT id. A TTL index on expires_at lets MongoDB
// evict entries once the token they belong to can no longer be replayed.
type jtiDoc struct {
	ID        string    `bson:"_id"` // clientID:jti
	ClientID  string    `bson:"client_id"`
	Jti       string    `bson:"jti"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// JtiRepository implements oauth2.JtiRepository on MongoDB.
type JtiRepository struct {
	coll *mongo.Collection
}

// NewJtiRepository creates a JtiRepository.
func NewJtiRepository(db *mongo.Database) *JtiRepository {
	return &JtiRepository{
		coll: db.Collection(JtisCollection),
	}
}

// HasJti implements oauth2.JtiRepository.
func (r *JtiRepository) HasJti(ctx context.Context, clientID, jti string) (bool, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{
		"_id":        clientID + ":" + jti,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetJti implements oauth2.JtiRepository. Inserting on the composite _id
// makes the check-and-set atomic: a concurrent second insert fails with a
// duplicate key error.
func (r *JtiRepository) SetJti(ctx context.Context, clientID, jti string, expiresAt time.Time) error {
	_, err := r.coll.InsertOne(ctx, jtiDoc{
		ID:        clientID + ":" + jti,
		ClientID:  clientID,
		Jti:       jti,
		ExpiresAt: expiresAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}
