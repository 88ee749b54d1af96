package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/oauth2"
	serrors "go.pilab.hu/oauth2/errors"
)

// DeviceAuthRepository implements oauth2.DeviceAuthorizationRepository on
// MongoDB.
type DeviceAuthRepository struct {
	coll *mongo.Collection
}

// NewDeviceAuthRepository creates a DeviceAuthRepository.
func NewDeviceAuthRepository(db *mongo.Database) *DeviceAuthRepository {
	return &DeviceAuthRepository{
		coll: db.Collection(DeviceAuthCollection),
	}
}

// SaveDeviceAuth implements oauth2.DeviceAuthorizationRepository.
func (r *DeviceAuthRepository) SaveDeviceAuth(ctx context.Context, auth *oauth2.DeviceCode) error {
	_, err := r.coll.InsertOne(ctx, auth)
	return err
}

// GetDeviceAuthByDeviceCode implements oauth2.DeviceAuthorizationRepository.
func (r *DeviceAuthRepository) GetDeviceAuthByDeviceCode(ctx context.Context, deviceCode string) (*oauth2.DeviceCode, error) {
	var result oauth2.DeviceCode

	err := r.coll.FindOne(ctx, bson.M{"device_code": deviceCode}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrDeviceCodeNotFound
		}
		return nil, err
	}

	return &result, nil
}

// GetDeviceAuthByUserCode implements oauth2.DeviceAuthorizationRepository.
// Expired authorizations are not returned; the user-facing page should treat
// them as unknown codes.
func (r *DeviceAuthRepository) GetDeviceAuthByUserCode(ctx context.Context, userCode string) (*oauth2.DeviceCode, error) {
	var result oauth2.DeviceCode
	filter := bson.M{
		"user_code":  userCode,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}
	err := r.coll.FindOne(ctx, filter).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrUserCodeNotFound
		}
		return nil, err
	}
	return &result, nil
}

// ApproveDeviceAuth implements oauth2.DeviceAuthorizationRepository. The
// filter only matches a pending, unexpired authorization, so approval is a
// single atomic transition.
func (r *DeviceAuthRepository) ApproveDeviceAuth(ctx context.Context, userCode, userID string) (*oauth2.DeviceCode, error) {
	filter := bson.M{
		"user_code":  userCode,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
		"status":     oauth2.DeviceCodeStatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"status":  oauth2.DeviceCodeStatusAuthorized,
			"user_id": userID,
		},
	}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated oauth2.DeviceCode
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrCannotApproveDeviceAuth
		}
		return nil, err
	}

	return &updated, nil
}

// DenyDeviceAuth implements oauth2.DeviceAuthorizationRepository.
func (r *DeviceAuthRepository) DenyDeviceAuth(ctx context.Context, userCode string) error {
	filter := bson.M{
		"user_code": userCode,
		"status":    oauth2.DeviceCodeStatusPending,
	}
	update := bson.M{"$set": bson.M{"status": oauth2.DeviceCodeStatusDenied}}

	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrCannotApproveDeviceAuth
	}
	return nil
}

// UpdateDeviceAuthStatus implements oauth2.DeviceAuthorizationRepository.
func (r *DeviceAuthRepository) UpdateDeviceAuthStatus(ctx context.Context, deviceCode string, status oauth2.DeviceCodeStatus) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"device_code": deviceCode},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrDeviceCodeNotFound
	}
	return nil
}

// UpdateDeviceAuthLastPolledAt implements oauth2.DeviceAuthorizationRepository.
func (r *DeviceAuthRepository) UpdateDeviceAuthLastPolledAt(ctx context.Context, deviceCode string) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"device_code": deviceCode},
		bson.M{"$set": bson.M{"last_polled_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrDeviceCodeNotFound
	}
	return nil
}

// DeleteExpiredDeviceAuths implements oauth2.DeviceAuthorizationRepository.
func (r *DeviceAuthRepository) DeleteExpiredDeviceAuths(ctx context.Context) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	return err
}
