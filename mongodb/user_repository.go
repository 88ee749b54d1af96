package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/oauth2"
)

// User is the stored resource-owner document.
type User struct {
	ID           string         `bson:"_id"`
	Username     string         `bson:"username"`
	PasswordHash string         `bson:"password_hash"`
	Claims       map[string]any `bson:"claims,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
}

// UserRepository implements oauth2.UserCredentialsRepository and
// oauth2.UserClaimsRepository on MongoDB. Passwords are bcrypt hashed.
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		coll: db.Collection(UsersCollection),
	}
}

// CreateUser registers a new resource owner and returns its id.
func (r *UserRepository) CreateUser(ctx context.Context, username, password string, claims map[string]any) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Claims:       claims,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("user %q already exists", username)
		}
		return "", err
	}
	return user.ID, nil
}

// CheckUserCredentials implements oauth2.UserCredentialsRepository.
func (r *UserRepository) CheckUserCredentials(ctx context.Context, username, password string) (string, error) {
	var user User
	err := r.coll.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("unknown user")
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}
	return user.ID, nil
}

// GetUserClaims implements oauth2.UserClaimsRepository. Claims beyond sub are
// released only when a scope covering them was granted.
func (r *UserRepository) GetUserClaims(ctx context.Context, userID, scope string) (map[string]any, error) {
	var user User
	err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("unknown user")
		}
		return nil, err
	}

	claims := map[string]any{"sub": user.ID}
	for name, value := range user.Claims {
		if claimAllowedByScope(name, scope) {
			claims[name] = value
		}
	}
	return claims, nil
}

// claimAllowedByScope maps standard OpenID Connect scopes onto the claims
// they release.
func claimAllowedByScope(claim, scope string) bool {
	var required string
	switch claim {
	case "email", "email_verified":
		required = "email"
	case "address":
		required = "address"
	case "phone_number", "phone_number_verified":
		required = "phone"
	default:
		required = "profile"
	}
	return oauth2.HasScope(scope, required)
}
