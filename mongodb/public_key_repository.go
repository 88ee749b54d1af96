package mongodb

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// keyDoc stores one RSA key pair, PEM encoded. The document id is the client
// the key belongs to; the server-wide key uses an empty id.
type keyDoc struct {
	ClientID   string    `bson:"_id"`
	PrivatePEM string    `bson:"private_pem,omitempty"`
	PublicPEM  string    `bson:"public_pem"`
	Algorithm  string    `bson:"algorithm"`
	CreatedAt  time.Time `bson:"created_at"`
}

// PublicKeyRepository implements oauth2.PublicKeyRepository on MongoDB.
type PublicKeyRepository struct {
	coll *mongo.Collection
}

// NewPublicKeyRepository creates a PublicKeyRepository.
func NewPublicKeyRepository(db *mongo.Database) *PublicKeyRepository {
	return &PublicKeyRepository{
		coll: db.Collection(PublicKeysCollection),
	}
}

// StoreKey persists an RSA key pair for a client. An empty clientID stores
// the server-wide key.
func (r *PublicKeyRepository) StoreKey(ctx context.Context, clientID string, key *rsa.PrivateKey, alg string) error {
	if alg == "" {
		alg = "RS256"
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}

	doc := keyDoc{
		ClientID:   clientID,
		PrivatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
		PublicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})),
		Algorithm:  alg,
		CreatedAt:  time.Now().UTC(),
	}

	opts := options.Replace().SetUpsert(true)
	_, err = r.coll.ReplaceOne(ctx, bson.M{"_id": clientID}, doc, opts)
	return err
}

func (r *PublicKeyRepository) getKeyDoc(ctx context.Context, clientID string) (*keyDoc, error) {
	var doc keyDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": clientID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("no key registered for client %q", clientID)
		}
		return nil, err
	}
	return &doc, nil
}

// GetPublicKey implements oauth2.PublicKeyRepository.
func (r *PublicKeyRepository) GetPublicKey(ctx context.Context, clientID string) (*rsa.PublicKey, error) {
	doc, err := r.getKeyDoc(ctx, clientID)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode([]byte(doc.PublicPEM))
	if block == nil {
		return nil, errors.New("stored public key is not valid PEM")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	publicKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("stored public key is not RSA")
	}
	return publicKey, nil
}

// GetPrivateKey implements oauth2.PublicKeyRepository.
func (r *PublicKeyRepository) GetPrivateKey(ctx context.Context, clientID string) (*rsa.PrivateKey, error) {
	doc, err := r.getKeyDoc(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if doc.PrivatePEM == "" {
		return nil, fmt.Errorf("no private key stored for client %q", clientID)
	}

	block, _ := pem.Decode([]byte(doc.PrivatePEM))
	if block == nil {
		return nil, errors.New("stored private key is not valid PEM")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return privateKey, nil
}

// GetEncryptionAlgorithm implements oauth2.PublicKeyRepository.
func (r *PublicKeyRepository) GetEncryptionAlgorithm(ctx context.Context, clientID string) (string, error) {
	doc, err := r.getKeyDoc(ctx, clientID)
	if err != nil {
		return "", err
	}
	return doc.Algorithm, nil
}
