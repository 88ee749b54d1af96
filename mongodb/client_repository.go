package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/oauth2/client"
)

// ErrClientNotFound is returned when no client matches the given id.
var ErrClientNotFound = errors.New("client not found")

// ClientRepository implements the client.ClientStore interface using MongoDB.
type ClientRepository struct {
	coll *mongo.Collection
}

// NewClientRepository creates a ClientRepository.
func NewClientRepository(db *mongo.Database) *ClientRepository {
	return &ClientRepository{
		coll: db.Collection(ClientsCollection),
	}
}

// CreateClient implements the ClientStore interface.
func (s *ClientRepository) CreateClient(ctx context.Context, c *client.Client) error {
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()

	_, err := s.coll.InsertOne(ctx, c)
	return err
}

// GetClient implements the ClientStore interface.
func (s *ClientRepository) GetClient(ctx context.Context, clientID string) (*client.Client, error) {
	var cli client.Client

	err := s.coll.FindOne(ctx, bson.M{"client_id": clientID}).Decode(&cli)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	return &cli, nil
}

// UpdateClient implements the ClientStore interface.
func (s *ClientRepository) UpdateClient(ctx context.Context, c *client.Client) error {
	c.UpdatedAt = time.Now()

	result, err := s.coll.ReplaceOne(ctx, bson.M{"client_id": c.ID}, c)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("update failed: %w", ErrClientNotFound)
	}
	return nil
}

// DeleteClient implements the ClientStore interface.
func (s *ClientRepository) DeleteClient(ctx context.Context, clientID string) error {
	result, err := s.coll.DeleteOne(ctx, bson.M{"client_id": clientID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("delete failed: %w", ErrClientNotFound)
	}
	return nil
}

// ListClients implements the ClientStore interface.
func (s *ClientRepository) ListClients(ctx context.Context) ([]*client.Client, error) {
	cursor, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var clients []*client.Client
	if err := cursor.All(ctx, &clients); err != nil {
		return nil, err
	}

	return clients, nil
}
