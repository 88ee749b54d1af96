// Package memory provides an in-memory implementation of every storage
// interface the engine depends on. It is used in tests and for single-node
// development servers; production deployments use the mongodb package.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.pilab.hu/oauth2"
	"go.pilab.hu/oauth2/client"
)

// Store keeps all authorization state in process memory, guarded by a single
// lock. All operations are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	clients     map[string]*client.Client
	tokens      map[string]*oauth2.Token // keyed by token value
	authCodes   map[string]*oauth2.AuthCode
	deviceAuths map[string]*oauth2.DeviceCode // keyed by device code
	userCodes   map[string]string             // user code -> device code
	users       map[string]*user              // keyed by username
	jtis        map[string]time.Time

	supportedScopes map[string]struct{}
	defaultScopes   map[string]string // per client, "" for the global default

	keys       map[string]*keyEntry // keyed by client id, "" for the server key
	userClaims map[string]map[string]any
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		clients:         make(map[string]*client.Client),
		tokens:          make(map[string]*oauth2.Token),
		authCodes:       make(map[string]*oauth2.AuthCode),
		deviceAuths:     make(map[string]*oauth2.DeviceCode),
		userCodes:       make(map[string]string),
		users:           make(map[string]*user),
		jtis:            make(map[string]time.Time),
		supportedScopes: make(map[string]struct{}),
		defaultScopes:   make(map[string]string),
		keys:            make(map[string]*keyEntry),
		userClaims:      make(map[string]map[string]any),
	}
}

// Storage wires the store into every collaborator slot of the engine.
func (s *Store) Storage() *oauth2.Storage {
	return &oauth2.Storage{
		Clients:     s,
		Tokens:      s,
		AuthCodes:   s,
		DeviceAuths: s,
		Users:       s,
		Scopes:      s,
		Keys:        s,
		UserClaims:  s,
		Jti:         s,
	}
}

// CreateClient implements client.ClientStore.
func (s *Store) CreateClient(_ context.Context, cli *client.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[cli.ID]; exists {
		return fmt.Errorf("client %q already exists", cli.ID)
	}
	s.clients[cli.ID] = cli
	return nil
}

// GetClient implements client.ClientStore.
func (s *Store) GetClient(_ context.Context, clientID string) (*client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cli, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("client %q not found", clientID)
	}
	return cli, nil
}

// UpdateClient implements client.ClientStore.
func (s *Store) UpdateClient(_ context.Context, cli *client.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[cli.ID]; !ok {
		return fmt.Errorf("client %q not found", cli.ID)
	}
	s.clients[cli.ID] = cli
	return nil
}

// DeleteClient implements client.ClientStore.
func (s *Store) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return fmt.Errorf("client %q not found", clientID)
	}
	delete(s.clients, clientID)
	return nil
}

// ListClients implements client.ClientStore.
func (s *Store) ListClients(_ context.Context) ([]*client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*client.Client, 0, len(s.clients))
	for _, cli := range s.clients {
		clients = append(clients, cli)
	}
	return clients, nil
}
