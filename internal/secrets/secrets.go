// Package secrets stores Mindney API credentials outside the config file.
// On macOS, credentials live in the system Keychain. On other platforms the
// default store is a no-op and credentials must come from config or the
// environment.
package secrets

import (
	"errors"
	"sync"
)

// ServiceName is the keychain service under which Mindney credentials are stored.
const ServiceName = "Mindney"

// Credential kinds. Accounts are scoped by client id, e.g. "client-1/api-key".
const (
	KindAPIKey      = "api-key"
	KindSecretToken = "secret-token"
)

// ErrNotFound is returned when a credential is not found in the store.
var ErrNotFound = errors.New("credential not found")

// ErrNotSupported is returned when the secret store is not supported on the current platform.
var ErrNotSupported = errors.New("secret store not supported on this platform")

// SecretStore provides an interface for secure credential storage.
// Implementations should be safe for concurrent use.
type SecretStore interface {
	// Get retrieves a password for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Get(service, account string) (string, error)

	// Set stores a password for the given service and account.
	// If a credential already exists, it is updated.
	Set(service, account, password string) error

	// Delete removes a credential for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Delete(service, account string) error

	// IsSupported returns true if this store is functional on the current platform.
	IsSupported() bool
}

// store is set by the platform-specific init().
var store SecretStore

// Default returns the SecretStore for the current platform. It never returns nil.
func Default() SecretStore {
	if store == nil {
		store = &NoopStore{}
	}
	return store
}

// Account returns the keychain account for a credential kind of clientID.
func Account(clientID, kind string) string {
	return clientID + "/" + kind
}

// Pair is the secret half of a Mindney credential set.
type Pair struct {
	APIKey      string
	SecretToken string
}

// Load reads the api key and secret token stored for clientID.
// Returns ErrNotFound if either is missing.
func Load(s SecretStore, clientID string) (Pair, error) {
	key, err := s.Get(ServiceName, Account(clientID, KindAPIKey))
	if err != nil {
		return Pair{}, err
	}
	token, err := s.Get(ServiceName, Account(clientID, KindSecretToken))
	if err != nil {
		return Pair{}, err
	}
	return Pair{APIKey: key, SecretToken: token}, nil
}

// Save stores both secrets for clientID, replacing any existing ones.
func Save(s SecretStore, clientID string, p Pair) error {
	if err := s.Set(ServiceName, Account(clientID, KindAPIKey), p.APIKey); err != nil {
		return err
	}
	return s.Set(ServiceName, Account(clientID, KindSecretToken), p.SecretToken)
}

// Remove deletes both secrets for clientID. Missing entries are not an error
// unless neither existed.
func Remove(s SecretStore, clientID string) error {
	errKey := s.Delete(ServiceName, Account(clientID, KindAPIKey))
	errToken := s.Delete(ServiceName, Account(clientID, KindSecretToken))
	if errors.Is(errKey, ErrNotFound) && errors.Is(errToken, ErrNotFound) {
		return ErrNotFound
	}
	if errKey != nil && !errors.Is(errKey, ErrNotFound) {
		return errKey
	}
	if errToken != nil && !errors.Is(errToken, ErrNotFound) {
		return errToken
	}
	return nil
}

// MemoryStore is an in-process SecretStore.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (m *MemoryStore) Get(service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[service+"\x00"+account]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(service, account, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[service+"\x00"+account] = password
	return nil
}

func (m *MemoryStore) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := service + "\x00" + account
	if _, ok := m.items[k]; !ok {
		return ErrNotFound
	}
	delete(m.items, k)
	return nil
}

func (m *MemoryStore) IsSupported() bool { return true }
