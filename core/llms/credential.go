package llms

import (
	"context"
	"os"
	"sync"
)

// CredentialState is the lifecycle position of a Credential.
type CredentialState string

const (
	CredentialStateUninitialized CredentialState = "uninitialized"
	CredentialStateReady         CredentialState = "ready"
	CredentialStateRevoked       CredentialState = "revoked"
)

// CredentialStore persists a user-supplied API key between runs.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Store(ctx context.Context, apiKey string) error
}

// Credential gates every remote operation behind one explicitly constructed
// API key. It is created once at startup and handed to each component;
// components read it, only the owner rotates or revokes it.
type Credential struct {
	mu     sync.RWMutex
	state  CredentialState
	apiKey string
}

// NewCredential builds a credential from an explicit key. An empty key
// yields an uninitialized gate whose operations fail fast until Rotate.
func NewCredential(apiKey string) *Credential {
	c := &Credential{state: CredentialStateUninitialized}
	if apiKey != "" {
		c.state = CredentialStateReady
		c.apiKey = apiKey
	}
	return c
}

type credentialOptions struct {
	apiKey string
	store  CredentialStore
}

type CredentialOption func(*credentialOptions)

func WithAPIKey(apiKey string) CredentialOption {
	return func(o *credentialOptions) { o.apiKey = apiKey }
}

func WithCredentialStore(store CredentialStore) CredentialOption {
	return func(o *credentialOptions) { o.store = store }
}

// ResolveCredential attempts auto-discovery of the API key: an explicit
// option, then the GEMINI_API_KEY and GOOGLE_API_KEY environment variables,
// then a configured store. A failed resolution is not an error; it returns
// an uninitialized gate and the first operation reports the missing
// configuration.
func ResolveCredential(ctx context.Context, opts ...CredentialOption) *Credential {
	options := credentialOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	if options.apiKey != "" {
		return NewCredential(options.apiKey)
	}
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if key := os.Getenv(name); key != "" {
			return NewCredential(key)
		}
	}
	if options.store != nil {
		if key, err := options.store.Load(ctx); err == nil && key != "" {
			return NewCredential(key)
		}
	}
	return NewCredential("")
}

// State reports the lifecycle position. A nil credential is uninitialized.
func (c *Credential) State() CredentialState {
	if c == nil {
		return CredentialStateUninitialized
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Credential) Ready() bool {
	return c.State() == CredentialStateReady
}

// Authorize returns the API key, or a ConfigurationError when the gate is
// not ready. No network attempt is made either way.
func (c *Credential) Authorize() (string, error) {
	if c == nil {
		return "", &ConfigurationError{Reason: "credential is not configured"}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.state {
	case CredentialStateReady:
		return c.apiKey, nil
	case CredentialStateRevoked:
		return "", &ConfigurationError{Reason: "credential was revoked"}
	default:
		return "", &ConfigurationError{Reason: "credential is not configured"}
	}
}

// Rotate replaces the key and re-arms a revoked or uninitialized gate.
func (c *Credential) Rotate(apiKey string) error {
	if apiKey == "" {
		return &ConfigurationError{Reason: "cannot rotate to an empty key"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.state = CredentialStateReady
	return nil
}

// Revoke invalidates the credential until the next Rotate.
func (c *Credential) Revoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = ""
	c.state = CredentialStateRevoked
}
