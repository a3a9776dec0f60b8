package llms

import (
	"context"
	"errors"
	"testing"
)

func TestCredentialLifecycle(t *testing.T) {
	cred := NewCredential("")

	if got, want := cred.State(), CredentialStateUninitialized; got != want {
		t.Fatalf("expected state %q, got %q", want, got)
	}
	if _, err := cred.Authorize(); err == nil {
		t.Fatalf("expected authorize to fail on an uninitialized credential")
	}

	if err := cred.Rotate("key-1"); err != nil {
		t.Fatalf("expected rotate to succeed, got %v", err)
	}
	if !cred.Ready() {
		t.Fatalf("expected credential to be ready after rotate")
	}
	key, err := cred.Authorize()
	if err != nil {
		t.Fatalf("expected authorize to succeed, got %v", err)
	}
	if key != "key-1" {
		t.Fatalf("expected key %q, got %q", "key-1", key)
	}

	cred.Revoke()
	if got, want := cred.State(), CredentialStateRevoked; got != want {
		t.Fatalf("expected state %q, got %q", want, got)
	}
	var configErr *ConfigurationError
	if _, err := cred.Authorize(); !errors.As(err, &configErr) {
		t.Fatalf("expected a configuration error after revoke, got %v", err)
	}

	if err := cred.Rotate("key-2"); err != nil {
		t.Fatalf("expected rotate to re-arm a revoked credential, got %v", err)
	}
	if key, _ := cred.Authorize(); key != "key-2" {
		t.Fatalf("expected rotated key %q, got %q", "key-2", key)
	}
}

func TestCredentialRotateRejectsEmptyKey(t *testing.T) {
	cred := NewCredential("key")
	if err := cred.Rotate(""); err == nil {
		t.Fatalf("expected rotate to reject an empty key")
	}
	if key, _ := cred.Authorize(); key != "key" {
		t.Fatalf("expected original key to survive a rejected rotate, got %q", key)
	}
}

func TestNilCredentialFailsFast(t *testing.T) {
	var cred *Credential

	if got, want := cred.State(), CredentialStateUninitialized; got != want {
		t.Fatalf("expected state %q, got %q", want, got)
	}
	var configErr *ConfigurationError
	if _, err := cred.Authorize(); !errors.As(err, &configErr) {
		t.Fatalf("expected a configuration error from a nil credential, got %v", err)
	}
}

func TestResolveCredentialPrefersExplicitKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")

	cred := ResolveCredential(context.Background(), WithAPIKey("explicit-key"))
	if key, _ := cred.Authorize(); key != "explicit-key" {
		t.Fatalf("expected explicit key to win, got %q", key)
	}
}

func TestResolveCredentialReadsEnvironment(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cred := ResolveCredential(context.Background())
	if key, _ := cred.Authorize(); key != "google-key" {
		t.Fatalf("expected key from environment, got %q", key)
	}
}

func TestResolveCredentialFallsBackToStore(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cred := ResolveCredential(context.Background(), WithCredentialStore(&credentialStoreStub{key: "stored-key"}))
	if key, _ := cred.Authorize(); key != "stored-key" {
		t.Fatalf("expected key from store, got %q", key)
	}
}

func TestResolveCredentialWithoutSourcesStaysUninitialized(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cred := ResolveCredential(context.Background(), WithCredentialStore(&credentialStoreStub{err: errors.New("no stored key")}))
	if cred.Ready() {
		t.Fatalf("expected credential to stay uninitialized when no source resolves")
	}
}

type credentialStoreStub struct {
	key string
	err error
}

func (s *credentialStoreStub) Load(context.Context) (string, error) {
	return s.key, s.err
}

func (s *credentialStoreStub) Store(_ context.Context, apiKey string) error {
	s.key = apiKey
	return nil
}
