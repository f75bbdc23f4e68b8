// Package credentials generates and caches the short-lived publisher
// credentials the relay presents to the upstream push networks. One cache
// slot exists per platform; the cache lives in a durable kv.Store so every
// relay instance shares it and a restart does not force regeneration.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-relay/internal/storage/kv"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// CredentialError reports a key import, signing, or token-exchange failure.
// It is never retried internally and is never cached.
type CredentialError struct {
	Platform relay.Platform
	Op       string
	Err      error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s for %s: %v", e.Op, e.Platform, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Signer produces one platform's publisher credential. The returned TTL is
// chosen strictly shorter than the upstream-imposed maximum validity, so a
// cached credential is never used past the point the upstream rejects it.
type Signer interface {
	Generate(ctx context.Context) (string, error)
	TTL() time.Duration
}

// Manager implements relay.CredentialSource over a kv.Store. Expiry is
// enforced by the store itself: the credential is written with the signer's
// TTL and a read past that point is a plain cache miss.
type Manager struct {
	store   kv.Store
	signers map[relay.Platform]Signer
	logger  *slog.Logger
}

// NewManager creates the manager. The signers map holds an entry per
// configured platform; platforms without key material are simply absent.
func NewManager(store kv.Store, signers map[relay.Platform]Signer, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		signers: signers,
		logger:  logger.With("component", "CredentialManager"),
	}
}

// Configured reports whether key material for the platform was supplied.
func (m *Manager) Configured(platform relay.Platform) bool {
	_, ok := m.signers[platform]
	return ok
}

// Credential returns the cached credential for the platform, generating and
// caching a fresh one on a miss. It never blocks on the background refresher
// and always makes progress on a cold cache.
func (m *Manager) Credential(ctx context.Context, platform relay.Platform) (string, error) {
	key := credentialKey(platform)

	cached, err := m.store.Get(ctx, key)
	if err == nil {
		return string(cached), nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return "", fmt.Errorf("credential cache read for %s: %w", platform, err)
	}

	m.logger.Debug("Credential cache miss; generating", "platform", platform)
	return m.generate(ctx, platform)
}

// Refresh unconditionally generates a fresh credential and overwrites the
// cache slot. Used by the background refresher to pre-warm the cache.
func (m *Manager) Refresh(ctx context.Context, platform relay.Platform) error {
	_, err := m.generate(ctx, platform)
	return err
}

func (m *Manager) generate(ctx context.Context, platform relay.Platform) (string, error) {
	signer, ok := m.signers[platform]
	if !ok {
		return "", &CredentialError{Platform: platform, Op: "lookup", Err: errors.New("platform not configured")}
	}

	credential, err := signer.Generate(ctx)
	if err != nil {
		var credErr *CredentialError
		if errors.As(err, &credErr) {
			return "", err
		}
		return "", &CredentialError{Platform: platform, Op: "generate", Err: err}
	}

	if err := m.store.Put(ctx, credentialKey(platform), []byte(credential), signer.TTL()); err != nil {
		return "", fmt.Errorf("credential cache write for %s: %w", platform, err)
	}
	m.logger.Info("Publisher credential refreshed", "platform", platform, "ttl", signer.TTL())
	return credential, nil
}

func credentialKey(platform relay.Platform) string {
	return "credential:" + string(platform)
}
