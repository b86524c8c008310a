// Package secrets resolves the opaque credential references carried by
// connector descriptors. Descriptors never hold secrets themselves.
package secrets

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/ajitpratap0/orbit/pkg/errors"
)

// Credentials are the resolved secret values of a connector.
// Well-known keys: token, username, password, client_id, client_secret, token_url, scopes.
type Credentials map[string]string

// Get returns a credential value or empty string.
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Resolver resolves a credential reference.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// EnvResolver resolves "env:PREFIX" references from PREFIX_* environment
// variables: env:CRM yields token from CRM_TOKEN, client_id from CRM_CLIENT_ID, ...
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver creates a resolver backed by the process environment.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

var envKeys = []string{"token", "username", "password", "client_id", "client_secret", "token_url", "scopes"}

// Resolve implements Resolver.
func (r *EnvResolver) Resolve(_ context.Context, ref string) (Credentials, error) {
	if ref == "" {
		return Credentials{}, nil
	}
	prefix, ok := strings.CutPrefix(ref, "env:")
	if !ok || prefix == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "unsupported credential reference").
			WithDetail("ref", ref)
	}

	creds := Credentials{}
	for _, key := range envKeys {
		if v, ok := r.lookup(strings.ToUpper(prefix + "_" + key)); ok {
			creds[key] = v
		}
	}
	if len(creds) == 0 {
		return nil, errors.New(errors.ErrorTypeNotFound, "no credentials found for reference").
			WithDetail("ref", ref)
	}
	return creds, nil
}

// StaticResolver resolves references from an in-memory map.
type StaticResolver struct {
	mu      sync.RWMutex
	entries map[string]Credentials
}

// NewStaticResolver creates a resolver over the given entries.
func NewStaticResolver(entries map[string]Credentials) *StaticResolver {
	if entries == nil {
		entries = make(map[string]Credentials)
	}
	return &StaticResolver{entries: entries}
}

// Set adds or replaces an entry.
func (r *StaticResolver) Set(ref string, creds Credentials) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[ref] = creds
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, ref string) (Credentials, error) {
	if ref == "" {
		return Credentials{}, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	creds, ok := r.entries[ref]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "no credentials found for reference").
			WithDetail("ref", ref)
	}
	out := make(Credentials, len(creds))
	for k, v := range creds {
		out[k] = v
	}
	return out, nil
}
