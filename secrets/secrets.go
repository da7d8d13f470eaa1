// Package secrets resolves the shared signing secret from where it is stored.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// ErrNotFound is returned when the secret does not exist at its source.
var ErrNotFound = errors.New("secret not found")

// Source resolves a secret value.
type Source interface {
	// Secret returns the current secret value.
	Secret(ctx context.Context) (string, error)
}

// Static is a Source that always returns the same value.
type Static string

// Secret returns the static value, or ErrNotFound when it is empty.
func (s Static) Secret(_ context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNotFound
	}

	return string(s), nil
}

// VaultOptions defines the configuration options for a Vault source.
type VaultOptions struct {
	// Mount is the KV version 2 mount path. Defaults to "secret".
	Mount string

	// Field is the key within the secret's data. Defaults to "jwt_secret".
	Field string
}

// Vault reads a secret from a HashiCorp Vault KV version 2 engine.
type Vault struct {
	client *vault.Client
	path   string
	opts   VaultOptions
}

// NewVault creates a Vault source for the secret stored at path.
//
// Parameters:
//   - client: A configured Vault API client carrying a token.
//   - path: The secret path below the mount, e.g. "supabridge/signing".
//   - optFns: A variadic list of functions to customize the VaultOptions.
//
// Returns:
//   - A new Vault source.
//   - An error if client or path is missing.
func NewVault(client *vault.Client, path string, optFns ...func(o *VaultOptions)) (*Vault, error) {
	if client == nil {
		return nil, fmt.Errorf("vault client cannot be nil")
	}

	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("vault secret path cannot be empty")
	}

	opts := VaultOptions{
		Mount: "secret",
		Field: "jwt_secret",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Vault{client: client, path: path, opts: opts}, nil
}

// Secret reads the configured field of the latest secret version.
func (v *Vault) Secret(ctx context.Context) (string, error) {
	secret, err := v.client.KVv2(v.opts.Mount).Get(ctx, v.path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, v.opts.Mount, v.path)
		}

		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}

	value, ok := secret.Data[v.opts.Field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: field %q in %s/%s", ErrNotFound, v.opts.Field, v.opts.Mount, v.path)
	}

	return value, nil
}
