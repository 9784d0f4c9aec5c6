// Package settingsstore defines the interface for non-secret, durable
// key-value settings: authentication metadata minus the token/shard-id
// fields that belong in secretstore, and persisted cookies.
package settingsstore

import "context"

// Store holds non-secret string values under namespaced keys.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key with the given prefix, used by
	// AuthenticationProvider.ClearCaches to drop an entire account's
	// or linked notebook's settings in one call.
	DeletePrefix(ctx context.Context, prefix string) error
}
