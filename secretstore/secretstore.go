// Package secretstore defines the narrow interface AuthenticationProvider
// uses to persist and retrieve auth tokens and shard ids outside of the
// regular settings store. A real implementation should back this with
// an OS keychain; boltstore provides a reference implementation.
package secretstore

import (
	"context"
	"strconv"
)

// Store holds opaque secret values under namespaced keys. Keys follow
// the "Authentication/{host}/{user_id}/{field}" and
// "LinkedNotebook/{host}/{user_id}/{guid}/{field}" conventions used by
// authprovider; the store itself is agnostic to key structure.
type Store interface {
	// Get returns the value for key, or ok=false if absent. A storage
	// error is returned as err; a missing key is not an error.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes value under key, overwriting any existing value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// AuthTokenKey builds the secret-store key for a user-own auth token.
func AuthTokenKey(host string, userID int32) string {
	return keyJoin("Authentication", host, userID, "auth_token")
}

// ShardIDKey builds the secret-store key for a user-own shard id.
func ShardIDKey(host string, userID int32) string {
	return keyJoin("Authentication", host, userID, "shard_id")
}

// LinkedNotebookTokenKey builds the secret-store key for a linked
// notebook's auth token.
func LinkedNotebookTokenKey(host string, userID int32, guid string) string {
	return keyJoin("LinkedNotebook", host, userID, guid, "auth_token")
}

func keyJoin(parts ...any) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		switch v := p.(type) {
		case string:
			out += v
		case int32:
			out += strconv.FormatInt(int64(v), 10)
		}
	}
	return out
}
