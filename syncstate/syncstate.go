// Package syncstate defines the durable record of per-account sync
// progress: the last-seen update counts and timestamps that make the
// next cycle incremental instead of a full resync.
package syncstate

import (
	"context"

	"github.com/notewell/synccore/model"
)

// Store is the durable home for model.SyncState. Implementations must
// make Set atomic with respect to a single call: a reader never
// observes half of one Set.
type Store interface {
	// Get returns the persisted state for account, or a zero SyncState
	// on first use. It never fails the enclosing sync cycle: storage
	// errors are logged and treated as zero state.
	Get(ctx context.Context, account model.Account) (model.SyncState, error)

	// Set persists state for account and emits a change notification
	// to any registered Watch subscribers.
	Set(ctx context.Context, account model.Account, state model.SyncState) error

	// Watch returns a channel that receives the account's key whenever
	// Set completes for it. Closing ctx closes the channel.
	Watch(ctx context.Context) <-chan model.Account
}
