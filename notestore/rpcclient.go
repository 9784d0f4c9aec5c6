// Package notestore defines the RPC client contract the core issues
// calls through, and NoteStoreProvider, which resolves and caches
// clients for the user's own account and for each linked notebook.
package notestore

import (
	"context"

	"github.com/notewell/synccore/model"
)

// RequestContext carries per-call transport parameters plus whatever
// auth token and cookies the caller wants applied. It is rebuilt by
// AuthenticationProvider each time a fresher token is selected.
type RequestContext struct {
	AuthToken         string
	Cookies           []model.Cookie
	ConnectTimeout    int // milliseconds
	MaxRetries        int
	ExponentialBackoff bool
}

// SyncState is the RPC-layer view of server sync progress, distinct
// from model.SyncState (the client's own bookkeeping).
type SyncState struct {
	UpdateCount     int32
	FullSyncBefore  int64 // ms since epoch
	UploadLimit     int64
}

// SharedNotebookAuthResult is the response to authenticate_to_shared_notebook.
type SharedNotebookAuthResult struct {
	AuthenticationInfo model.AuthenticationInfo
	URLs               *ResultURLs
	PublicUserInfo     *PublicUserInfo
}

type ResultURLs struct {
	NoteStoreURL    string
	WebAPIURLPrefix string
}

type PublicUserInfo struct {
	NoteStoreURL    string
	WebAPIURLPrefix string
}

// RPCClient is the typed surface every note store exposes, matching
// the Evernote NoteStore/UserStore thrift contract the core depends
// on. Implementations translate these into the wire protocol; errs
// classifies failures uniformly (see errs.ProtocolError).
type RPCClient interface {
	CreateNotebook(ctx context.Context, rc RequestContext, nb model.Notebook) (model.Notebook, error)
	UpdateNotebook(ctx context.Context, rc RequestContext, nb model.Notebook) (model.Notebook, error)

	CreateTag(ctx context.Context, rc RequestContext, tag model.Tag) (model.Tag, error)
	UpdateTag(ctx context.Context, rc RequestContext, tag model.Tag) (model.Tag, error)

	CreateNote(ctx context.Context, rc RequestContext, note model.Note, resources []model.Resource) (model.Note, []model.Resource, error)
	UpdateNote(ctx context.Context, rc RequestContext, note model.Note, resources []model.Resource) (model.Note, []model.Resource, error)

	CreateSearch(ctx context.Context, rc RequestContext, s model.SavedSearch) (model.SavedSearch, error)
	UpdateSearch(ctx context.Context, rc RequestContext, s model.SavedSearch) (model.SavedSearch, error)

	GetSyncState(ctx context.Context, rc RequestContext) (SyncState, error)
	GetFilteredSyncChunk(ctx context.Context, rc RequestContext, afterUSN int32, maxEntries int32) (model.SyncChunk, error)

	GetLinkedNotebookSyncState(ctx context.Context, rc RequestContext, linkedNotebookGuid string) (SyncState, error)
	GetLinkedNotebookSyncChunk(ctx context.Context, rc RequestContext, linkedNotebookGuid string, afterUSN int32, maxEntries int32) (model.SyncChunk, error)

	GetNoteWithResultSpec(ctx context.Context, rc RequestContext, guid string, withResourceMetadata, withResourceBinaryData bool) (model.Note, []model.Resource, error)
	GetResource(ctx context.Context, rc RequestContext, guid string, withBinaryData bool) (model.Resource, error)

	AuthenticateToSharedNotebook(ctx context.Context, rc RequestContext, sharedNotebookGlobalID string) (SharedNotebookAuthResult, error)
}

// Factory builds a fresh RPCClient for a given note store URL. A real
// implementation dials the RPC transport; httprpc provides a
// reference client over net/http, grounded on the teacher's
// retry-aware HTTP client.
type Factory interface {
	NewClient(noteStoreURL string) (RPCClient, error)
}
