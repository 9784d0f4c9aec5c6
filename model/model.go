// Package model holds the entities the synchronization core reads and
// writes. Only the attributes the core actually touches are modeled —
// the full note-taking object model lives in the local store, out of
// scope for this package.
package model

import "time"

// Account identifies a user on a given service host. It is the key
// for all persistent sync state.
type Account struct {
	UserID       int32
	EvernoteHost string
	Username     string
	Email        string
}

func (a Account) IsEvernoteAccount() bool {
	return a.EvernoteHost != ""
}

// Cookie is a single HTTP cookie observed on an authentication
// response. Only cookies matching the web*PreUserGuid pattern survive
// persistence; see authprovider.
type Cookie struct {
	Name  string
	Value string
}

// AuthenticationInfo is the immutable result of authenticating the
// user's own account.
type AuthenticationInfo struct {
	UserID              int32
	AuthToken           string
	ShardID             string
	NoteStoreURL        string
	WebAPIURLPrefix     string
	TokenExpirationTime time.Time
	AuthenticationTime  time.Time
	UserStoreCookies    []Cookie
}

// AboutToExpire reports whether the token expires in less than the
// given window from now. The spec fixes this window at 30 minutes for
// all token selection.
func (a AuthenticationInfo) AboutToExpire(now time.Time, window time.Duration) bool {
	return a.TokenExpirationTime.Sub(now) < window
}

// LinkedNotebookAuthInfo is the same shape as AuthenticationInfo,
// additionally bound to the linked notebook it authenticates against.
type LinkedNotebookAuthInfo struct {
	AuthenticationInfo
	LinkedNotebookGuid string
}

// SyncState is the per-account bookkeeping that drives incrementality.
// It is owned by SyncStateStore; a value snapshot is handed to the
// Downloader and Sender at the start of a cycle.
type SyncState struct {
	UserDataUpdateCount        int32
	UserDataLastSyncTime       time.Time
	LinkedNotebookUpdateCounts map[string]int32
	LinkedNotebookLastSync     map[string]time.Time
}

// Clone returns a deep copy so callers can mutate their snapshot
// without racing the store's own copy.
func (s SyncState) Clone() SyncState {
	out := SyncState{
		UserDataUpdateCount:        s.UserDataUpdateCount,
		UserDataLastSyncTime:       s.UserDataLastSyncTime,
		LinkedNotebookUpdateCounts: make(map[string]int32, len(s.LinkedNotebookUpdateCounts)),
		LinkedNotebookLastSync:     make(map[string]time.Time, len(s.LinkedNotebookLastSync)),
	}
	for k, v := range s.LinkedNotebookUpdateCounts {
		out.LinkedNotebookUpdateCounts[k] = v
	}
	for k, v := range s.LinkedNotebookLastSync {
		out.LinkedNotebookLastSync[k] = v
	}
	return out
}

// ZeroSyncState returns the default state for an account that has
// never synced.
func ZeroSyncState() SyncState {
	return SyncState{
		LinkedNotebookUpdateCounts: map[string]int32{},
		LinkedNotebookLastSync:     map[string]time.Time{},
	}
}

// Entity is the common shape shared by Notebook, Tag, SavedSearch,
// LinkedNotebook, Note and Resource: a stable local id that exists
// before the server knows about the entity, an optional server guid,
// and the bits that drive upload/download.
type Entity struct {
	LocalID              string
	Guid                 string
	UpdateSequenceNumber *int32
	LocallyModified      bool
	LocalOnly            bool
}

func (e Entity) HasGuid() bool { return e.Guid != "" }
func (e Entity) IsNew() bool   { return e.UpdateSequenceNumber == nil }

// Notebook is a container for notes.
type Notebook struct {
	Entity
	Name           string
	LinkedNotebook *string // guid of the linked notebook this belongs to, if any
}

// Tag may have at most one parent tag. The parent/child relation is
// acyclic per account; Sender rejects a cycle as a programmer error.
type Tag struct {
	Entity
	Name               string
	ParentTagLocalID   *string
	ParentTagGuid      *string
	LinkedNotebookGuid *string
}

// SavedSearch is independent of notebooks and tags.
type SavedSearch struct {
	Entity
	Name  string
	Query string
}

// LinkedNotebook is a notebook owned by another account, shared into
// this one. ShardID and NoteStoreURL may come from the record itself
// rather than an RPC.
type LinkedNotebook struct {
	Entity
	ShareName              string
	Username               string
	ShardID                string
	NoteStoreURL           string
	WebAPIURLPrefix        string
	SharedNotebookGlobalID string
	Uri                    string
}

// IsPublic reports the documented-anomaly public-notebook shape: no
// shared-notebook global id but a uri is present.
func (l LinkedNotebook) IsPublic() bool {
	return l.SharedNotebookGlobalID == "" && l.Uri != ""
}

// Note has exactly one notebook, by local id (and by guid once the
// notebook has synced).
type Note struct {
	Entity
	Title             string
	Content           string
	NotebookLocalID   string
	NotebookGuid      string
	TagLocalIDs       []string
	TagGuids          []string
	ResourceLocalIDs  []string
	ContainsFailedTag bool
}

// Resource belongs to exactly one note.
type Resource struct {
	Entity
	NoteLocalID string
	NoteGuid    string
	Mime        string
	Data        []byte
}

// SyncChunk is a server-returned bundle of entity deltas within a USN
// range. It is consumed then discarded — nothing here is persisted by
// the core itself.
type SyncChunk struct {
	Notebooks    []Notebook
	Tags         []Tag
	SavedSearch  []SavedSearch
	LinkedNbs    []LinkedNotebook
	Notes        []Note // metadata-only stubs; bodies are fetched separately
	Resources    []Resource

	ExpungedNotebooks    []string
	ExpungedTags         []string
	ExpungedSavedSearch  []string
	ExpungedLinkedNbs    []string
	ExpungedNotes        []string
	ExpungedResources    []string

	ChunkHighUSN *int32
	CurrentTime  time.Time
}
