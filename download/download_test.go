package download

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/notewell/synccore/authprovider"
	"github.com/notewell/synccore/localstore"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
	"github.com/notewell/synccore/syncstate"
)

// fakeRPCClient is a scripted notestore.RPCClient returning one
// sync state and a fixed sequence of chunks, ignoring any call it
// doesn't need for the scenario under test.
type fakeRPCClient struct {
	syncState       notestore.SyncState
	chunks          []model.SyncChunk
	notesByGuid     map[string]model.Note
	resourcesByGuid map[string]model.Resource
}

func (f *fakeRPCClient) CreateNotebook(ctx context.Context, rc notestore.RequestContext, nb model.Notebook) (model.Notebook, error) {
	return nb, nil
}
func (f *fakeRPCClient) UpdateNotebook(ctx context.Context, rc notestore.RequestContext, nb model.Notebook) (model.Notebook, error) {
	return nb, nil
}
func (f *fakeRPCClient) CreateTag(ctx context.Context, rc notestore.RequestContext, tag model.Tag) (model.Tag, error) {
	return tag, nil
}
func (f *fakeRPCClient) UpdateTag(ctx context.Context, rc notestore.RequestContext, tag model.Tag) (model.Tag, error) {
	return tag, nil
}
func (f *fakeRPCClient) CreateNote(ctx context.Context, rc notestore.RequestContext, note model.Note, resources []model.Resource) (model.Note, []model.Resource, error) {
	return note, resources, nil
}
func (f *fakeRPCClient) UpdateNote(ctx context.Context, rc notestore.RequestContext, note model.Note, resources []model.Resource) (model.Note, []model.Resource, error) {
	return note, resources, nil
}
func (f *fakeRPCClient) CreateSearch(ctx context.Context, rc notestore.RequestContext, s model.SavedSearch) (model.SavedSearch, error) {
	return s, nil
}
func (f *fakeRPCClient) UpdateSearch(ctx context.Context, rc notestore.RequestContext, s model.SavedSearch) (model.SavedSearch, error) {
	return s, nil
}
func (f *fakeRPCClient) GetSyncState(ctx context.Context, rc notestore.RequestContext) (notestore.SyncState, error) {
	return f.syncState, nil
}
func (f *fakeRPCClient) GetFilteredSyncChunk(ctx context.Context, rc notestore.RequestContext, afterUSN, maxEntries int32) (model.SyncChunk, error) {
	for _, c := range f.chunks {
		if c.ChunkHighUSN != nil && *c.ChunkHighUSN > afterUSN {
			return c, nil
		}
	}
	return model.SyncChunk{}, nil
}
func (f *fakeRPCClient) GetLinkedNotebookSyncState(ctx context.Context, rc notestore.RequestContext, guid string) (notestore.SyncState, error) {
	return f.syncState, nil
}
func (f *fakeRPCClient) GetLinkedNotebookSyncChunk(ctx context.Context, rc notestore.RequestContext, guid string, afterUSN, maxEntries int32) (model.SyncChunk, error) {
	return f.GetFilteredSyncChunk(ctx, rc, afterUSN, maxEntries)
}
func (f *fakeRPCClient) GetNoteWithResultSpec(ctx context.Context, rc notestore.RequestContext, guid string, withMeta, withBinary bool) (model.Note, []model.Resource, error) {
	n, ok := f.notesByGuid[guid]
	if !ok {
		return model.Note{}, nil, nil
	}
	return n, nil, nil
}
func (f *fakeRPCClient) GetResource(ctx context.Context, rc notestore.RequestContext, guid string, withBinary bool) (model.Resource, error) {
	return f.resourcesByGuid[guid], nil
}
func (f *fakeRPCClient) AuthenticateToSharedNotebook(ctx context.Context, rc notestore.RequestContext, guid string) (notestore.SharedNotebookAuthResult, error) {
	return notestore.SharedNotebookAuthResult{}, nil
}

type fakeNoteStores struct{ client notestore.RPCClient }

func (f *fakeNoteStores) UserOwnNoteStore(ctx context.Context, info model.AuthenticationInfo, want notestore.RequestContext) (notestore.RPCClient, error) {
	return f.client, nil
}
func (f *fakeNoteStores) LinkedNotebookNoteStore(ctx context.Context, guid string, info model.AuthenticationInfo, want notestore.RequestContext) (notestore.RPCClient, error) {
	return f.client, nil
}

type fakeAuthenticator struct{}

func (fakeAuthenticator) AuthenticateAccount(ctx context.Context, account model.Account, mode authprovider.Mode) (model.AuthenticationInfo, error) {
	return model.AuthenticationInfo{UserID: account.UserID, AuthToken: "user-token"}, nil
}
func (fakeAuthenticator) AuthenticateToLinkedNotebook(ctx context.Context, account model.Account, lnb model.LinkedNotebook, mode authprovider.Mode) (model.LinkedNotebookAuthInfo, error) {
	return model.LinkedNotebookAuthInfo{
		AuthenticationInfo: model.AuthenticationInfo{AuthToken: "linked-token"},
		LinkedNotebookGuid: lnb.Guid,
	}, nil
}

// fakeSyncState is an in-memory syncstate.Store.
type fakeSyncState struct {
	mu    sync.Mutex
	state model.SyncState
}

func (f *fakeSyncState) Get(ctx context.Context, account model.Account) (model.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone(), nil
}
func (f *fakeSyncState) Set(ctx context.Context, account model.Account, state model.SyncState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	return nil
}
func (f *fakeSyncState) Watch(ctx context.Context) <-chan model.Account {
	return make(chan model.Account)
}

var _ syncstate.Store = (*fakeSyncState)(nil)

// fakeLocalStore is a minimal in-memory localstore.Store.
type fakeLocalStore struct {
	mu              sync.Mutex
	notebooks       map[string]model.Notebook
	tags            map[string]model.Tag
	linkedNotebooks map[string]model.LinkedNotebook
	notes           map[string]model.Note
	resources       map[string]model.Resource
}

func newFakeLocalStore() *fakeLocalStore {
	return &fakeLocalStore{
		notebooks:       map[string]model.Notebook{},
		tags:            map[string]model.Tag{},
		linkedNotebooks: map[string]model.LinkedNotebook{},
		notes:           map[string]model.Note{},
		resources:       map[string]model.Resource{},
	}
}

func (s *fakeLocalStore) PutNotebook(ctx context.Context, account model.Account, nb model.Notebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notebooks[nb.Guid] = nb
	return nil
}
func (s *fakeLocalStore) FindNotebookByLocalID(ctx context.Context, account model.Account, localID string) (model.Notebook, bool, error) {
	return model.Notebook{}, false, nil
}
func (s *fakeLocalStore) FindNotebookByGuid(ctx context.Context, account model.Account, guid string) (model.Notebook, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, ok := s.notebooks[guid]
	return nb, ok, nil
}
func (s *fakeLocalStore) ListNotebooks(ctx context.Context, account model.Account) ([]model.Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notebook, 0, len(s.notebooks))
	for _, nb := range s.notebooks {
		out = append(out, nb)
	}
	return out, nil
}
func (s *fakeLocalStore) ExpungeNotebook(ctx context.Context, account model.Account, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notebooks, guid)
	return nil
}

func (s *fakeLocalStore) PutTag(ctx context.Context, account model.Account, tag model.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[tag.Guid] = tag
	return nil
}
func (s *fakeLocalStore) FindTagByLocalID(ctx context.Context, account model.Account, localID string) (model.Tag, bool, error) {
	return model.Tag{}, false, nil
}
func (s *fakeLocalStore) FindTagByGuid(ctx context.Context, account model.Account, guid string) (model.Tag, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[guid]
	return t, ok, nil
}
func (s *fakeLocalStore) ListTags(ctx context.Context, account model.Account) ([]model.Tag, error) {
	return nil, nil
}
func (s *fakeLocalStore) ExpungeTag(ctx context.Context, account model.Account, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, guid)
	return nil
}

func (s *fakeLocalStore) PutSavedSearch(ctx context.Context, account model.Account, search model.SavedSearch) error {
	return nil
}
func (s *fakeLocalStore) FindSavedSearchByLocalID(ctx context.Context, account model.Account, localID string) (model.SavedSearch, bool, error) {
	return model.SavedSearch{}, false, nil
}
func (s *fakeLocalStore) ListSavedSearches(ctx context.Context, account model.Account) ([]model.SavedSearch, error) {
	return nil, nil
}
func (s *fakeLocalStore) ExpungeSavedSearch(ctx context.Context, account model.Account, guid string) error {
	return nil
}

func (s *fakeLocalStore) PutLinkedNotebook(ctx context.Context, account model.Account, lnb model.LinkedNotebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkedNotebooks[lnb.Guid] = lnb
	return nil
}
func (s *fakeLocalStore) ListLinkedNotebooks(ctx context.Context, account model.Account) ([]model.LinkedNotebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LinkedNotebook, 0, len(s.linkedNotebooks))
	for _, lnb := range s.linkedNotebooks {
		out = append(out, lnb)
	}
	return out, nil
}
func (s *fakeLocalStore) ExpungeLinkedNotebook(ctx context.Context, account model.Account, guid string) error {
	return nil
}

func (s *fakeLocalStore) PutNote(ctx context.Context, account model.Account, note model.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[note.Guid] = note
	return nil
}
func (s *fakeLocalStore) FindNoteByLocalID(ctx context.Context, account model.Account, localID string, fetch ...localstore.NoteFetchOption) (model.Note, bool, error) {
	return model.Note{}, false, nil
}
func (s *fakeLocalStore) FindNoteByGuid(ctx context.Context, account model.Account, guid string, fetch ...localstore.NoteFetchOption) (model.Note, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[guid]
	return n, ok, nil
}
func (s *fakeLocalStore) ListNotes(ctx context.Context, account model.Account, opts localstore.ListNotesOptions) ([]model.Note, error) {
	return nil, nil
}
func (s *fakeLocalStore) ExpungeNote(ctx context.Context, account model.Account, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, guid)
	return nil
}

func (s *fakeLocalStore) PutResource(ctx context.Context, account model.Account, r model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.Guid] = r
	return nil
}
func (s *fakeLocalStore) ListResourcesForNote(ctx context.Context, account model.Account, noteLocalID string) ([]model.Resource, error) {
	return nil, nil
}
func (s *fakeLocalStore) ExpungeResource(ctx context.Context, account model.Account, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, guid)
	return nil
}

func (s *fakeLocalStore) LinkedNotebookGuidForNotebookLocalID(ctx context.Context, account model.Account, notebookLocalID string) (string, bool, error) {
	return "", false, nil
}
func (s *fakeLocalStore) LinkedNotebookGuidForNotebookGuid(ctx context.Context, account model.Account, notebookGuid string) (string, bool, error) {
	return "", false, nil
}

var _ localstore.Store = (*fakeLocalStore)(nil)

type fakeExpunger struct{ called bool }

func (f *fakeExpunger) ExpungeStaleData(ctx context.Context, account model.Account, preserved []string, scope string) error {
	f.called = true
	return nil
}

type fakeTagsCleaner struct{ called bool }

func (f *fakeTagsCleaner) CleanStaleLinkedNotebookTags(ctx context.Context, account model.Account) error {
	f.called = true
	return nil
}

func usnPtr(v int32) *int32 { return &v }

func TestDownloader_Cycle_RejectsNonEvernoteAccount(t *testing.T) {
	d := New(&fakeSyncState{}, fakeAuthenticator{}, &fakeNoteStores{}, newFakeLocalStore(), nil, nil)
	_, err := d.Cycle(context.Background(), model.Account{UserID: 1})
	if err == nil {
		t.Fatal("expected an error for an account with no EvernoteHost")
	}
}

func TestDownloader_Cycle_FullSyncPersistsNotebooksTagsAndNotes(t *testing.T) {
	account := model.Account{UserID: 1, EvernoteHost: "www.evernote.com", Username: "alice"}

	client := &fakeRPCClient{
		syncState: notestore.SyncState{UpdateCount: 10},
		chunks: []model.SyncChunk{
			{
				Notebooks:    []model.Notebook{{Entity: model.Entity{Guid: "nb-1"}, Name: "Notes"}},
				Tags:         []model.Tag{{Entity: model.Entity{Guid: "tag-1"}, Name: "todo"}},
				Notes:        []model.Note{{Entity: model.Entity{Guid: "note-1"}}},
				ChunkHighUSN: usnPtr(10),
			},
		},
		notesByGuid: map[string]model.Note{
			"note-1": {Entity: model.Entity{Guid: "note-1"}, Title: "hello"},
		},
	}

	local := newFakeLocalStore()
	syncState := &fakeSyncState{}
	expunger := &fakeExpunger{}
	tagsCleaner := &fakeTagsCleaner{}

	d := New(syncState, fakeAuthenticator{}, &fakeNoteStores{client: client}, local, expunger, tagsCleaner)

	result, err := d.Cycle(context.Background(), account)
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if _, ok := local.notebooks["nb-1"]; !ok {
		t.Error("expected notebook nb-1 to be persisted")
	}
	if _, ok := local.tags["tag-1"]; !ok {
		t.Error("expected tag tag-1 to be persisted")
	}
	note, ok := local.notes["note-1"]
	if !ok || note.Title != "hello" {
		t.Errorf("expected note-1's full body to be fetched and persisted, got %+v ok=%v", note, ok)
	}

	if result.SyncState.UserDataUpdateCount != 10 {
		t.Errorf("UserDataUpdateCount = %d, want 10", result.SyncState.UserDataUpdateCount)
	}
	if syncState.state.UserDataUpdateCount != 10 {
		t.Errorf("expected the new high-water mark to be persisted back to sync state, got %d", syncState.state.UserDataUpdateCount)
	}
	if tagsCleaner.called != true {
		t.Error("expected the linked-notebook tag cleanup to run")
	}
}

func TestDownloader_Cycle_NoOpWhenUpToDate(t *testing.T) {
	account := model.Account{UserID: 1, EvernoteHost: "www.evernote.com"}
	client := &fakeRPCClient{syncState: notestore.SyncState{UpdateCount: 5}}
	local := newFakeLocalStore()
	syncState := &fakeSyncState{state: model.SyncState{
		UserDataUpdateCount:        5,
		UserDataLastSyncTime:       time.Unix(1700000000, 0),
		LinkedNotebookUpdateCounts: map[string]int32{},
		LinkedNotebookLastSync:     map[string]time.Time{},
	}}

	d := New(syncState, fakeAuthenticator{}, &fakeNoteStores{client: client}, local, nil, nil)

	result, err := d.Cycle(context.Background(), account)
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(local.notebooks) != 0 {
		t.Error("expected no notebooks to be written when the server reports no new data")
	}
	if result.SyncState.UserDataUpdateCount != 5 {
		t.Errorf("UserDataUpdateCount = %d, want unchanged 5", result.SyncState.UserDataUpdateCount)
	}
}
