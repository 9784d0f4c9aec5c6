package authprovider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/notewell/synccore/model"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}
func (m *memStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
func (m *memStore) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.data, k)
		}
	}
	return nil
}

type fakeInteractiveAuth struct {
	calls int
	info  model.AuthenticationInfo
}

func (f *fakeInteractiveAuth) AuthenticateNewAccount(ctx context.Context) (model.Account, model.AuthenticationInfo, error) {
	f.calls++
	return model.Account{}, f.info, nil
}
func (f *fakeInteractiveAuth) AuthenticateAccount(ctx context.Context, account model.Account) (model.AuthenticationInfo, error) {
	f.calls++
	return f.info, nil
}

func newTestProvider(interactive *fakeInteractiveAuth) *Provider {
	return New("test-app", newMemStore(), newMemStore(), interactive, nil)
}

func TestAuthenticateAccount_RejectsNonEvernoteAccount(t *testing.T) {
	p := newTestProvider(&fakeInteractiveAuth{})
	_, err := p.AuthenticateAccount(context.Background(), model.Account{UserID: 1}, Cache)
	if err == nil {
		t.Fatal("expected an error for an account with no EvernoteHost")
	}
}

func TestAuthenticateAccount_CachesAfterFirstInteractiveAuth(t *testing.T) {
	interactive := &fakeInteractiveAuth{info: model.AuthenticationInfo{
		AuthToken:           "tok",
		ShardID:             "s1",
		TokenExpirationTime: time.Now().Add(24 * time.Hour),
	}}
	p := newTestProvider(interactive)
	account := model.Account{UserID: 1, EvernoteHost: "www.evernote.com"}

	info1, err := p.AuthenticateAccount(context.Background(), account, Cache)
	if err != nil {
		t.Fatalf("first AuthenticateAccount failed: %v", err)
	}
	if info1.AuthToken != "tok" {
		t.Errorf("got token %q, want tok", info1.AuthToken)
	}
	if interactive.calls != 1 {
		t.Fatalf("expected exactly 1 interactive call so far, got %d", interactive.calls)
	}

	info2, err := p.AuthenticateAccount(context.Background(), account, Cache)
	if err != nil {
		t.Fatalf("second AuthenticateAccount failed: %v", err)
	}
	if info2.AuthToken != "tok" {
		t.Errorf("got token %q, want tok", info2.AuthToken)
	}
	if interactive.calls != 1 {
		t.Errorf("expected the second Cache-mode call to be served from the in-memory cache, got %d interactive calls", interactive.calls)
	}
}

func TestAuthenticateAccount_NoCacheAlwaysReauthenticates(t *testing.T) {
	interactive := &fakeInteractiveAuth{info: model.AuthenticationInfo{
		AuthToken:           "tok",
		TokenExpirationTime: time.Now().Add(24 * time.Hour),
	}}
	p := newTestProvider(interactive)
	account := model.Account{UserID: 1, EvernoteHost: "www.evernote.com"}

	if _, err := p.AuthenticateAccount(context.Background(), account, Cache); err != nil {
		t.Fatalf("AuthenticateAccount failed: %v", err)
	}
	if _, err := p.AuthenticateAccount(context.Background(), account, NoCache); err != nil {
		t.Fatalf("AuthenticateAccount failed: %v", err)
	}
	if interactive.calls != 2 {
		t.Errorf("expected NoCache to always re-authenticate, got %d interactive calls", interactive.calls)
	}
}

func TestAuthenticateAccount_CacheServesAboutToExpireEntryViaReauth(t *testing.T) {
	interactive := &fakeInteractiveAuth{info: model.AuthenticationInfo{
		AuthToken:           "fresh-tok",
		TokenExpirationTime: time.Now().Add(5 * time.Minute), // under the 30-minute window
	}}
	p := newTestProvider(interactive)
	account := model.Account{UserID: 1, EvernoteHost: "www.evernote.com"}

	if _, err := p.AuthenticateAccount(context.Background(), account, Cache); err != nil {
		t.Fatalf("AuthenticateAccount failed: %v", err)
	}
	if _, err := p.AuthenticateAccount(context.Background(), account, Cache); err != nil {
		t.Fatalf("AuthenticateAccount failed: %v", err)
	}
	if interactive.calls != 2 {
		t.Errorf("expected an about-to-expire cached token to trigger re-authentication on every call, got %d interactive calls", interactive.calls)
	}
}

func TestClearCaches_OneUser_ForcesReauth(t *testing.T) {
	interactive := &fakeInteractiveAuth{info: model.AuthenticationInfo{
		AuthToken:           "tok",
		TokenExpirationTime: time.Now().Add(24 * time.Hour),
	}}
	p := newTestProvider(interactive)
	account := model.Account{UserID: 1, EvernoteHost: "www.evernote.com"}

	if _, err := p.AuthenticateAccount(context.Background(), account, Cache); err != nil {
		t.Fatalf("AuthenticateAccount failed: %v", err)
	}
	p.ClearCaches(context.Background(), account, ClearSelector{UserID: account.UserID})

	if _, err := p.AuthenticateAccount(context.Background(), account, Cache); err != nil {
		t.Fatalf("AuthenticateAccount failed: %v", err)
	}
	if interactive.calls != 2 {
		t.Errorf("expected ClearCaches to force a fresh interactive auth, got %d interactive calls", interactive.calls)
	}
}

func TestAuthenticateToLinkedNotebook_PublicNotebookUsesOwnToken(t *testing.T) {
	interactive := &fakeInteractiveAuth{info: model.AuthenticationInfo{
		AuthToken:           "own-tok",
		TokenExpirationTime: time.Now().Add(24 * time.Hour),
	}}
	p := newTestProvider(interactive)
	account := model.Account{UserID: 1, EvernoteHost: "www.evernote.com"}
	lnb := model.LinkedNotebook{Entity: model.Entity{Guid: "lnb-1"}, Uri: "https://example.com/public"}

	info, err := p.AuthenticateToLinkedNotebook(context.Background(), account, lnb, Cache)
	if err != nil {
		t.Fatalf("AuthenticateToLinkedNotebook failed: %v", err)
	}
	if info.AuthToken != "own-tok" {
		t.Errorf("got token %q, want the user's own token for a public linked notebook", info.AuthToken)
	}
}

func TestAuthenticateToLinkedNotebook_RejectsMissingGuid(t *testing.T) {
	p := newTestProvider(&fakeInteractiveAuth{})
	_, err := p.AuthenticateToLinkedNotebook(context.Background(), model.Account{UserID: 1, EvernoteHost: "www.evernote.com"}, model.LinkedNotebook{}, Cache)
	if err == nil {
		t.Fatal("expected an error for a linked notebook with no guid")
	}
}

func TestAuthenticateToLinkedNotebook_SharedPathCachesResult(t *testing.T) {
	interactive := &fakeInteractiveAuth{info: model.AuthenticationInfo{
		AuthToken:           "own-tok",
		TokenExpirationTime: time.Now().Add(24 * time.Hour),
	}}
	sharedCalls := 0
	sharedNB := func(ctx context.Context, lnb model.LinkedNotebook, ownToken string) (model.AuthenticationInfo, error) {
		sharedCalls++
		return model.AuthenticationInfo{
			AuthToken:           "shared-tok",
			NoteStoreURL:        lnb.NoteStoreURL,
			TokenExpirationTime: time.Now().Add(24 * time.Hour),
		}, nil
	}
	p := New("test-app", newMemStore(), newMemStore(), interactive, sharedNB)
	account := model.Account{UserID: 1, EvernoteHost: "www.evernote.com"}
	lnb := model.LinkedNotebook{Entity: model.Entity{Guid: "lnb-1"}, SharedNotebookGlobalID: "shared-global-id", NoteStoreURL: "https://example.com/store"}

	info1, err := p.AuthenticateToLinkedNotebook(context.Background(), account, lnb, Cache)
	if err != nil {
		t.Fatalf("AuthenticateToLinkedNotebook failed: %v", err)
	}
	if info1.AuthToken != "shared-tok" {
		t.Errorf("got token %q, want shared-tok", info1.AuthToken)
	}

	info2, err := p.AuthenticateToLinkedNotebook(context.Background(), account, lnb, Cache)
	if err != nil {
		t.Fatalf("AuthenticateToLinkedNotebook failed: %v", err)
	}
	if info2.AuthToken != "shared-tok" {
		t.Errorf("got token %q, want shared-tok", info2.AuthToken)
	}
	if sharedCalls != 1 {
		t.Errorf("expected the second Cache-mode call to be served from the linked-notebook cache, got %d shared calls", sharedCalls)
	}
}
