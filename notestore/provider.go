package notestore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
)

// LinkedNotebookFinder resolves whether a notebook belongs to a linked
// notebook, delegating to whatever local store backs the account.
type LinkedNotebookFinder interface {
	LinkedNotebookGuidForNotebookLocalID(ctx context.Context, account model.Account, notebookLocalID string) (guid string, ok bool, err error)
	LinkedNotebookGuidForNotebookGuid(ctx context.Context, account model.Account, notebookGuid string) (guid string, ok bool, err error)
	LinkedNotebookGuidForNoteLocalID(ctx context.Context, account model.Account, noteLocalID string) (guid string, ok bool, err error)
	LinkedNotebookGuidForNoteGuid(ctx context.Context, account model.Account, noteGuid string) (guid string, ok bool, err error)
}

// clientEntry is one cached client plus the request-context defaults
// it was built against and the auth expiry that invalidates it.
type clientEntry struct {
	client  RPCClient
	rc      RequestContext
	expires time.Time
}

func (e *clientEntry) aboutToExpire(now time.Time) bool {
	return e.expires.Sub(now) < 30*time.Minute
}

func sameDefaults(a, b RequestContext) bool {
	return a.ConnectTimeout == b.ConnectTimeout &&
		a.MaxRetries == b.MaxRetries &&
		a.ExponentialBackoff == b.ExponentialBackoff
}

// Provider caches RPC clients for the user's own note store (one
// slot) and for each linked notebook (keyed by guid). It mirrors the
// double-checked-locking cache the teacher uses for session refresh:
// an RLock fast path for the common case, a Lock slow path that
// re-checks before paying for a fresh client build.
type Provider struct {
	factory Factory
	finder  LinkedNotebookFinder

	userMu  sync.RWMutex
	user    *clientEntry

	linkedMu sync.RWMutex
	linked   map[string]*clientEntry
}

// NewProvider constructs a Provider. factory builds fresh clients;
// finder resolves notebook/note ownership for the *_for_notebook_*
// and *_for_note_* helpers.
func NewProvider(factory Factory, finder LinkedNotebookFinder) *Provider {
	return &Provider{
		factory: factory,
		finder:  finder,
		linked:  make(map[string]*clientEntry),
	}
}

// UserOwnNoteStore returns the cached client for info if it is not
// about to expire and its request-context defaults match want; else
// builds and caches a fresh one.
func (p *Provider) UserOwnNoteStore(ctx context.Context, info model.AuthenticationInfo, want RequestContext) (RPCClient, error) {
	now := time.Now()

	p.userMu.RLock()
	entry := p.user
	p.userMu.RUnlock()

	if entry != nil && !entry.aboutToExpire(now) && sameDefaults(entry.rc, want) {
		return entry.client, nil
	}

	p.userMu.Lock()
	defer p.userMu.Unlock()

	if p.user != nil && !p.user.aboutToExpire(now) && sameDefaults(p.user.rc, want) {
		return p.user.client, nil
	}

	client, err := p.factory.NewClient(info.NoteStoreURL)
	if err != nil {
		return nil, errs.Runtime(err, "notestore: build user-own client")
	}

	p.user = &clientEntry{client: client, rc: want, expires: info.TokenExpirationTime}
	log.Ctx(ctx).Debug().Str("note_store_url", info.NoteStoreURL).Msg("built fresh user-own note store client")
	return client, nil
}

// LinkedNotebookNoteStore is the linked-notebook equivalent of
// UserOwnNoteStore, keyed by guid.
func (p *Provider) LinkedNotebookNoteStore(ctx context.Context, linkedNotebookGuid string, info model.AuthenticationInfo, want RequestContext) (RPCClient, error) {
	now := time.Now()

	p.linkedMu.RLock()
	entry := p.linked[linkedNotebookGuid]
	p.linkedMu.RUnlock()

	if entry != nil && !entry.aboutToExpire(now) && sameDefaults(entry.rc, want) {
		return entry.client, nil
	}

	p.linkedMu.Lock()
	defer p.linkedMu.Unlock()

	if e := p.linked[linkedNotebookGuid]; e != nil && !e.aboutToExpire(now) && sameDefaults(e.rc, want) {
		return e.client, nil
	}

	client, err := p.factory.NewClient(info.NoteStoreURL)
	if err != nil {
		return nil, errs.Runtime(err, "notestore: build linked-notebook client for %s", linkedNotebookGuid)
	}

	p.linked[linkedNotebookGuid] = &clientEntry{client: client, rc: want, expires: info.TokenExpirationTime}
	log.Ctx(ctx).Debug().Str("linked_notebook_guid", linkedNotebookGuid).Msg("built fresh linked-notebook note store client")
	return client, nil
}

// NoteStoreForNotebookLocalID resolves whether notebookLocalID belongs
// to a linked notebook and delegates to the matching cache. Callers
// must supply the auth info for whichever scope is selected.
func (p *Provider) NoteStoreForNotebookLocalID(ctx context.Context, account model.Account, notebookLocalID string, userInfo model.AuthenticationInfo, linkedInfo func(guid string) (model.AuthenticationInfo, error), want RequestContext) (RPCClient, string, error) {
	guid, ok, err := p.finder.LinkedNotebookGuidForNotebookLocalID(ctx, account, notebookLocalID)
	if err != nil {
		return nil, "", errs.Runtime(err, "notestore: resolve linked notebook for notebook %s", notebookLocalID)
	}
	if !ok || guid == "" {
		c, err := p.UserOwnNoteStore(ctx, userInfo, want)
		return c, "", err
	}
	info, err := linkedInfo(guid)
	if err != nil {
		return nil, guid, err
	}
	c, err := p.LinkedNotebookNoteStore(ctx, guid, info, want)
	return c, guid, err
}

// NoteStoreForNoteLocalID resolves the owning notebook first, then
// delegates exactly like NoteStoreForNotebookLocalID.
func (p *Provider) NoteStoreForNoteLocalID(ctx context.Context, account model.Account, noteLocalID string, userInfo model.AuthenticationInfo, linkedInfo func(guid string) (model.AuthenticationInfo, error), want RequestContext) (RPCClient, string, error) {
	guid, ok, err := p.finder.LinkedNotebookGuidForNoteLocalID(ctx, account, noteLocalID)
	if err != nil {
		return nil, "", errs.Runtime(err, "notestore: resolve linked notebook for note %s", noteLocalID)
	}
	if !ok || guid == "" {
		c, err := p.UserOwnNoteStore(ctx, userInfo, want)
		return c, "", err
	}
	info, err := linkedInfo(guid)
	if err != nil {
		return nil, guid, err
	}
	c, err := p.LinkedNotebookNoteStore(ctx, guid, info, want)
	return c, guid, err
}

// ClearCaches drops every cached client, forcing the next call of any
// kind to build fresh ones.
func (p *Provider) ClearCaches() {
	p.userMu.Lock()
	p.user = nil
	p.userMu.Unlock()

	p.linkedMu.Lock()
	p.linked = make(map[string]*clientEntry)
	p.linkedMu.Unlock()
}
