// Package send implements the Sender: one "send" cycle that uploads
// the locally-modified set in dependency order: tags, notebooks,
// saved searches, then notes.
package send

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notewell/synccore/authprovider"
	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/localstore"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
	"github.com/notewell/synccore/status"
	"github.com/notewell/synccore/syncstate"
)

// Authenticator is the narrow slice of authprovider.Provider the
// Sender depends on.
type Authenticator interface {
	AuthenticateAccount(ctx context.Context, account model.Account, mode authprovider.Mode) (model.AuthenticationInfo, error)
	AuthenticateToLinkedNotebook(ctx context.Context, account model.Account, lnb model.LinkedNotebook, mode authprovider.Mode) (model.LinkedNotebookAuthInfo, error)
}

// NoteStores is the narrow slice of notestore.Provider the Sender
// depends on. Tags and notebooks pick a client by their own
// linked-notebook guid, notes by that of their owning notebook as
// found in the local store, and saved searches always use the user's
// own note store. The upload stages do not call
// NoteStoreForNotebookLocalID.
type NoteStores interface {
	UserOwnNoteStore(ctx context.Context, info model.AuthenticationInfo, want notestore.RequestContext) (notestore.RPCClient, error)
	LinkedNotebookNoteStore(ctx context.Context, guid string, info model.AuthenticationInfo, want notestore.RequestContext) (notestore.RPCClient, error)
	NoteStoreForNotebookLocalID(ctx context.Context, account model.Account, notebookLocalID string, userInfo model.AuthenticationInfo, linkedInfo func(guid string) (model.AuthenticationInfo, error), want notestore.RequestContext) (notestore.RPCClient, string, error)
}

// Result is the aggregated outcome of one Sender cycle.
type Result struct {
	UserOwn         *status.SendStatus
	LinkedNotebooks map[string]*status.SendStatus
	SyncState       model.SyncState
}

// Sender uploads one account's locally-modified entities.
type Sender struct {
	syncState syncstate.Store
	auth      Authenticator
	stores    NoteStores
	local     localstore.Store

	onProgress func(status.SendSnapshot)
}

func New(syncState syncstate.Store, auth Authenticator, stores NoteStores, local localstore.Store) *Sender {
	return &Sender{syncState: syncState, auth: auth, stores: stores, local: local}
}

func (s *Sender) OnProgress(cb func(status.SendSnapshot)) {
	s.onProgress = cb
}

func (s *Sender) publish(st *status.SendStatus) {
	if s.onProgress != nil {
		s.onProgress(st.Snapshot())
	}
}

// Cycle uploads every locally-modified tag, notebook, saved search and
// note for account, in that strict order, and writes the updated
// SyncState back at the end.
func (s *Sender) Cycle(ctx context.Context, account model.Account) (Result, error) {
	if !account.IsEvernoteAccount() {
		return Result{}, errs.InvalidArgument("send: account %q is not an Evernote account", account.Username)
	}

	last, err := s.syncState.Get(ctx, account)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("send: sync state read failed, assuming zero state")
		last = model.ZeroSyncState()
	}
	working := last.Clone()

	userInfo, err := s.auth.AuthenticateAccount(ctx, account, authprovider.Cache)
	if err != nil {
		return Result{}, err
	}

	linkedNotebooks, err := s.local.ListLinkedNotebooks(ctx, account)
	if err != nil {
		linkedNotebooks = nil
	}
	linkedByGuid := make(map[string]model.LinkedNotebook, len(linkedNotebooks))
	for _, lnb := range linkedNotebooks {
		if lnb.Guid != "" {
			linkedByGuid[lnb.Guid] = lnb
		}
	}
	linkedInfoFn := func(guid string) (model.AuthenticationInfo, error) {
		lnb, ok := linkedByGuid[guid]
		if !ok {
			return model.AuthenticationInfo{}, errs.Runtime(nil, "send: unknown linked notebook %q", guid)
		}
		info, err := s.auth.AuthenticateToLinkedNotebook(ctx, account, lnb, authprovider.Cache)
		if err != nil {
			return model.AuthenticationInfo{}, err
		}
		return info.AuthenticationInfo, nil
	}

	scope := &uploadScope{
		sender:           s,
		account:          account,
		userInfo:         userInfo,
		linkedInfoFn:     linkedInfoFn,
		userStatus:       status.NewSendStatus(),
		userWorkingUSN:   working.UserDataUpdateCount,
		linkedStatus:     map[string]*status.SendStatus{},
		linkedWorkingUSN: map[string]int32{},
	}
	for guid, usn := range working.LinkedNotebookUpdateCounts {
		scope.linkedWorkingUSN[guid] = usn
	}

	if err := ctx.Err(); err != nil {
		return Result{}, errs.Canceled(err)
	}

	newTagGuids, failedNewTagLocalIDs := scope.uploadTags(ctx)
	failedNewNotebookLocalIDs := scope.uploadNotebooks(ctx)
	scope.uploadSavedSearches(ctx)

	if stopErr := scope.anyStopError(); stopErr != nil {
		return Result{}, errs.Canceled(stopErr)
	}

	scope.uploadNotes(ctx, newTagGuids, failedNewTagLocalIDs, failedNewNotebookLocalIDs)

	if stopErr := scope.anyStopError(); stopErr != nil {
		return Result{}, errs.Canceled(stopErr)
	}

	working.UserDataUpdateCount = scope.userWorkingUSN
	working.UserDataLastSyncTime = time.Now()

	linkedResults := make(map[string]*status.SendStatus, len(scope.linkedStatus))
	now := time.Now()
	for guid, st := range scope.linkedStatus {
		linkedResults[guid] = st
		working.LinkedNotebookUpdateCounts[guid] = scope.linkedWorkingUSN[guid]
		working.LinkedNotebookLastSync[guid] = now
	}

	if err := s.syncState.Set(ctx, account, working); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("send: failed to persist updated sync state")
	}

	return Result{UserOwn: scope.userStatus, LinkedNotebooks: linkedResults, SyncState: working}, nil
}
