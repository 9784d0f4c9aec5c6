// Package download implements the Downloader: one sync cycle that
// pulls server-side changes into the local store.
package download

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/notewell/synccore/authprovider"
	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/localstore"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
	"github.com/notewell/synccore/status"
	"github.com/notewell/synccore/syncstate"
)

// Authenticator is the narrow slice of authprovider.Provider the
// Downloader depends on.
type Authenticator interface {
	AuthenticateAccount(ctx context.Context, account model.Account, mode authprovider.Mode) (model.AuthenticationInfo, error)
	AuthenticateToLinkedNotebook(ctx context.Context, account model.Account, lnb model.LinkedNotebook, mode authprovider.Mode) (model.LinkedNotebookAuthInfo, error)
}

// NoteStores is the narrow slice of notestore.Provider the Downloader
// depends on.
type NoteStores interface {
	UserOwnNoteStore(ctx context.Context, info model.AuthenticationInfo, want notestore.RequestContext) (notestore.RPCClient, error)
	LinkedNotebookNoteStore(ctx context.Context, guid string, info model.AuthenticationInfo, want notestore.RequestContext) (notestore.RPCClient, error)
}

// StaleDataExpunger runs the full-sync stale-data cleanup. It is called
// on a full sync that is not the scope's first, with the guids found in
// the downloaded chunks; localstore.Maintenance's implementation
// expunges the scope's local notebooks whose guids are not among them.
type StaleDataExpunger interface {
	ExpungeStaleData(ctx context.Context, account model.Account, preservedGuids []string, scope string) error
}

// LinkedNotebookTagsCleaner runs once after all linked-notebook
// sub-pipelines complete. localstore.Maintenance's implementation
// expunges tags whose linked notebook is no longer in the local store;
// it does not check whether a tag still has notes.
type LinkedNotebookTagsCleaner interface {
	CleanStaleLinkedNotebookTags(ctx context.Context, account model.Account) error
}

// LocalResult bundles the three accumulators one scope (user-own or
// one linked notebook) produced.
type LocalResult struct {
	Counters  *status.SyncChunksDataCounters
	Notes     *status.DownloadNotesStatus
	Resources *status.DownloadResourcesStatus
}

func newLocalResult() LocalResult {
	return LocalResult{
		Counters:  status.NewSyncChunksDataCounters(),
		Notes:     status.NewDownloadNotesStatus(),
		Resources: status.NewDownloadResourcesStatus(),
	}
}

// Result is the aggregated outcome of one Downloader cycle.
type Result struct {
	UserOwn         LocalResult
	LinkedNotebooks map[string]LocalResult
	SyncState       model.SyncState
}

const maxChunkEntries = 1000

// Downloader runs sync cycles for one account.
type Downloader struct {
	syncState syncstate.Store
	auth      Authenticator
	stores    NoteStores
	local     localstore.Store

	expunger     StaleDataExpunger
	tagsCleaner  LinkedNotebookTagsCleaner

	onCounters func(status.CountersSnapshot)
}

func New(syncState syncstate.Store, auth Authenticator, stores NoteStores, local localstore.Store, expunger StaleDataExpunger, tagsCleaner LinkedNotebookTagsCleaner) *Downloader {
	return &Downloader{
		syncState:   syncState,
		auth:        auth,
		stores:      stores,
		local:       local,
		expunger:    expunger,
		tagsCleaner: tagsCleaner,
	}
}

// OnCountersUpdate registers a callback invoked after each processor
// emits a progress update. It is a plain closure, not a weak
// reference — callers wanting weak semantics route it through
// status.WeakProgressObserver.Fire themselves.
func (d *Downloader) OnCountersUpdate(cb func(status.CountersSnapshot)) {
	d.onCounters = cb
}

func (d *Downloader) publish(c *status.SyncChunksDataCounters) {
	if d.onCounters != nil {
		d.onCounters(c.Snapshot())
	}
}

// Cycle runs one full download cycle for account.
func (d *Downloader) Cycle(ctx context.Context, account model.Account) (Result, error) {
	if !account.IsEvernoteAccount() {
		return Result{}, errs.InvalidArgument("download: account %q is not an Evernote account", account.Username)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, errs.Canceled(err)
	}

	last, err := d.syncState.Get(ctx, account)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("download: sync state read failed, assuming zero state")
		last = model.ZeroSyncState()
	}
	working := last.Clone()

	userInfo, err := d.auth.AuthenticateAccount(ctx, account, authprovider.Cache)
	if err != nil {
		return Result{}, err
	}

	rc := notestore.RequestContext{AuthToken: userInfo.AuthToken, Cookies: userInfo.UserStoreCookies, MaxRetries: 3, ExponentialBackoff: true}
	client, err := d.stores.UserOwnNoteStore(ctx, userInfo, rc)
	if err != nil {
		return Result{}, err
	}

	if err := ctx.Err(); err != nil {
		return Result{}, errs.Canceled(err)
	}

	userResult := newLocalResult()
	userHighUSN, isFullSync, err := d.runScope(ctx, account, client, rc, "user-own", working.UserDataUpdateCount, working.UserDataLastSyncTime, userResult)
	if err != nil {
		return Result{}, err
	}
	if userHighUSN != nil && *userHighUSN > working.UserDataUpdateCount {
		working.UserDataUpdateCount = *userHighUSN
		working.UserDataLastSyncTime = time.Now()
	}

	linkedResults, err := d.runLinkedNotebooks(ctx, account, userInfo, working, isFullSync)
	if err != nil {
		return Result{}, err
	}

	if d.tagsCleaner != nil {
		if err := d.tagsCleaner.CleanStaleLinkedNotebookTags(ctx, account); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("download: linked-notebook tag cleanup failed")
		}
	}

	if err := d.syncState.Set(ctx, account, working); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("download: failed to persist updated sync state")
	}

	return Result{UserOwn: userResult, LinkedNotebooks: linkedResults, SyncState: working}, nil
}

// runScope fetches and processes chunks for the user-own scope
// starting at startUSN, and returns the highest chunk_high_usn
// observed (or nil if none of the chunks carried one) plus whether
// this cycle decided on a full sync — the caller threads that
// decision into the linked-notebook sub-pipelines too, since full vs.
// incremental is a single cycle-wide mode, not a per-scope one.
func (d *Downloader) runScope(ctx context.Context, account model.Account, client notestore.RPCClient, rc notestore.RequestContext, scope string, startUSN int32, lastSyncTime time.Time, result LocalResult) (*int32, bool, error) {
	serverState, err := client.GetSyncState(ctx, rc)
	if err != nil {
		return nil, false, classifyFatal(err)
	}

	isFullSync := serverState.FullSyncBefore > lastSyncTime.UnixMilli()
	afterUSN := startUSN
	if isFullSync {
		afterUSN = 0
	} else if serverState.UpdateCount == startUSN {
		// No new data; still run the notes/resources processors with
		// empty chunks so previously-failed items get retried.
		highUSN, err := d.processChunks(ctx, account, client, rc, scope, []model.SyncChunk{}, isFullSync && startUSN > 0, result)
		return highUSN, isFullSync, err
	}

	var chunks []model.SyncChunk
	usn := afterUSN
	for {
		if err := ctx.Err(); err != nil {
			return nil, isFullSync, errs.Canceled(err)
		}
		chunk, err := client.GetFilteredSyncChunk(ctx, rc, usn, maxChunkEntries)
		if err != nil {
			return nil, isFullSync, classifyFatal(err)
		}
		chunks = append(chunks, chunk)
		if chunk.ChunkHighUSN == nil || *chunk.ChunkHighUSN >= serverState.UpdateCount {
			break
		}
		usn = *chunk.ChunkHighUSN
	}

	notFirstSync := startUSN > 0
	highUSN, err := d.processChunks(ctx, account, client, rc, scope, chunks, isFullSync && notFirstSync, result)
	return highUSN, isFullSync, err
}

// processChunks runs the full-sync guard, the four
// parallel entity processors, then notes, then resources.
func (d *Downloader) processChunks(ctx context.Context, account model.Account, client notestore.RPCClient, rc notestore.RequestContext, scope string, chunks []model.SyncChunk, runStaleGuard bool, result LocalResult) (*int32, error) {
	if runStaleGuard && d.expunger != nil {
		preserved := preservedGuids(chunks)
		if err := d.expunger.ExpungeStaleData(ctx, account, preserved, scope); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("download: stale data expunge failed")
		}
	}

	seedCounters(result.Counters, chunks)

	if err := ctx.Err(); err != nil {
		return nil, errs.Canceled(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.processNotebooks(gctx, account, chunks, result.Counters) })
	g.Go(func() error { return d.processTags(gctx, account, chunks, result.Counters) })
	if scope == "user-own" {
		g.Go(func() error { return d.processSavedSearches(gctx, account, chunks, result.Counters) })
		g.Go(func() error { return d.processLinkedNotebooks(gctx, account, chunks, result.Counters) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errs.Canceled(err)
	}
	d.processNotes(ctx, account, client, rc, chunks, result.Notes)

	if err := ctx.Err(); err != nil {
		return nil, errs.Canceled(err)
	}
	d.processResources(ctx, account, client, rc, chunks, result.Resources)

	return highestChunkUSN(chunks), nil
}

func highestChunkUSN(chunks []model.SyncChunk) *int32 {
	var highest *int32
	for _, c := range chunks {
		if c.ChunkHighUSN == nil {
			return nil
		}
		if highest == nil || *c.ChunkHighUSN > *highest {
			v := *c.ChunkHighUSN
			highest = &v
		}
	}
	return highest
}

func preservedGuids(chunks []model.SyncChunk) []string {
	var guids []string
	for _, c := range chunks {
		for _, nb := range c.Notebooks {
			guids = append(guids, nb.Guid)
		}
		for _, t := range c.Tags {
			guids = append(guids, t.Guid)
		}
		for _, n := range c.Notes {
			guids = append(guids, n.Guid)
		}
		for _, s := range c.SavedSearch {
			guids = append(guids, s.Guid)
		}
	}
	return guids
}

func seedCounters(c *status.SyncChunksDataCounters, chunks []model.SyncChunk) {
	for _, chunk := range chunks {
		c.AddTotals("notebooks", len(chunk.Notebooks), len(chunk.ExpungedNotebooks))
		c.AddTotals("tags", len(chunk.Tags), len(chunk.ExpungedTags))
		c.AddTotals("saved_searches", len(chunk.SavedSearch), len(chunk.ExpungedSavedSearch))
		c.AddTotals("linked_notebooks", len(chunk.LinkedNbs), len(chunk.ExpungedLinkedNbs))
	}
}

func classifyFatal(err error) error {
	if pe, ok := errs.AsProtocolError(err); ok && pe.IsFatal() {
		return errs.Canceled(pe)
	}
	return err
}
