package download

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notewell/synccore/authprovider"
	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
	"github.com/notewell/synccore/status"
)

func (d *Downloader) processNotebooks(ctx context.Context, account model.Account, chunks []model.SyncChunk, counters *status.SyncChunksDataCounters) error {
	for _, chunk := range chunks {
		for _, nb := range chunk.Notebooks {
			if err := d.local.PutNotebook(ctx, account, nb); err != nil {
				return errs.Runtime(err, "download: persist notebook %s", nb.Guid)
			}
			counters.MarkProcessed("notebooks", 1, 0)
			d.publish(counters)
		}
		for _, guid := range chunk.ExpungedNotebooks {
			if err := d.local.ExpungeNotebook(ctx, account, guid); err != nil {
				return errs.Runtime(err, "download: expunge notebook %s", guid)
			}
			counters.MarkProcessed("notebooks", 0, 1)
			d.publish(counters)
		}
	}
	return nil
}

func (d *Downloader) processTags(ctx context.Context, account model.Account, chunks []model.SyncChunk, counters *status.SyncChunksDataCounters) error {
	for _, chunk := range chunks {
		for _, t := range chunk.Tags {
			if err := d.local.PutTag(ctx, account, t); err != nil {
				return errs.Runtime(err, "download: persist tag %s", t.Guid)
			}
			counters.MarkProcessed("tags", 1, 0)
			d.publish(counters)
		}
		for _, guid := range chunk.ExpungedTags {
			if err := d.local.ExpungeTag(ctx, account, guid); err != nil {
				return errs.Runtime(err, "download: expunge tag %s", guid)
			}
			counters.MarkProcessed("tags", 0, 1)
			d.publish(counters)
		}
	}
	return nil
}

func (d *Downloader) processSavedSearches(ctx context.Context, account model.Account, chunks []model.SyncChunk, counters *status.SyncChunksDataCounters) error {
	for _, chunk := range chunks {
		for _, s := range chunk.SavedSearch {
			if err := d.local.PutSavedSearch(ctx, account, s); err != nil {
				return errs.Runtime(err, "download: persist saved search %s", s.Guid)
			}
			counters.MarkProcessed("saved_searches", 1, 0)
			d.publish(counters)
		}
		for _, guid := range chunk.ExpungedSavedSearch {
			if err := d.local.ExpungeSavedSearch(ctx, account, guid); err != nil {
				return errs.Runtime(err, "download: expunge saved search %s", guid)
			}
			counters.MarkProcessed("saved_searches", 0, 1)
			d.publish(counters)
		}
	}
	return nil
}

func (d *Downloader) processLinkedNotebooks(ctx context.Context, account model.Account, chunks []model.SyncChunk, counters *status.SyncChunksDataCounters) error {
	for _, chunk := range chunks {
		for _, lnb := range chunk.LinkedNbs {
			if err := d.local.PutLinkedNotebook(ctx, account, lnb); err != nil {
				return errs.Runtime(err, "download: persist linked notebook %s", lnb.Guid)
			}
			counters.MarkProcessed("linked_notebooks", 1, 0)
			d.publish(counters)
		}
		for _, guid := range chunk.ExpungedLinkedNbs {
			if err := d.local.ExpungeLinkedNotebook(ctx, account, guid); err != nil {
				return errs.Runtime(err, "download: expunge linked notebook %s", guid)
			}
			counters.MarkProcessed("linked_notebooks", 0, 1)
			d.publish(counters)
		}
	}
	return nil
}

// processNotes fetches the full body for every note in chunks and
// every note-expunge. Per-note failures are recorded, never fail the
// stage.
func (d *Downloader) processNotes(ctx context.Context, account model.Account, client notestore.RPCClient, rc notestore.RequestContext, chunks []model.SyncChunk, st *status.DownloadNotesStatus) {
	for _, chunk := range chunks {
		for _, stub := range chunk.Notes {
			if ctx.Err() != nil {
				st.MarkCancelled()
				continue
			}
			note, resources, err := client.GetNoteWithResultSpec(ctx, rc, stub.Guid, true, true)
			if err != nil {
				if pe, ok := errs.AsProtocolError(err); ok && pe.IsFatal() {
					st.SetStopError(pe)
					st.MarkCancelled()
					continue
				}
				st.MarkFailed(errs.EntityFailure{Guid: stub.Guid, Err: err})
				continue
			}
			if err := d.local.PutNote(ctx, account, note); err != nil {
				st.MarkFailedProcessing(errs.EntityFailure{Guid: note.Guid, Err: err})
				continue
			}
			for _, r := range resources {
				if err := d.local.PutResource(ctx, account, r); err != nil {
					st.MarkFailedProcessing(errs.EntityFailure{Guid: r.Guid, Err: err})
				}
			}
			st.MarkProcessed()
		}
		for _, guid := range chunk.ExpungedNotes {
			if err := d.local.ExpungeNote(ctx, account, guid); err != nil {
				st.MarkFailedProcessing(errs.EntityFailure{Guid: guid, Err: err})
				continue
			}
			st.MarkProcessed()
		}
	}
}

func (d *Downloader) processResources(ctx context.Context, account model.Account, client notestore.RPCClient, rc notestore.RequestContext, chunks []model.SyncChunk, st *status.DownloadResourcesStatus) {
	for _, chunk := range chunks {
		for _, stub := range chunk.Resources {
			if ctx.Err() != nil {
				st.MarkCancelled()
				continue
			}
			resource, err := client.GetResource(ctx, rc, stub.Guid, true)
			if err != nil {
				if pe, ok := errs.AsProtocolError(err); ok && pe.IsFatal() {
					st.SetStopError(pe)
					st.MarkCancelled()
					continue
				}
				st.MarkFailed(errs.EntityFailure{Guid: stub.Guid, Err: err})
				continue
			}
			if err := d.local.PutResource(ctx, account, resource); err != nil {
				st.MarkFailedProcessing(errs.EntityFailure{Guid: resource.Guid, Err: err})
				continue
			}
			st.MarkProcessed()
		}
		for _, guid := range chunk.ExpungedResources {
			if err := d.local.ExpungeResource(ctx, account, guid); err != nil {
				st.MarkFailedProcessing(errs.EntityFailure{Guid: guid, Err: err})
				continue
			}
			st.MarkProcessed()
		}
	}
}

// runLinkedNotebooks drives the per-linked-notebook sub-pipelines
// concurrently as plain goroutines sharing ctx, fanning their outcomes
// in through a channel. The sub-pipelines only read working; its
// linked-notebook maps are updated in place once every sub-pipeline
// has returned, so no map is written while another goroutine reads it. isFullSync
// is the mode the cycle already decided for the user-own scope; it
// applies to every linked notebook too, since full vs. incremental is
// one cycle-wide decision, not a per-linked-notebook one.
func (d *Downloader) runLinkedNotebooks(ctx context.Context, account model.Account, userInfo model.AuthenticationInfo, working model.SyncState, isFullSync bool) (map[string]LocalResult, error) {
	lnbs, err := d.local.ListLinkedNotebooks(ctx, account)
	if err != nil {
		return nil, errs.Runtime(err, "download: list linked notebooks")
	}

	type outcome struct {
		guid    string
		result  LocalResult
		highUSN *int32
		err     error
	}

	results := make(map[string]LocalResult, len(lnbs))
	outcomes := make(chan outcome, len(lnbs))

	active := 0
	for _, lnb := range lnbs {
		if !lnb.HasGuid() {
			continue
		}
		active++
		go func(lnb model.LinkedNotebook) {
			r, usn, err := d.runLinkedNotebookSubPipeline(ctx, account, lnb, userInfo, working, isFullSync)
			outcomes <- outcome{guid: lnb.Guid, result: r, highUSN: usn, err: err}
		}(lnb)
	}

	collected := make([]outcome, 0, active)
	for i := 0; i < active; i++ {
		collected = append(collected, <-outcomes)
	}

	for _, o := range collected {
		if o.err != nil {
			log.Ctx(ctx).Warn().Err(o.err).Str("linked_notebook_guid", o.guid).Msg("download: linked notebook sub-pipeline failed")
			continue
		}
		results[o.guid] = o.result
		if o.highUSN != nil {
			prev := working.LinkedNotebookUpdateCounts[o.guid]
			if *o.highUSN > prev {
				working.LinkedNotebookUpdateCounts[o.guid] = *o.highUSN
				working.LinkedNotebookLastSync[o.guid] = time.Now()
			}
		}
	}

	return results, nil
}

func (d *Downloader) runLinkedNotebookSubPipeline(ctx context.Context, account model.Account, lnb model.LinkedNotebook, userInfo model.AuthenticationInfo, working model.SyncState, isFullSync bool) (LocalResult, *int32, error) {
	result := newLocalResult()

	info, err := d.auth.AuthenticateToLinkedNotebook(ctx, account, lnb, authprovider.Cache)
	if err != nil {
		return result, nil, err
	}

	rc := notestore.RequestContext{AuthToken: info.AuthToken, MaxRetries: 3, ExponentialBackoff: true}
	client, err := d.stores.LinkedNotebookNoteStore(ctx, lnb.Guid, info.AuthenticationInfo, rc)
	if err != nil {
		return result, nil, err
	}

	serverState, err := client.GetLinkedNotebookSyncState(ctx, rc, lnb.Guid)
	if err != nil {
		return result, nil, classifyFatal(err)
	}

	startUSN := working.LinkedNotebookUpdateCounts[lnb.Guid]
	afterUSN := startUSN
	if isFullSync {
		afterUSN = 0
	} else if startUSN == serverState.UpdateCount {
		return result, nil, nil // short-circuit: nothing new
	}

	var chunks []model.SyncChunk
	usn := afterUSN
	for {
		if err := ctx.Err(); err != nil {
			return result, nil, errs.Canceled(err)
		}
		chunk, err := client.GetLinkedNotebookSyncChunk(ctx, rc, lnb.Guid, usn, maxChunkEntries)
		if err != nil {
			return result, nil, classifyFatal(err)
		}
		chunks = append(chunks, chunk)
		if chunk.ChunkHighUSN == nil || *chunk.ChunkHighUSN >= serverState.UpdateCount {
			break
		}
		usn = *chunk.ChunkHighUSN
	}

	notFirstSync := startUSN > 0
	highUSN, err := d.processChunks(ctx, account, client, rc, "linked:"+lnb.Guid, chunks, isFullSync && notFirstSync, result)
	return result, highUSN, err
}
