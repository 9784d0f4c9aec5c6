package send

import (
	"context"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/localstore"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
)

// uploadNotes uploads notes sequentially per
// scope so server-side USN advancement stays observable.
func (u *uploadScope) uploadNotes(ctx context.Context, newTagGuids map[string]string, failedNewTagLocalIDs, failedNewNotebookLocalIDs map[string]bool) {
	notes, err := u.sender.local.ListNotes(ctx, u.account, localstore.ListNotesOptions{LocallyModifiedOnly: true})
	if err != nil {
		return
	}

	rc := u.requestContext()

	for _, note := range notes {
		if u.anyStopError() != nil {
			return
		}

		if failedNewNotebookLocalIDs[note.NotebookLocalID] {
			// Owning notebook's scope is unresolved (it failed before we
			// could find out), so record against the user-own status.
			u.userStatus.MarkNote(false, errs.EntityFailure{LocalID: note.LocalID, Guid: note.Guid, Err: errs.Runtime(nil, "send: owning notebook failed to upload")})
			u.sender.publish(u.userStatus)
			continue
		}

		containsFailedTag := false
		for _, tagLocalID := range note.TagLocalIDs {
			if failedNewTagLocalIDs[tagLocalID] {
				containsFailedTag = true
				break
			}
		}

		tagGuids := append([]string(nil), note.TagGuids...)
		for _, tagLocalID := range note.TagLocalIDs {
			if guid, ok := newTagGuids[tagLocalID]; ok {
				tagGuids = append(tagGuids, guid)
			}
		}
		note.TagGuids = tagGuids
		note.ContainsFailedTag = containsFailedTag

		resources, err := u.sender.local.ListResourcesForNote(ctx, u.account, note.LocalID)
		if err != nil {
			resources = nil
		}

		client, linkedGuid, err := u.noteStoreForNote(ctx, note)
		if err != nil {
			u.userStatus.MarkNote(false, errs.EntityFailure{LocalID: note.LocalID, Guid: note.Guid, Err: err})
			u.sender.publish(u.userStatus)
			continue
		}
		st := u.statusFor(linkedGuid)

		var resultNote model.Note
		var resultResources []model.Resource
		if note.IsNew() {
			resultNote, resultResources, err = client.CreateNote(ctx, rc, note, resources)
		} else {
			resultNote, resultResources, err = client.UpdateNote(ctx, rc, note, resources)
		}
		if err != nil {
			if pe, ok := errs.AsProtocolError(err); ok && pe.IsFatal() {
				st.SetStopError(pe)
			}
			st.MarkNote(false, errs.EntityFailure{LocalID: note.LocalID, Guid: note.Guid, Err: err})
			u.sender.publish(st)
			continue
		}

		resultNote.LocallyModified = containsFailedTag
		resultNote.ContainsFailedTag = containsFailedTag
		_ = u.sender.local.PutNote(ctx, u.account, resultNote)
		for _, r := range resultResources {
			_ = u.sender.local.PutResource(ctx, u.account, r)
		}
		if resultNote.UpdateSequenceNumber != nil {
			u.checkMonotonicity(linkedGuid, *resultNote.UpdateSequenceNumber)
		}
		st.MarkNote(true, errs.EntityFailure{})
		u.sender.publish(st)
	}
}

// noteStoreForNote resolves the note's owning notebook to decide
// whether this note belongs to a linked notebook, mirroring
// note_store_for_note_* delegation rule. It returns the resolved
// linked-notebook guid ("" for the user's own account) alongside the
// client, so the caller can attribute the upload to the right scope.
func (u *uploadScope) noteStoreForNote(ctx context.Context, note model.Note) (notestore.RPCClient, string, error) {
	nb, ok, err := u.sender.local.FindNotebookByLocalID(ctx, u.account, note.NotebookLocalID)
	if err != nil {
		return nil, "", errs.Runtime(err, "send: resolve owning notebook for note %s", note.LocalID)
	}
	if !ok || nb.LinkedNotebook == nil || *nb.LinkedNotebook == "" {
		client, err := u.sender.stores.UserOwnNoteStore(ctx, u.userInfo, u.requestContext())
		return client, "", err
	}
	info, err := u.linkedInfoFn(*nb.LinkedNotebook)
	if err != nil {
		return nil, "", err
	}
	client, err := u.sender.stores.LinkedNotebookNoteStore(ctx, *nb.LinkedNotebook, info, u.requestContext())
	return client, *nb.LinkedNotebook, err
}
