package send

import (
	"context"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
)

func (u *uploadScope) noteStoreForNotebook(ctx context.Context, nb model.Notebook) (notestore.RPCClient, error) {
	if nb.LinkedNotebook == nil || *nb.LinkedNotebook == "" {
		return u.sender.stores.UserOwnNoteStore(ctx, u.userInfo, u.requestContext())
	}
	info, err := u.linkedInfoFn(*nb.LinkedNotebook)
	if err != nil {
		return nil, err
	}
	return u.sender.stores.LinkedNotebookNoteStore(ctx, *nb.LinkedNotebook, info, u.requestContext())
}

// uploadNotebooks uploads every locally-modified notebook. It returns
// the set of new-notebook local ids that failed, consumed by note
// upload. It keeps no notebook -> linked-notebook map for the cycle:
// note upload looks each note's notebook up in the local store again
// (see noteStoreForNote).
func (u *uploadScope) uploadNotebooks(ctx context.Context) (failedNewNotebookLocalIDs map[string]bool) {
	failedNewNotebookLocalIDs = map[string]bool{}

	notebooks, err := u.sender.local.ListNotebooks(ctx, u.account)
	if err != nil {
		return failedNewNotebookLocalIDs
	}

	rc := u.requestContext()
	for _, nb := range notebooks {
		if !nb.LocallyModified {
			continue
		}
		linkedGuid := guidOrEmpty(nb.LinkedNotebook)
		st := u.statusFor(linkedGuid)

		if u.anyStopError() != nil {
			return failedNewNotebookLocalIDs
		}

		client, err := u.noteStoreForNotebook(ctx, nb)
		if err != nil {
			u.recordNotebookFailure(linkedGuid, nb, err, failedNewNotebookLocalIDs)
			continue
		}

		var result model.Notebook
		if nb.IsNew() {
			result, err = client.CreateNotebook(ctx, rc, nb)
		} else {
			result, err = client.UpdateNotebook(ctx, rc, nb)
		}
		if err != nil {
			if pe, ok := errs.AsProtocolError(err); ok && pe.IsFatal() {
				st.SetStopError(pe)
			}
			u.recordNotebookFailure(linkedGuid, nb, err, failedNewNotebookLocalIDs)
			continue
		}

		result.LocallyModified = false
		_ = u.sender.local.PutNotebook(ctx, u.account, result)
		if result.UpdateSequenceNumber != nil {
			u.checkMonotonicity(linkedGuid, *result.UpdateSequenceNumber)
		}
		st.MarkNotebook(true, errs.EntityFailure{})
		u.sender.publish(st)
	}

	return failedNewNotebookLocalIDs
}

func (u *uploadScope) recordNotebookFailure(linkedGuid string, nb model.Notebook, err error, failedNewNotebookLocalIDs map[string]bool) {
	if nb.IsNew() {
		failedNewNotebookLocalIDs[nb.LocalID] = true
	}
	st := u.statusFor(linkedGuid)
	st.MarkNotebook(false, errs.EntityFailure{LocalID: nb.LocalID, Guid: nb.Guid, Err: err})
	u.sender.publish(st)
}
