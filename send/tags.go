package send

import (
	"context"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
)

func (u *uploadScope) noteStoreForTag(ctx context.Context, tag model.Tag) (notestore.RPCClient, error) {
	if tag.LinkedNotebookGuid == nil || *tag.LinkedNotebookGuid == "" {
		return u.sender.stores.UserOwnNoteStore(ctx, u.userInfo, u.requestContext())
	}
	info, err := u.linkedInfoFn(*tag.LinkedNotebookGuid)
	if err != nil {
		return nil, err
	}
	return u.sender.stores.LinkedNotebookNoteStore(ctx, *tag.LinkedNotebookGuid, info, u.requestContext())
}

// uploadTags uploads tags parent-before-child: topological sort, cascade-failure
// propagation, create-vs-update by presence of update_sequence_num.
// It returns the freshly-assigned local-id -> guid map for tags that
// succeeded this cycle, and the set of new-tag local ids that failed
// (consumed by note upload).
func (u *uploadScope) uploadTags(ctx context.Context) (newTagGuids map[string]string, failedNewTagLocalIDs map[string]bool) {
	newTagGuids = map[string]string{}
	failedNewTagLocalIDs = map[string]bool{}

	tags, err := u.sender.local.ListTags(ctx, u.account)
	if err != nil {
		return newTagGuids, failedNewTagLocalIDs
	}

	var modified []model.Tag
	for _, t := range tags {
		if t.LocallyModified {
			modified = append(modified, t)
		}
	}
	ordered := topoSortTags(modified)

	failedLocalIDs := map[string]bool{}

	rc := u.requestContext()
	for _, tag := range ordered {
		linkedGuid := guidOrEmpty(tag.LinkedNotebookGuid)
		st := u.statusFor(linkedGuid)

		if u.anyStopError() != nil {
			return newTagGuids, failedNewTagLocalIDs
		}

		if tag.ParentTagLocalID != nil && failedLocalIDs[*tag.ParentTagLocalID] {
			failedLocalIDs[tag.LocalID] = true
			if tag.IsNew() {
				failedNewTagLocalIDs[tag.LocalID] = true
			}
			st.MarkTag(false, errs.EntityFailure{LocalID: tag.LocalID, Err: errs.Runtime(nil, "send: parent tag failed, cascading failure")})
			u.sender.publish(st)
			continue
		}

		if tag.ParentTagLocalID != nil {
			if guid, ok := newTagGuids[*tag.ParentTagLocalID]; ok {
				tag.ParentTagGuid = &guid
			}
		}

		client, err := u.noteStoreForTag(ctx, tag)
		if err != nil {
			u.recordTagFailure(linkedGuid, tag, err, failedLocalIDs, newTagGuids, failedNewTagLocalIDs)
			continue
		}

		var result model.Tag
		if tag.IsNew() {
			result, err = client.CreateTag(ctx, rc, tag)
		} else {
			result, err = client.UpdateTag(ctx, rc, tag)
		}

		if err != nil {
			if pe, ok := errs.AsProtocolError(err); ok && pe.IsFatal() {
				st.SetStopError(pe)
			}
			u.recordTagFailure(linkedGuid, tag, err, failedLocalIDs, newTagGuids, failedNewTagLocalIDs)
			continue
		}

		result.LocallyModified = false
		if err := u.sender.local.PutTag(ctx, u.account, result); err != nil {
			// Persistence failure after success never fails the status:
			// the server state has advanced, it self-heals next sync.
		}
		if result.UpdateSequenceNumber != nil {
			u.checkMonotonicity(linkedGuid, *result.UpdateSequenceNumber)
		}
		newTagGuids[tag.LocalID] = result.Guid
		st.MarkTag(true, errs.EntityFailure{})
		u.sender.publish(st)
	}

	return newTagGuids, failedNewTagLocalIDs
}

func (u *uploadScope) recordTagFailure(linkedGuid string, tag model.Tag, err error, failedLocalIDs map[string]bool, newTagGuids map[string]string, failedNewTagLocalIDs map[string]bool) {
	failedLocalIDs[tag.LocalID] = true
	if tag.IsNew() {
		failedNewTagLocalIDs[tag.LocalID] = true
	}
	st := u.statusFor(linkedGuid)
	st.MarkTag(false, errs.EntityFailure{LocalID: tag.LocalID, Guid: tag.Guid, Err: err})
	u.sender.publish(st)
}
