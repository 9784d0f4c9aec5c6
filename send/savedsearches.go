package send

import (
	"context"

	"github.com/notewell/synccore/errs"
	"github.com/notewell/synccore/model"
)

// uploadSavedSearches uploads saved searches: user-own only, no dependency
// interactions with the other entity kinds.
func (u *uploadScope) uploadSavedSearches(ctx context.Context) {
	searches, err := u.sender.local.ListSavedSearches(ctx, u.account)
	if err != nil {
		return
	}

	rc := u.requestContext()
	client, err := u.sender.stores.UserOwnNoteStore(ctx, u.userInfo, rc)
	if err != nil {
		return
	}

	for _, s := range searches {
		if !s.LocallyModified {
			continue
		}
		if u.anyStopError() != nil {
			return
		}

		var result model.SavedSearch
		if s.IsNew() {
			result, err = client.CreateSearch(ctx, rc, s)
		} else {
			result, err = client.UpdateSearch(ctx, rc, s)
		}
		if err != nil {
			if pe, ok := errs.AsProtocolError(err); ok && pe.IsFatal() {
				u.userStatus.SetStopError(pe)
			}
			u.userStatus.MarkSavedSearch(false, errs.EntityFailure{LocalID: s.LocalID, Guid: s.Guid, Err: err})
			u.sender.publish(u.userStatus)
			continue
		}

		result.LocallyModified = false
		_ = u.sender.local.PutSavedSearch(ctx, u.account, result)
		if result.UpdateSequenceNumber != nil {
			u.checkMonotonicity("", *result.UpdateSequenceNumber)
		}
		u.userStatus.MarkSavedSearch(true, errs.EntityFailure{})
		u.sender.publish(u.userStatus)
	}
}
