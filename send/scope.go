package send

import (
	"github.com/notewell/synccore/model"
	"github.com/notewell/synccore/notestore"
	"github.com/notewell/synccore/status"
)

// uploadScope carries the per-cycle state shared across the
// tags/notebooks/savedSearches/notes stages: the freshly-assigned
// guid maps, plus one running USN and one SendStatus per scope — the
// user's own account, and one per linked notebook touched this
// cycle. A linked notebook's update_sequence_num lives in a foreign
// account's namespace, unrelated to the user's own, so it is never
// compared against or folded into the user-own USN.
type uploadScope struct {
	sender       *Sender
	account      model.Account
	userInfo     model.AuthenticationInfo
	linkedInfoFn func(guid string) (model.AuthenticationInfo, error)

	userStatus     *status.SendStatus
	userWorkingUSN int32

	linkedStatus     map[string]*status.SendStatus
	linkedWorkingUSN map[string]int32
}

func (u *uploadScope) requestContext() notestore.RequestContext {
	return notestore.RequestContext{AuthToken: u.userInfo.AuthToken, MaxRetries: 3, ExponentialBackoff: true}
}

// guidOrEmpty turns a Notebook/Tag's optional linked-notebook guid
// pointer into the scope key ("" for the user's own account).
func guidOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// statusFor returns the SendStatus for linkedGuid ("" selects the
// user's own account), creating a linked notebook's status the first
// time one of its entities is uploaded this cycle.
func (u *uploadScope) statusFor(linkedGuid string) *status.SendStatus {
	if linkedGuid == "" {
		return u.userStatus
	}
	if st, ok := u.linkedStatus[linkedGuid]; ok {
		return st
	}
	st := status.NewSendStatus()
	u.linkedStatus[linkedGuid] = st
	return st
}

// anyStopError reports the first fatal stop condition hit by any
// scope touched so far this cycle — a fatal auth/rate-limit error
// halts the whole Sender.Cycle, not just the scope that hit it.
func (u *uploadScope) anyStopError() error {
	if err := u.userStatus.StopError(); err != nil {
		return err
	}
	for _, st := range u.linkedStatus {
		if err := st.StopError(); err != nil {
			return err
		}
	}
	return nil
}

// checkMonotonicity runs after any successful upload: compare
// returnedUSN to linkedGuid's scope's workingUSN+1 ("" for the user's
// own account). A gap means the server has data this cycle has not
// downloaded yet for that scope.
func (u *uploadScope) checkMonotonicity(linkedGuid string, returnedUSN int32) {
	if linkedGuid == "" {
		if returnedUSN != u.userWorkingUSN+1 {
			u.userStatus.SetNeedToRepeatIncrementalSync()
		}
		if returnedUSN > u.userWorkingUSN {
			u.userWorkingUSN = returnedUSN
		}
		return
	}

	st := u.statusFor(linkedGuid)
	working := u.linkedWorkingUSN[linkedGuid]
	if returnedUSN != working+1 {
		st.SetNeedToRepeatIncrementalSync()
	}
	if returnedUSN > working {
		u.linkedWorkingUSN[linkedGuid] = returnedUSN
	}
}
