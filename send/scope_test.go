package send

import (
	"testing"

	"github.com/notewell/synccore/status"
)

func newScopeForMonotonicity(startUSN int32) *uploadScope {
	return &uploadScope{
		userStatus:       status.NewSendStatus(),
		userWorkingUSN:   startUSN,
		linkedStatus:     map[string]*status.SendStatus{},
		linkedWorkingUSN: map[string]int32{},
	}
}

func TestCheckMonotonicity_SequentialAdvance(t *testing.T) {
	u := newScopeForMonotonicity(10)

	u.checkMonotonicity("", 11)

	if u.userWorkingUSN != 11 {
		t.Errorf("expected userWorkingUSN to advance to 11, got %d", u.userWorkingUSN)
	}
	if u.userStatus.Snapshot().NeedToRepeatIncrementalSync {
		t.Errorf("sequential advance must not flag a repeat")
	}
}

func TestCheckMonotonicity_GapFlagsRepeat(t *testing.T) {
	u := newScopeForMonotonicity(10)

	u.checkMonotonicity("", 15)

	if u.userWorkingUSN != 15 {
		t.Errorf("expected userWorkingUSN to advance to 15, got %d", u.userWorkingUSN)
	}
	if !u.userStatus.Snapshot().NeedToRepeatIncrementalSync {
		t.Errorf("a USN gap must flag a repeat")
	}
}

func TestCheckMonotonicity_NeverRegresses(t *testing.T) {
	u := newScopeForMonotonicity(20)

	u.checkMonotonicity("", 5)

	if u.userWorkingUSN != 20 {
		t.Errorf("userWorkingUSN must never move backward, got %d", u.userWorkingUSN)
	}
	if !u.userStatus.Snapshot().NeedToRepeatIncrementalSync {
		t.Errorf("an out-of-order USN must still flag a repeat")
	}
}

func TestCheckMonotonicity_LinkedNotebookScopeIsIndependent(t *testing.T) {
	u := newScopeForMonotonicity(20)
	u.linkedWorkingUSN["lnb-1"] = 10

	u.checkMonotonicity("lnb-1", 11)

	if u.userWorkingUSN != 20 {
		t.Errorf("a linked-notebook USN update must never touch the user-own workingUSN, got %d", u.userWorkingUSN)
	}
	if u.userStatus.Snapshot().NeedToRepeatIncrementalSync {
		t.Errorf("a linked-notebook USN update must never flag the user-own status")
	}
	if u.linkedWorkingUSN["lnb-1"] != 11 {
		t.Errorf("expected linkedWorkingUSN[lnb-1] to advance to 11, got %d", u.linkedWorkingUSN["lnb-1"])
	}
	if u.statusFor("lnb-1").Snapshot().NeedToRepeatIncrementalSync {
		t.Errorf("sequential linked-notebook advance must not flag a repeat")
	}

	u.checkMonotonicity("lnb-1", 20)
	if !u.statusFor("lnb-1").Snapshot().NeedToRepeatIncrementalSync {
		t.Errorf("a linked-notebook USN gap must flag a repeat on its own scope")
	}
}
