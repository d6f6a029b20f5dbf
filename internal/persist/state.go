package persist

import "fmt"

// State is the lifecycle state of a fragment.
type State int

const (
	// StateDetached fragments have no owning context.
	StateDetached State = iota
	// StateAbsent fragments were probed and not found; they hold defaults.
	StateAbsent
	// StateCreated fragments are new and unsaved.
	StateCreated
	// StatePristine fragments match the store.
	StatePristine
	// StateModified fragments are dirty.
	StateModified
	// StateDeleted fragments are scheduled for deletion.
	StateDeleted
	// StateInvalidatedModified fragments were changed by another session.
	StateInvalidatedModified
	// StateInvalidatedDeleted fragments were deleted by another session.
	StateInvalidatedDeleted
)

var stateNames = map[State]string{
	StateDetached:            "DETACHED",
	StateAbsent:              "ABSENT",
	StateCreated:             "CREATED",
	StatePristine:            "PRISTINE",
	StateModified:            "MODIFIED",
	StateDeleted:             "DELETED",
	StateInvalidatedModified: "INVALIDATED_MODIFIED",
	StateInvalidatedDeleted:  "INVALIDATED_DELETED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsInvalidated reports whether the state is a stale flavor.
func (s State) IsInvalidated() bool {
	return s == StateInvalidatedModified || s == StateInvalidatedDeleted
}

// IsWorking reports whether the fragment sits in a working bucket.
func (s State) IsWorking() bool {
	return s == StateCreated || s == StateModified || s == StateDeleted
}

// transitions lists the only legal edges. Detaching every fragment on
// close or rollback bypasses this table.
var transitions = map[State][]State{
	StateAbsent:              {StateCreated, StateDetached, StateInvalidatedModified, StateInvalidatedDeleted},
	StateCreated:             {StatePristine, StateDetached},
	StatePristine:            {StateModified, StateDeleted, StateInvalidatedModified, StateInvalidatedDeleted},
	StateModified:            {StatePristine, StateDeleted},
	StateDeleted:             {StateDetached},
	StateInvalidatedModified: {},
	StateInvalidatedDeleted:  {},
	StateDetached:            {},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
