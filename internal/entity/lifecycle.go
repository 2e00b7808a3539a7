package entity

// TransitionEvent records that a watched entity's state value changed between
// two observations. Zero or one event is produced per observation.
type TransitionEvent struct {
	Kind Kind
	From string
	To   string
}

// Transition compares the previously known state value against the freshly
// observed one and returns an event only if the value changed. It is pure and
// side-effect-free; it never touches storage or the network. An empty previous
// value means "never observed" and produces an event so first observations of
// notable states can be announced.
func Transition(kind Kind, previous, observed string) (TransitionEvent, bool) {
	if observed == "" || observed == previous {
		return TransitionEvent{}, false
	}
	return TransitionEvent{Kind: kind, From: previous, To: observed}, true
}

// requestSuccessors enumerates the server-side request lifecycle:
// Pending -> {Approved, Rejected}; Approved -> Completed once a company is
// created. Rejected is terminal for the instance.
var requestSuccessors = map[RequestState][]RequestState{
	RequestPending:  {RequestApproved, RequestRejected},
	RequestApproved: {RequestCompleted},
}

// CanTransition reports whether the request lifecycle permits moving from s to next.
func (s RequestState) CanTransition(next RequestState) bool {
	for _, candidate := range requestSuccessors[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// CanTransition reports whether the company lifecycle permits moving from s to
// next. Companies toggle freely between Active and Inactive; there is no
// terminal state.
func (s CompanyState) CanTransition(next CompanyState) bool {
	return (s == CompanyActive && next == CompanyInactive) ||
		(s == CompanyInactive && next == CompanyActive)
}

// accountSuccessors: Active -> Suspended (auto-expiring) or Inactive
// (terminal, forces session teardown); Suspended reverts to Active on expiry.
var accountSuccessors = map[AccountState][]AccountState{
	AccountActive:    {AccountSuspended, AccountInactive},
	AccountSuspended: {AccountActive},
}

// CanTransition reports whether the account lifecycle permits moving from s to next.
func (s AccountState) CanTransition(next AccountState) bool {
	for _, candidate := range accountSuccessors[s] {
		if candidate == next {
			return true
		}
	}
	return false
}
