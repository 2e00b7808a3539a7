package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionEmitsOnlyOnChange(t *testing.T) {
	evt, ok := Transition(KindRequest, string(RequestPending), string(RequestApproved))
	require.True(t, ok)
	assert.Equal(t, string(RequestPending), evt.From)
	assert.Equal(t, string(RequestApproved), evt.To)

	_, ok = Transition(KindRequest, string(RequestApproved), string(RequestApproved))
	assert.False(t, ok, "same observed value must not emit")

	_, ok = Transition(KindRequest, string(RequestPending), "")
	assert.False(t, ok, "empty observation must not emit")
}

func TestTransitionFirstObservation(t *testing.T) {
	evt, ok := Transition(KindCompany, "", string(CompanyActive))
	require.True(t, ok)
	assert.Empty(t, evt.From)
	assert.Equal(t, string(CompanyActive), evt.To)
}

func TestRequestLifecycle(t *testing.T) {
	assert.True(t, RequestPending.CanTransition(RequestApproved))
	assert.True(t, RequestPending.CanTransition(RequestRejected))
	assert.True(t, RequestApproved.CanTransition(RequestCompleted))
	assert.False(t, RequestRejected.CanTransition(RequestApproved), "rejected is terminal for the instance")
	assert.False(t, RequestPending.CanTransition(RequestCompleted))

	assert.True(t, RequestRejected.Terminal())
	assert.True(t, RequestCompleted.Terminal())
	assert.False(t, RequestPending.Terminal())
	assert.False(t, RequestApproved.Terminal())
}

func TestCompanyLifecycleTogglesFreely(t *testing.T) {
	assert.True(t, CompanyActive.CanTransition(CompanyInactive))
	assert.True(t, CompanyInactive.CanTransition(CompanyActive))
	assert.False(t, CompanyActive.CanTransition(CompanyActive))
}

func TestAccountLifecycle(t *testing.T) {
	assert.True(t, AccountActive.CanTransition(AccountSuspended))
	assert.True(t, AccountActive.CanTransition(AccountInactive))
	assert.True(t, AccountSuspended.CanTransition(AccountActive))
	assert.False(t, AccountInactive.CanTransition(AccountActive), "inactive is terminal")
}

func TestEffectiveAccountStateSuspensionExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := Session{AccountState: AccountSuspended, SuspensionExpiresAt: &past}
	assert.Equal(t, AccountActive, expired.EffectiveAccountState(now))

	active := Session{AccountState: AccountSuspended, SuspensionExpiresAt: &future}
	assert.Equal(t, AccountSuspended, active.EffectiveAccountState(now))

	indefinite := Session{AccountState: AccountSuspended}
	assert.Equal(t, AccountSuspended, indefinite.EffectiveAccountState(now))
}

func TestNormalizeStates(t *testing.T) {
	assert.Equal(t, AccountSuspended, NormalizeAccountState(" suspended "))
	assert.Equal(t, AccountInactive, NormalizeAccountState("garbage"))
	assert.Equal(t, RequestApproved, NormalizeRequestState("APPROVED"))
	assert.Equal(t, CompanyInactive, NormalizeCompanyState("unknown"),
		"malformed company state must never unlock gated routes")
}
