package entity

import "git.home.luguber.info/inful/portalwatch/internal/foundation"

var accountStateNormalizer = foundation.NewNormalizer(map[string]AccountState{
	"active":    AccountActive,
	"suspended": AccountSuspended,
	"inactive":  AccountInactive,
}, AccountInactive)

// NormalizeAccountState maps raw server input to a canonical account state.
// Unknown input degrades to Inactive, the most restrictive state.
func NormalizeAccountState(raw string) AccountState {
	return accountStateNormalizer.Normalize(raw)
}

var requestStateNormalizer = foundation.NewNormalizer(map[string]RequestState{
	"pending":   RequestPending,
	"approved":  RequestApproved,
	"rejected":  RequestRejected,
	"completed": RequestCompleted,
}, RequestPending)

// NormalizeRequestState maps raw server input to a canonical request state.
func NormalizeRequestState(raw string) RequestState {
	return requestStateNormalizer.Normalize(raw)
}

var companyStateNormalizer = foundation.NewNormalizer(map[string]CompanyState{
	"active":   CompanyActive,
	"inactive": CompanyInactive,
}, CompanyInactive)

// NormalizeCompanyState maps raw server input to a canonical company state.
// Unknown input degrades to Inactive so a malformed flag can never unlock
// company-gated routes.
func NormalizeCompanyState(raw string) CompanyState {
	return companyStateNormalizer.Normalize(raw)
}
