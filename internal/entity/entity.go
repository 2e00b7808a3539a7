// Package entity defines the server-authoritative business entities the agent
// watches and the pure lifecycle rules over their states.
package entity

import "time"

// Kind identifies a watched entity kind. Kinds double as cache key segments.
type Kind string

const (
	KindSession Kind = "session"
	KindRequest Kind = "companyRequest"
	KindCompany Kind = "company"
)

// AccountState is the lifecycle state of a user account.
type AccountState string

const (
	AccountActive    AccountState = "Active"
	AccountSuspended AccountState = "Suspended"
	AccountInactive  AccountState = "Inactive"
)

// RequestState is the lifecycle state of a company-registration request.
type RequestState string

const (
	RequestPending  RequestState = "Pending"
	RequestApproved RequestState = "Approved"
	RequestRejected RequestState = "Rejected"
	// RequestCompleted marks an approved request consumed by company creation.
	// It is derived, not served: the server reports Approved until the company
	// exists, at which point the request becomes historical.
	RequestCompleted RequestState = "Completed"
)

// CompanyState is the admin-toggled activation state of a company.
type CompanyState string

const (
	CompanyActive   CompanyState = "Active"
	CompanyInactive CompanyState = "Inactive"
)

// Session is the current authenticated user context. Destroyed on logout or
// forced sign-out (account inactive or suspended).
type Session struct {
	Authenticated       bool         `json:"authenticated"`
	UserID              string       `json:"userId"`
	Role                string       `json:"role"`
	AccountState        AccountState `json:"accountState"`
	SuspensionExpiresAt *time.Time   `json:"suspensionExpiresAt,omitempty"`
}

// EffectiveAccountState resolves auto-expiring suspensions at observation time:
// a suspension whose expiry has passed reads as Active without waiting for the
// server to notice.
func (s Session) EffectiveAccountState(now time.Time) AccountState {
	if s.AccountState == AccountSuspended && s.SuspensionExpiresAt != nil && !now.Before(*s.SuspensionExpiresAt) {
		return AccountActive
	}
	return s.AccountState
}

// CompanyRequest is an applicant's registration request. At most one
// non-terminal request exists per applicant; only the most recent is tracked.
type CompanyRequest struct {
	ID              string       `json:"id"`
	ApplicantID     string       `json:"applicantId"`
	LegalName       string       `json:"legalName"`
	TaxID           string       `json:"taxId"`
	CertificateRef  string       `json:"certificateRef,omitempty"`
	State           RequestState `json:"state"`
	RejectionReason string       `json:"rejectionReason,omitempty"`
}

// Terminal reports whether the request can no longer change state on its own.
// A rejected applicant may still submit a new request instance.
func (s RequestState) Terminal() bool {
	return s == RequestRejected || s == RequestCompleted
}

// CompanyProfile carries the descriptive fields of a registered company.
type CompanyProfile struct {
	LegalName string `json:"legalName"`
	TaxID     string `json:"taxId"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Company is created once from an approved request; its state is thereafter
// toggled only by an administrator, independent of the request lifecycle.
type Company struct {
	ID      string         `json:"id"`
	OwnerID string         `json:"ownerId"`
	State   CompanyState   `json:"state"`
	Profile CompanyProfile `json:"profile"`
}
