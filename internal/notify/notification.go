// Package notify carries user-facing notifications from the reconciler to UI
// surfaces: a typed in-process bus, marker-backed deduplication, and an
// optional JetStream mirror for out-of-process listeners.
package notify

import (
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/portalwatch/internal/entity"
)

// Severity maps to how a UI surface should render the notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one user-visible message about an entity state change.
// Each notable transition produces at most one Notification ever, enforced by
// the Deduplicator before publication.
type Notification struct {
	ID       string      `json:"id"`
	Kind     entity.Kind `json:"kind"`
	State    string      `json:"state"`
	Severity Severity    `json:"severity"`
	Text     string      `json:"text"`
	At       time.Time   `json:"at"`
}

// NewNotification builds a Notification with a fresh ID and timestamp.
func NewNotification(kind entity.Kind, state string, severity Severity, text string) Notification {
	return Notification{
		ID:       uuid.NewString(),
		Kind:     kind,
		State:    state,
		Severity: severity,
		Text:     text,
		At:       time.Now().UTC(),
	}
}

// ForRequestState renders the canonical notification for a request lifecycle
// state. Only Approved and Rejected are notable to the applicant.
func ForRequestState(state entity.RequestState, reason string) (Notification, bool) {
	switch state {
	case entity.RequestApproved:
		return NewNotification(entity.KindRequest, string(state), SeveritySuccess,
			"Your company registration was approved."), true
	case entity.RequestRejected:
		text := "Your company registration was rejected."
		if reason != "" {
			text = "Your company registration was rejected: " + reason
		}
		return NewNotification(entity.KindRequest, string(state), SeverityWarning, text), true
	default:
		return Notification{}, false
	}
}

// ForCompanyDeactivated renders the one-time deactivation notice.
func ForCompanyDeactivated() Notification {
	return NewNotification(entity.KindCompany, string(entity.CompanyInactive), SeverityError,
		"Your company was deactivated by an administrator.")
}
