package audit

import "time"

// Event is an immutable, append-only record of a session lifecycle step.
//
// Invariants:
// - Events are never updated or deleted.
// - session_id is required; user_id is empty for anonymous attempts.
// - Events never carry tokens or passwords.
//
// Storage (Postgres): table session_audit_events, INSERT-only.
type Event struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Type      EventType `json:"type" db:"type"`

	UserID string `json:"user_id,omitempty" db:"user_id"`
	// Email is recorded for failed logins, where no user id is known.
	Email     string `json:"email,omitempty" db:"email"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Resource is the guarded view for access_denied events.
	Resource string `json:"resource,omitempty" db:"resource"`
	Message  string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventLogin         EventType = "login"
	EventLoginFailed   EventType = "login_failed"
	EventLogout        EventType = "logout"
	EventRefreshFailed EventType = "refresh_failed"
	EventAccessDenied  EventType = "access_denied"
)

func (t EventType) valid() bool {
	switch t {
	case EventLogin, EventLoginFailed, EventLogout, EventRefreshFailed, EventAccessDenied:
		return true
	default:
		return false
	}
}
