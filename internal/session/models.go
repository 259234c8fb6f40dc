package session

import "time"

// UserProfile is the authenticated identity returned by the current-user endpoint.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ConnectionRequest is an incoming relationship request shown next to the session view.
type ConnectionRequest struct {
	ID                string    `json:"connection_id"`
	RequesterID       string    `json:"requester_id"`
	RequesterUsername string    `json:"requester_username"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// Snapshot is a read-only copy of the session state handed to views.
type Snapshot struct {
	Authenticated   bool
	User            *UserProfile
	ExpiresAt       time.Time
	PendingWarning  bool
	ForcedLogout    bool
	PendingRequests []ConnectionRequest
}

// Decision is the answer to a connection request.
type Decision int

const (
	Accept Decision = iota + 1
	Reject
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// EventType identifies what the controller is telling the view.
type EventType string

const (
	EventExpiryWarning EventType = "EXPIRY_WARNING"
	EventForcedLogout  EventType = "FORCED_LOGOUT"
	EventNavigate      EventType = "NAVIGATE"
	EventNotice        EventType = "NOTICE"
	EventUserUpdated   EventType = "USER_UPDATED"
)

// Route is a navigation target owned by the view.
type Route string

const (
	RouteHome Route = "home"
)

// NoticeKind classifies inline notices.
type NoticeKind string

const (
	NoticeUserActionFailed NoticeKind = "user_action_failed"
)

// Notice is a one-time, dismissible message for the view.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// Event is delivered on the controller's event channel.
type Event struct {
	Type   EventType
	Route  Route
	Notice *Notice
	At     time.Time
}
