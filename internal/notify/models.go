package notify

import "time"

// Notification is the payload handed to the external notification service.
// Storage and read-state belong to that service, not to this one.
type Notification struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"userId"`
	SenderID    string         `json:"fromUserId,omitempty"`
	Type        Type           `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type Type string

const (
	TypeCall Type = "call"
)

// CallNoticeKind selects between the incoming-call and call-update templates.
type CallNoticeKind string

const (
	CallNoticeIncoming CallNoticeKind = "incoming"
	CallNoticeUpdate   CallNoticeKind = "update"
)

// CallNotice describes one call event to notify about.
type CallNotice struct {
	Kind       CallNoticeKind
	CallID     string
	CallerName string
	CallType   string
	Status     string
}

// liveEvent is what the recipient's open connection receives.
type liveEvent struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
