package calls

import (
	"fmt"
	"strings"
	"time"
)

// Session is one call attempt between a caller and a callee.
//
// Invariants:
// - Status only moves along ringing->active->ended, ringing->rejected, ringing->ended.
// - AcceptedTime is set iff the session passed through active.
// - DurationSeconds is 0 unless the session was accepted and has ended.
type Session struct {
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
	CalleeID string `json:"calleeId"`
	Kind     Kind   `json:"callType"`
	Status   Status `json:"status"`

	StartTime    time.Time  `json:"startTime"`
	AcceptedTime *time.Time `json:"acceptedTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`

	DurationSeconds int `json:"duration"`

	EndedBy    string    `json:"endedBy,omitempty"`
	RejectedBy string    `json:"rejectedBy,omitempty"`
	EndReason  EndReason `json:"endReason,omitempty"`
}

// IsParty reports whether userID is the caller or the callee.
func (s Session) IsParty(userID string) bool {
	return userID != "" && (userID == s.CallerID || userID == s.CalleeID)
}

// Peer returns the other participant, or "" if userID is not a party.
func (s Session) Peer(userID string) string {
	switch userID {
	case s.CallerID:
		return s.CalleeID
	case s.CalleeID:
		return s.CallerID
	default:
		return ""
	}
}

// Answered reports whether the call was ever accepted.
func (s Session) Answered() bool {
	return s.AcceptedTime != nil
}

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ParseKind accepts "audio" or "video"; empty input defaults to video.
func ParseKind(v string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return KindVideo, nil
	case string(KindAudio):
		return KindAudio, nil
	case string(KindVideo):
		return KindVideo, nil
	default:
		return "", fmt.Errorf("%w: unknown call type %q", ErrInvalidArgument, v)
	}
}

type Status string

const (
	StatusRinging  Status = "ringing"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusRejected
}

type Action string

const (
	ActionAccept     Action = "accept"
	ActionReject     Action = "reject"
	ActionEnd        Action = "end"
	ActionDisconnect Action = "disconnect"
)

type EndReason string

const (
	ReasonUserEnded        EndReason = "user_ended"
	ReasonUserRejected     EndReason = "user_rejected"
	ReasonPeerDisconnected EndReason = "peer_disconnected"
)

// durationSeconds floors the accepted-to-end interval to whole seconds.
func durationSeconds(accepted *time.Time, end time.Time) int {
	if accepted == nil {
		return 0
	}
	d := end.Sub(*accepted)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
