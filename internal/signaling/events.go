package signaling

import "encoding/json"

// Inbound events.
const (
	EventJoin         = "join"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventJoinExplore  = "joinExplore"
	EventLeaveExplore = "leaveExplore"
	EventDisconnect   = "disconnect"
)

// Outbound events.
const (
	EventIncomingCall  = "incoming-call"
	EventCallInitiated = "call-initiated"
	EventCallAccepted  = "call-accepted"
	EventCallStarted   = "call-started"
	EventCallRejected  = "call-rejected"
	EventCallEnded     = "call-ended"
	EventNotification  = "notification"
)

// ExploreRoom is the live activity feed room.
const ExploreRoom = "explore"

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type JoinPayload struct {
	UserID string `json:"userId"`
}

// relayIn covers offer, answer and ice-candidate; only the field matching
// the event is forwarded.
type relayIn struct {
	To        string          `json:"to"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type OfferOut struct {
	Offer json.RawMessage `json:"offer"`
	From  string          `json:"from"`
}

type AnswerOut struct {
	Answer json.RawMessage `json:"answer"`
	From   string          `json:"from"`
}

type CandidateOut struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

type CallerInfo struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName"`
	ProfilePic string `json:"profilePic,omitempty"`
}

type IncomingCall struct {
	CallID     string     `json:"callId"`
	CallerID   string     `json:"callerId"`
	CallType   string     `json:"callType"`
	CallerInfo CallerInfo `json:"callerInfo"`
}

type CallInitiated struct {
	CallID   string `json:"callId"`
	CalleeID string `json:"calleeId"`
	Status   string `json:"status"`
}

type CallAccepted struct {
	CallID     string `json:"callId"`
	AcceptedBy string `json:"acceptedBy"`
}

type CallStarted struct {
	CallID string `json:"callId"`
	With   string `json:"with"`
}

type CallRejected struct {
	CallID     string `json:"callId"`
	RejectedBy string `json:"rejectedBy"`
	Reason     string `json:"reason"`
}

type CallEnded struct {
	CallID   string `json:"callId"`
	EndedBy  string `json:"endedBy"`
	Duration int    `json:"duration"`
	Reason   string `json:"reason"`
}
