package history

import (
	"time"

	"callsignal/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest asks for aggregated call metrics of one user.
type SummaryRequest struct {
	UserID string    `json:"userId"`
	Range  TimeRange `json:"range"`
}

type Summary struct {
	UserID string    `json:"userId"`
	Range  TimeRange `json:"range"`

	TotalCalls    int `json:"totalCalls"`
	OutgoingCalls int `json:"outgoingCalls"`
	IncomingCalls int `json:"incomingCalls"`
	AnsweredCalls int `json:"answeredCalls"`
	RejectedCalls int `json:"rejectedCalls"`
	// MissedCalls ended while still ringing.
	MissedCalls int `json:"missedCalls"`

	TotalDurationSeconds   int `json:"totalDurationSeconds"`
	AverageDurationSeconds int `json:"averageDurationSeconds"`
}

// Record is one finished call as stored in call_history.
type Record = calls.Session
