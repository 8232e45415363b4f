package history

import (
	"context"
	"errors"
	"time"

	"callsignal/internal/calls"
)

var ErrInvalidRequest = errors.New("history: invalid request")

const (
	DefaultLimit = 20
	MaxLimit     = 100
	defaultRange = 30 * 24 * time.Hour
)

type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// Recent lists the user's finished calls, newest first. limit is clamped to
// [1, MaxLimit]; zero means DefaultLimit.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]Record, error) {
	if userID == "" || limit < 0 {
		return nil, ErrInvalidRequest
	}
	if s.store == nil {
		return nil, errors.New("history: store not configured")
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	out, err := s.store.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// Summary aggregates the user's calls that started in [From, To).
// A zero range defaults to the last 30 days.
func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if req.UserID == "" {
		return Summary{}, ErrInvalidRequest
	}
	if req.Range.To.IsZero() {
		req.Range.To = s.clock().UTC()
	}
	if req.Range.From.IsZero() {
		req.Range.From = req.Range.To.Add(-defaultRange)
	}
	if !req.Range.To.After(req.Range.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.store == nil {
		return Summary{}, errors.New("history: store not configured")
	}

	rows, err := s.store.ListRange(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{UserID: req.UserID, Range: req.Range}
	for _, r := range rows {
		out.TotalCalls++
		if r.CallerID == req.UserID {
			out.OutgoingCalls++
		} else {
			out.IncomingCalls++
		}
		switch {
		case r.Status == calls.StatusRejected:
			out.RejectedCalls++
		case r.Answered():
			out.AnsweredCalls++
			out.TotalDurationSeconds += r.DurationSeconds
		default:
			out.MissedCalls++
		}
	}
	if out.AnsweredCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.AnsweredCalls
	}
	return out, nil
}
