package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher hands a notification to the external notification service.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Pusher delivers an event to a user's live connection, if bound.
type Pusher interface {
	Emit(userID, event string, payload any) bool
}

const liveEventName = "notification"

var ErrInvalidNotification = errors.New("notify: invalid notification")

// Service builds call notifications and dispatches them.
// Callers treat it as best-effort: failures are reported, never retried.
type Service struct {
	pub   Publisher
	push  Pusher
	clock func() time.Time
	log   *slog.Logger
}

// NewService builds a Service. pub may be nil when there is no external
// notification service; push may be nil to skip live delivery.
func NewService(pub Publisher, push Pusher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pub: pub, push: push, clock: time.Now, log: log}
}

// SendCallNotification notifies toUser about a call event caused by fromUser.
func (s *Service) SendCallNotification(ctx context.Context, fromUser, toUser string, notice CallNotice) error {
	if toUser == "" || notice.CallerName == "" || notice.CallType == "" || notice.Status == "" {
		return ErrInvalidNotification
	}

	n := Notification{
		ID:          uuid.NewString(),
		RecipientID: toUser,
		SenderID:    fromUser,
		Type:        TypeCall,
		Title:       "Call Update",
		Message:     "Call " + notice.Status,
		Data: map[string]any{
			"callId":     notice.CallID,
			"callerId":   fromUser,
			"callerName": notice.CallerName,
			"callType":   notice.CallType,
			"status":     notice.Status,
		},
		CreatedAt: s.clock().UTC(),
	}
	if notice.Kind == CallNoticeIncoming {
		n.Title = "Incoming Call"
		n.Message = fmt.Sprintf("Incoming %s call from %s", notice.CallType, notice.CallerName)
	}

	if s.pub != nil {
		if err := s.pub.Publish(ctx, n); err != nil {
			return fmt.Errorf("notify: publish: %w", err)
		}
	}
	if s.push != nil {
		s.push.Emit(toUser, liveEventName, liveEvent{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Data:      n.Data,
			CreatedAt: n.CreatedAt,
		})
	}
	s.log.Debug("notification sent", "notification_id", n.ID, "to", toUser, "call_id", notice.CallID, "status", notice.Status)
	return nil
}
