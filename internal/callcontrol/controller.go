package callcontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callsignal/internal/calls"
	"callsignal/internal/directory"
	"callsignal/internal/notify"
	"callsignal/internal/presence"
	"callsignal/internal/signaling"
)

// Directory is the user-directory collaborator.
type Directory interface {
	IsFriend(ctx context.Context, a, b string) (bool, error)
	Profile(ctx context.Context, userID string) (directory.Profile, error)
}

// Notifier is the notification sink collaborator.
type Notifier interface {
	SendCallNotification(ctx context.Context, fromUser, toUser string, notice notify.CallNotice) error
}

// Emitter pushes events to a user's live connection.
type Emitter interface {
	Emit(userID, event string, payload any) bool
}

const fallbackName = "Friend"

// Controller exposes call-control actions. Store mutations are atomic;
// events, notifications and persistence run after the store lock is released.
type Controller struct {
	presence *presence.Registry
	calls    *calls.Store
	dir      Directory
	notifier Notifier
	emitter  Emitter

	grace         time.Duration
	notifyTimeout time.Duration
	log           *slog.Logger
}

type Options struct {
	GraceWindow   time.Duration
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

func New(reg *presence.Registry, store *calls.Store, dir Directory, notifier Notifier, emitter Emitter, opts Options) *Controller {
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 5 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		presence:      reg,
		calls:         store,
		dir:           dir,
		notifier:      notifier,
		emitter:       emitter,
		grace:         opts.GraceWindow,
		notifyTimeout: opts.NotifyTimeout,
		log:           opts.Logger,
	}
}

// InitiateResult is returned to the caller of Initiate.
type InitiateResult struct {
	CallID     string       `json:"callId"`
	Status     calls.Status `json:"status"`
	FriendName string       `json:"friendName"`
}

// Initiate starts a ringing call from actor to target.
//
// Checks run in order: arguments, target exists, friendship, caller online,
// target online, neither party already in a call.
func (c *Controller) Initiate(ctx context.Context, actor, target string, kind calls.Kind) (InitiateResult, error) {
	if actor == "" || target == "" {
		return InitiateResult{}, fmt.Errorf("%w: friendId is required", calls.ErrInvalidArgument)
	}
	if actor == target {
		return InitiateResult{}, fmt.Errorf("%w: cannot call yourself", calls.ErrInvalidArgument)
	}

	friend, err := c.dir.Profile(ctx, target)
	if err != nil {
		return InitiateResult{}, err
	}
	ok, err := c.dir.IsFriend(ctx, actor, target)
	if err != nil {
		return InitiateResult{}, err
	}
	if !ok {
		return InitiateResult{}, ErrNotFriends
	}
	if !c.presence.Online(actor) {
		return InitiateResult{}, ErrCallerOffline
	}
	if !c.presence.Online(target) {
		return InitiateResult{}, ErrTargetOffline
	}

	sess, err := c.calls.Create(ctx, actor, target, kind)
	if err != nil {
		return InitiateResult{}, err
	}

	caller := c.profileOrFallback(ctx, actor)

	unlock := c.calls.LockCall(sess.CallID)
	// A disconnect between the online checks and Create finds no call to end.
	if gone := c.offlineParty(sess); gone != "" {
		if _, err := c.calls.Transition(ctx, sess.CallID, calls.ActionDisconnect, gone); err == nil {
			c.calls.ScheduleEviction(sess.CallID, c.grace)
		}
		unlock()
		c.log.Info("call abandoned, party went offline", "call_id", sess.CallID, "user_id", gone)
		if gone == actor {
			return InitiateResult{}, ErrCallerOffline
		}
		return InitiateResult{}, ErrTargetOffline
	}
	c.emitter.Emit(target, signaling.EventIncomingCall, signaling.IncomingCall{
		CallID:   sess.CallID,
		CallerID: actor,
		CallType: string(sess.Kind),
		CallerInfo: signaling.CallerInfo{
			ID:         actor,
			FullName:   caller.FullName,
			ProfilePic: caller.ProfilePic,
		},
	})
	c.emitter.Emit(actor, signaling.EventCallInitiated, signaling.CallInitiated{
		CallID:   sess.CallID,
		CalleeID: target,
		Status:   string(sess.Status),
	})
	unlock()

	c.notify(ctx, actor, target, notify.CallNotice{
		Kind:       notify.CallNoticeIncoming,
		CallID:     sess.CallID,
		CallerName: caller.FullName,
		CallType:   string(sess.Kind),
		Status:     string(sess.Status),
	})

	c.log.Info("call initiated", "call_id", sess.CallID, "caller_id", actor, "callee_id", target, "call_type", sess.Kind)
	return InitiateResult{CallID: sess.CallID, Status: sess.Status, FriendName: friend.FullName}, nil
}

// Accept moves a ringing call to active. Only the callee may accept.
func (c *Controller) Accept(ctx context.Context, actor, callID string) (calls.Session, error) {
	if callID == "" {
		return calls.Session{}, fmt.Errorf("%w: callId is required", calls.ErrInvalidArgument)
	}
	unlock := c.calls.LockCall(callID)
	sess, err := c.calls.Transition(ctx, callID, calls.ActionAccept, actor)
	if err != nil {
		unlock()
		return calls.Session{}, err
	}

	c.emitter.Emit(sess.CallerID, signaling.EventCallAccepted, signaling.CallAccepted{
		CallID:     sess.CallID,
		AcceptedBy: actor,
	})
	c.emitter.Emit(sess.CalleeID, signaling.EventCallStarted, signaling.CallStarted{
		CallID: sess.CallID,
		With:   sess.CallerID,
	})
	unlock()

	c.notifyUpdate(ctx, actor, sess.CallerID, sess, "accepted")
	return sess, nil
}

// Reject declines a ringing call. Only the callee may reject.
func (c *Controller) Reject(ctx context.Context, actor, callID string) (calls.Session, error) {
	if callID == "" {
		return calls.Session{}, fmt.Errorf("%w: callId is required", calls.ErrInvalidArgument)
	}
	unlock := c.calls.LockCall(callID)
	sess, err := c.calls.Transition(ctx, callID, calls.ActionReject, actor)
	if err != nil {
		unlock()
		return calls.Session{}, err
	}

	c.emitter.Emit(sess.CallerID, signaling.EventCallRejected, signaling.CallRejected{
		CallID:     sess.CallID,
		RejectedBy: actor,
		Reason:     string(calls.ReasonUserRejected),
	})
	c.calls.ScheduleEviction(sess.CallID, c.grace)
	unlock()

	c.notifyUpdate(ctx, actor, sess.CallerID, sess, string(calls.StatusRejected))
	return sess, nil
}

// End finishes a ringing or active call. Either party may end it.
func (c *Controller) End(ctx context.Context, actor, callID string) (calls.Session, error) {
	if callID == "" {
		return calls.Session{}, fmt.Errorf("%w: callId is required", calls.ErrInvalidArgument)
	}
	unlock := c.calls.LockCall(callID)
	defer unlock()
	sess, err := c.calls.Transition(ctx, callID, calls.ActionEnd, actor)
	if err != nil {
		return calls.Session{}, err
	}

	ev := signaling.CallEnded{
		CallID:   sess.CallID,
		EndedBy:  actor,
		Duration: sess.DurationSeconds,
		Reason:   string(calls.ReasonUserEnded),
	}
	c.emitter.Emit(sess.CallerID, signaling.EventCallEnded, ev)
	c.emitter.Emit(sess.CalleeID, signaling.EventCallEnded, ev)
	c.calls.ScheduleEviction(sess.CallID, c.grace)
	return sess, nil
}

// Status returns the retained session. Any authenticated user may read it.
func (c *Controller) Status(callID string) (calls.Session, error) {
	sess, ok := c.calls.Get(callID)
	if !ok {
		return calls.Session{}, calls.ErrNotFound
	}
	return sess, nil
}

// Active lists every retained session.
func (c *Controller) Active() []calls.Session {
	return c.calls.List()
}

// Online lists every presence binding.
func (c *Controller) Online() []presence.Binding {
	return c.presence.Snapshot()
}

// offlineParty returns a party of sess with no live binding, or "".
func (c *Controller) offlineParty(sess calls.Session) string {
	for _, uid := range []string{sess.CalleeID, sess.CallerID} {
		if !c.presence.Online(uid) {
			return uid
		}
	}
	return ""
}

func (c *Controller) profileOrFallback(ctx context.Context, userID string) directory.Profile {
	p, err := c.dir.Profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, directory.ErrUserNotFound) {
			c.log.Warn("profile lookup failed", "user_id", userID, "err", err)
		}
		return directory.Profile{ID: userID, FullName: fallbackName}
	}
	if p.FullName == "" {
		p.FullName = fallbackName
	}
	return p
}

func (c *Controller) notifyUpdate(ctx context.Context, actor, to string, sess calls.Session, status string) {
	c.notify(ctx, actor, to, notify.CallNotice{
		Kind:       notify.CallNoticeUpdate,
		CallID:     sess.CallID,
		CallerName: c.profileOrFallback(ctx, actor).FullName,
		CallType:   string(sess.Kind),
		Status:     status,
	})
}

// notify is bounded by notifyTimeout and never fails the action.
func (c *Controller) notify(ctx context.Context, from, to string, notice notify.CallNotice) {
	if c.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
	defer cancel()

	if err := c.notifier.SendCallNotification(nctx, from, to, notice); err != nil {
		c.log.Warn("call notification failed", "call_id", notice.CallID, "to", to, "status", notice.Status, "err", err)
	}
}
