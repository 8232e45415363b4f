package callcontrol

import (
	"errors"

	"callsignal/internal/directory"
)

var (
	ErrNotFriends    = errors.New("callcontrol: users are not friends")
	ErrTargetOffline = errors.New("callcontrol: target user is offline")
	ErrCallerOffline = errors.New("callcontrol: caller is not connected")
	ErrUserNotFound  = directory.ErrUserNotFound
)
