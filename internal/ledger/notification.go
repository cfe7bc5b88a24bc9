package ledger

import (
	"time"

	"github.com/npezzotti/go-roomchat/internal/types"
)

// Shape decides which partition a notification is filed under and whether
// delivering it needs a room membership check.
type Shape int

const (
	// ShapeAction has no actor and is filed under "other".
	ShapeAction Shape = iota
	// ShapeUser is filed under its acting user.
	ShapeUser
	// ShapeRoom is filed under its room and requires the actor to be a member.
	ShapeRoom
)

type Notification struct {
	Action   types.Command  `json:"action" cbor:"action"`
	Datetime time.Time      `json:"datetime" cbor:"datetime"`
	Success  bool           `json:"success" cbor:"success"`
	Reason   string         `json:"reason" cbor:"reason"`
	User     string         `json:"user,omitempty" cbor:"user,omitempty"`
	RoomName string         `json:"room_name,omitempty" cbor:"room_name,omitempty"`
	Payload  map[string]any `json:"payload" cbor:"payload"`
	Shape    Shape          `json:"-" cbor:"shape"`
	// Private room actions are resolved through the pair (User, Peer)
	// instead of RoomName.
	Private bool   `json:"-" cbor:"private,omitempty"`
	Peer    string `json:"-" cbor:"peer,omitempty"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func newNotification(shape Shape, action types.Command, success bool, reason string, payload map[string]any) *Notification {
	if payload == nil {
		payload = map[string]any{}
	}

	return &Notification{
		Action:   action,
		Datetime: Now(),
		Success:  success,
		Reason:   reason,
		Payload:  payload,
		Shape:    shape,
	}
}

func NewAction(action types.Command, success bool, reason string, payload map[string]any) *Notification {
	return newNotification(ShapeAction, action, success, reason, payload)
}

func NewUserAction(action types.Command, user string, success bool, reason string, payload map[string]any) *Notification {
	n := newNotification(ShapeUser, action, success, reason, payload)
	n.User = user
	return n
}

func NewRoomAction(action types.Command, user, roomName string, success bool, reason string, payload map[string]any) *Notification {
	n := newNotification(ShapeRoom, action, success, reason, payload)
	n.User = user
	n.RoomName = roomName
	return n
}

// NewPrivateRoomAction builds a room action addressed to the dialogue
// between user and peer.
func NewPrivateRoomAction(action types.Command, user, peer string, success bool, reason string, payload map[string]any) *Notification {
	n := newNotification(ShapeRoom, action, success, reason, payload)
	n.User = user
	n.Private = true
	n.Peer = peer
	return n
}

// Failure builds the failure notification for action on behalf of user.
// Anonymous callers still get a user action so the failure lands in their
// own history.
func Failure(action types.Command, user, reason string, payload map[string]any) *Notification {
	return NewUserAction(action, user, false, reason, payload)
}
