package server

import (
	"encoding/json"

	"github.com/npezzotti/go-roomchat/internal/ledger"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const toAll = "/all"

// Request is one decoded client command. Only the fields relevant to the
// command are set.
type Request struct {
	Command           string `json:"command"`
	Message           string `json:"message,omitempty"`
	Room              string `json:"room,omitempty"`
	Private           bool   `json:"private,omitempty"`
	ToUser            string `json:"to_user,omitempty"`
	NotificationCount int    `json:"notification_count,omitempty"`
	RoomName          string `json:"room_name,omitempty"`
	RoomType          string `json:"room_type,omitempty"`
	NewUser           string `json:"new_user,omitempty"`
	RemoveUser        string `json:"remove_user,omitempty"`
	Username          string `json:"username,omitempty"`
	Password          string `json:"password,omitempty"`
	Token             string `json:"token,omitempty"`
	WithUser          string `json:"with_user,omitempty"`
	Filename          string `json:"filename,omitempty"`
	Key               string `json:"key,omitempty"`

	cmd    types.Command
	data   []byte
	client *Client
}

// String renders the request for logs with credentials removed.
func (r *Request) String() string {
	redacted := *r
	if redacted.Password != "" {
		redacted.Password = "***"
	}
	if redacted.Token != "" {
		redacted.Token = "***"
	}

	b, err := json.Marshal(&redacted)
	if err != nil {
		return r.Command
	}
	return string(b)
}

// echo returns the request fields repeated in the payload of the
// notification answering it.
func (r *Request) echo() map[string]any {
	switch r.cmd {
	case types.CmdCreateRoom:
		return map[string]any{"room_name": r.RoomName, "room_type": r.RoomType}
	case types.CmdDeleteRoom, types.CmdJoinRoom, types.CmdLeaveRoom:
		return map[string]any{"room_name": r.RoomName}
	case types.CmdAddUser:
		return map[string]any{"room_name": r.RoomName, "new_user": r.NewUser}
	case types.CmdRemoveUser:
		return map[string]any{"room_name": r.RoomName, "remove_user": r.RemoveUser}
	case types.CmdOpenDialogue, types.CmdDeleteDialogue:
		return map[string]any{"with_user": r.WithUser}
	case types.CmdSendPrivate:
		return map[string]any{"to_user": r.ToUser}
	case types.CmdHistory:
		return map[string]any{"room": r.Room}
	case types.CmdRegister:
		return map[string]any{"username": r.Username}
	case types.CmdPublishFile:
		return map[string]any{"filename": r.Filename, "key": ""}
	case types.CmdLoadFile:
		return map[string]any{"key": r.Key}
	}
	return nil
}

type outbound struct {
	n        *ledger.Notification
	blob     []byte
	sendBlob bool
	close    bool
}

func helpPayload() map[string]any {
	cmds := types.RequestCommands()
	tokens := make([]string, 0, len(cmds))
	for _, c := range cmds {
		tokens = append(tokens, c.String())
	}
	return map[string]any{"commands": tokens}
}
