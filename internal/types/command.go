package types

import "fmt"

// Command is the closed set of command tokens understood on the wire.
type Command int

const (
	CmdUnknown Command = iota
	CmdSend
	CmdSendPrivate
	CmdHistory
	CmdCreateRoom
	CmdDeleteRoom
	CmdAddUser
	CmdRemoveUser
	CmdJoinRoom
	CmdLeaveRoom
	CmdOpenDialogue
	CmdDeleteDialogue
	CmdRegister
	CmdLogin
	CmdLogout
	CmdPublishFile
	CmdLoadFile
	CmdHelp
	CmdQuit
	// server originated
	CmdConnected
	CmdError
)

var commandTokens = [...]string{
	CmdUnknown:        "",
	CmdSend:           "/send",
	CmdSendPrivate:    "/send_private",
	CmdHistory:        "/history",
	CmdCreateRoom:     "/create_room",
	CmdDeleteRoom:     "/delete_room",
	CmdAddUser:        "/add_user",
	CmdRemoveUser:     "/remove_user",
	CmdJoinRoom:       "/join_room",
	CmdLeaveRoom:      "/leave_room",
	CmdOpenDialogue:   "/open_dialogue",
	CmdDeleteDialogue: "/delete_dialogue",
	CmdRegister:       "/register",
	CmdLogin:          "/login",
	CmdLogout:         "/logout",
	CmdPublishFile:    "/publish_file",
	CmdLoadFile:       "/load_file",
	CmdHelp:           "/help",
	CmdQuit:           "/quit",
	CmdConnected:      "/connected",
	CmdError:          "/error",
}

var commandsByToken = func() map[string]Command {
	m := make(map[string]Command, len(commandTokens))
	for c, tok := range commandTokens {
		if tok != "" {
			m[tok] = Command(c)
		}
	}
	return m
}()

// RequestCommands lists the commands a client may send, in help order.
func RequestCommands() []Command {
	cmds := make([]Command, 0, CmdQuit)
	for c := CmdSend; c <= CmdQuit; c++ {
		cmds = append(cmds, c)
	}
	return cmds
}

func ParseCommand(tok string) (Command, bool) {
	c, ok := commandsByToken[tok]
	return c, ok
}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandTokens) {
		return fmt.Sprintf("Command(%d)", int(c))
	}
	return commandTokens[c]
}

// IsRequest reports whether clients may send c.
func (c Command) IsRequest() bool {
	return c >= CmdSend && c <= CmdQuit
}

func (c Command) MarshalText() ([]byte, error) {
	if c == CmdUnknown || int(c) >= len(commandTokens) {
		return nil, fmt.Errorf("marshal unknown command %d", int(c))
	}
	return []byte(commandTokens[c]), nil
}

func (c *Command) UnmarshalText(text []byte) error {
	cmd, ok := ParseCommand(string(text))
	if !ok {
		return fmt.Errorf("unknown command %q", string(text))
	}
	*c = cmd
	return nil
}
