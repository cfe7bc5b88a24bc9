package server

import (
	"fmt"
	"maps"

	"github.com/npezzotti/go-roomchat/internal/ledger"
	"github.com/npezzotti/go-roomchat/internal/rooms"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/types"
)

type handlerFunc func(c *Client, req *Request) error

func (cs *ChatServer) handlerTable() map[types.Command]handlerFunc {
	return map[types.Command]handlerFunc{
		types.CmdSend:           cs.handleSend,
		types.CmdSendPrivate:    cs.handleSendPrivate,
		types.CmdHistory:        cs.handleHistory,
		types.CmdCreateRoom:     cs.handleCreateRoom,
		types.CmdDeleteRoom:     cs.handleDeleteRoom,
		types.CmdAddUser:        cs.handleAddUser,
		types.CmdRemoveUser:     cs.handleRemoveUser,
		types.CmdJoinRoom:       cs.handleJoinRoom,
		types.CmdLeaveRoom:      cs.handleLeaveRoom,
		types.CmdOpenDialogue:   cs.handleOpenDialogue,
		types.CmdDeleteDialogue: cs.handleDeleteDialogue,
		types.CmdRegister:       cs.handleRegister,
		types.CmdLogin:          cs.handleLogin,
		types.CmdLogout:         cs.handleLogout,
		types.CmdPublishFile:    cs.handlePublishFile,
		types.CmdLoadFile:       cs.handleLoadFile,
		types.CmdHelp:           cs.handleHelp,
		types.CmdQuit:           cs.handleQuit,
	}
}

// dispatch runs the handler for req and turns a handler error into a
// failure notification on the same connection.
func (cs *ChatServer) dispatch(req *Request) {
	c := req.client
	if !cs.hasClient(c) {
		return
	}

	cs.log.Printf("%s: %s", c.username, req)
	cs.stats.Incr(stats.NumCommands)

	handler, ok := cs.handlers[req.cmd]
	if !ok {
		cs.stats.Incr(stats.NumFailedCommands)
		cs.fail(c, ledger.Failure(types.CmdError, c.username, types.ReasonBadRequest, nil))
		return
	}

	if err := handler(c, req); err != nil {
		cs.stats.Incr(stats.NumFailedCommands)
		cs.handleError(c, req, err)
	}
}

func (cs *ChatServer) handleError(c *Client, req *Request, err error) {
	reason, ok := types.Reason(err)
	if !ok {
		cs.log.Printf("%s from %q: %v", req.cmd, c.username, err)
		cs.fail(c, ledger.Failure(types.CmdError, c.username, types.ReasonUnknownError, nil))
		return
	}

	cs.fail(c, ledger.Failure(req.cmd, c.username, reason, req.echo()))
}

func (cs *ChatServer) fail(c *Client, n *ledger.Notification) {
	if err := cs.ledger.Process(c, n); err != nil {
		cs.log.Printf("failure notification for %q: %v", c.username, err)
	}
}

func requireLogin(c *Client) error {
	if !c.authenticated {
		return types.ErrNoRegisteredUserFound
	}
	return nil
}

func (cs *ChatServer) roomByName(name string) (*types.Room, error) {
	if name == "" {
		return nil, types.ErrBadRequest
	}

	room := cs.rooms.RoomByName(name)
	if room == nil || room.Deleted {
		return nil, types.ErrNoRoomFound
	}
	return room, nil
}

func (cs *ChatServer) handleSend(c *Client, req *Request) error {
	if req.Message == "" {
		return types.ErrBadRequest
	}

	roomName := req.Room
	if roomName == "" {
		roomName = types.DefaultRoomName
	}
	to := req.ToUser
	if to == "" {
		to = toAll
	}

	n := ledger.NewRoomAction(types.CmdSend, c.username, roomName, true, "", map[string]any{
		"private": req.Private,
		"to":      to,
		"message": req.Message,
	})
	if err := cs.ledger.Process(c, n); err != nil {
		return err
	}

	room := cs.rooms.RoomByName(roomName)
	if req.Private && to != toAll {
		if cs.rooms.UserInRoom(to, room) {
			cs.deliverToUser(to, n, c)
		}
		return nil
	}

	cs.broadcast(room, n, c)
	return nil
}

func (cs *ChatServer) handleSendPrivate(c *Client, req *Request) error {
	if err := requireLogin(c); err != nil {
		return err
	}
	if req.ToUser == "" || req.Message == "" {
		return types.ErrBadRequest
	}

	n := ledger.NewPrivateRoomAction(types.CmdSendPrivate, c.username, req.ToUser, true, "", map[string]any{
		"private": true,
		"to":      req.ToUser,
		"message": req.Message,
	})
	if err := cs.ledger.Process(c, n); err != nil {
		return types.NewChatError(err, types.ReasonNoDialogue)
	}

	cs.deliverToUser(req.ToUser, n, c)
	cs.deliverToUser(c.username, n, c)
	return nil
}

func (cs *ChatServer) handleHistory(c *Client, req *Request) error {
	if req.Room == "" {
		if err := requireLogin(c); err != nil {
			return err
		}
		return cs.ledger.HistoryUser(c, c.username, req.NotificationCount)
	}

	room, err := cs.roomByName(req.Room)
	if err != nil {
		return err
	}

	if !cs.rooms.UserInRoom(c.username, room) {
		return types.ErrNoRoomAccess
	}

	return cs.ledger.HistoryRoom(c, c.username, room, req.NotificationCount)
}

func (cs *ChatServer) handleCreateRoom(c *Client, req *Request) error {
	roomType, ok := types.ParseRoomType(req.RoomType)
	if req.RoomName == "" || !ok || roomType == types.RoomPrivate {
		return types.ErrBadRequest
	}

	if !c.authenticated {
		return types.ErrNotAuthorized
	}

	room, err := rooms.NewRoom(req.RoomName, roomType, []string{c.username}, nil)
	if err != nil {
		return err
	}

	added, err := cs.rooms.AddRoom(room)
	if err != nil {
		return err
	}
	if added == nil {
		return types.NewChatError(types.ErrBadRequest, types.ReasonRoomNameTaken)
	}

	payload := req.echo()
	payload["room"] = added.Clone()
	return cs.ledger.Process(c, ledger.NewUserAction(types.CmdCreateRoom, c.username, true, "", payload))
}

func (cs *ChatServer) handleDeleteRoom(c *Client, req *Request) error {
	room, err := cs.roomByName(req.RoomName)
	if err != nil {
		return err
	}

	if !c.authenticated {
		return types.ErrNotAuthorized
	}

	if err := cs.rooms.DeleteRoom(room, c.username); err != nil {
		return err
	}

	return cs.ledger.Process(c, ledger.NewUserAction(types.CmdDeleteRoom, c.username, true, "", req.echo()))
}

func (cs *ChatServer) handleAddUser(c *Client, req *Request) error {
	room, err := cs.roomByName(req.RoomName)
	if err != nil {
		return err
	}

	if !c.authenticated {
		return types.ErrNotAuthorized
	}
	if !cs.users.Exists(req.NewUser) {
		return types.ErrNoRegisteredUserFound
	}

	if !cs.rooms.AddUserToRoom(room, c.username, req.NewUser) {
		return types.NewChatError(types.ErrNotAuthorized, types.ReasonNotAllowed)
	}

	return cs.ledger.Process(c, ledger.NewUserAction(types.CmdAddUser, c.username, true, "", req.echo()))
}

func (cs *ChatServer) handleRemoveUser(c *Client, req *Request) error {
	room, err := cs.roomByName(req.RoomName)
	if err != nil {
		return err
	}

	if !c.authenticated {
		return types.ErrNotAuthorized
	}
	if !cs.users.Exists(req.RemoveUser) {
		return types.ErrNoRegisteredUserFound
	}

	if !cs.rooms.RemoveUserFromRoom(room, c.username, req.RemoveUser) {
		return types.NewChatError(types.ErrNotAuthorized, types.ReasonNotAllowed)
	}

	return cs.ledger.Process(c, ledger.NewUserAction(types.CmdRemoveUser, c.username, true, "", req.echo()))
}

func (cs *ChatServer) handleJoinRoom(c *Client, req *Request) error {
	room, err := cs.roomByName(req.RoomName)
	if err != nil {
		return err
	}

	if cs.rooms.UserInRoom(c.username, room) {
		return types.NewChatError(types.ErrBadRequest, types.ReasonAlreadyInRoom)
	}

	if !c.authenticated || !cs.rooms.Join(c.username, room) {
		return types.NewChatError(types.ErrNoRoomAccess, types.ReasonNotAllowedToJoin)
	}

	return cs.ledger.Process(c, ledger.NewUserAction(types.CmdJoinRoom, c.username, true, "", req.echo()))
}

func (cs *ChatServer) handleLeaveRoom(c *Client, req *Request) error {
	room, err := cs.roomByName(req.RoomName)
	if err != nil {
		return err
	}

	if !cs.rooms.UserInRoom(c.username, room) || !cs.rooms.Leave(c.username, room) {
		return types.ErrNoRoomAccess
	}

	return cs.ledger.Process(c, ledger.NewUserAction(types.CmdLeaveRoom, c.username, true, "", req.echo()))
}

func (cs *ChatServer) handleOpenDialogue(c *Client, req *Request) error {
	if err := requireLogin(c); err != nil {
		return err
	}
	if req.WithUser == "" || req.WithUser == c.username {
		return types.ErrBadRequest
	}
	if !cs.users.Exists(req.WithUser) {
		return types.ErrNoRegisteredUserFound
	}

	room, err := rooms.NewPrivateRoom(c.username, req.WithUser)
	if err != nil {
		return err
	}

	room, err = cs.rooms.AddRoom(room)
	if err != nil {
		return err
	}

	payload := req.echo()
	payload["room_key"] = room.Key
	n := ledger.NewUserAction(types.CmdOpenDialogue, c.username, true, "", payload)
	if err := cs.ledger.Process(c, n); err != nil {
		return err
	}

	cs.deliverToUser(req.WithUser, n, c)
	return nil
}

func (cs *ChatServer) handleDeleteDialogue(c *Client, req *Request) error {
	if err := requireLogin(c); err != nil {
		return err
	}
	if req.WithUser == "" {
		return types.ErrBadRequest
	}

	room := cs.rooms.FindPrivateRoom(c.username, req.WithUser)
	if room == nil {
		return types.NewChatError(types.ErrNoRoomFound, types.ReasonNoDialogue)
	}

	if err := cs.rooms.DeleteRoom(room, c.username); err != nil {
		return err
	}

	return cs.ledger.Process(c, ledger.NewUserAction(types.CmdDeleteDialogue, c.username, true, "", req.echo()))
}

func (cs *ChatServer) handleRegister(c *Client, req *Request) error {
	if c.authenticated {
		return types.NewChatError(types.ErrBadRequest, types.ReasonAlreadyLoggedIn)
	}

	if _, err := cs.users.Register(req.Username, req.Password); err != nil {
		return err
	}

	return cs.ledger.Process(c, ledger.NewAction(types.CmdRegister, true, "", req.echo()))
}

// tokenDeliverer hands the resume token to the session only, so it never
// reaches the ledger.
type tokenDeliverer struct {
	c     *Client
	token string
}

func (d tokenDeliverer) Deliver(n *ledger.Notification) {
	out := *n
	out.Payload = maps.Clone(n.Payload)
	out.Payload["token"] = d.token
	d.c.Deliver(&out)
}

func (cs *ChatServer) handleLogin(c *Client, req *Request) error {
	if c.authenticated {
		return types.NewChatError(types.ErrBadRequest, types.ReasonAlreadyLoggedIn)
	}

	username, err := cs.authenticate(req)
	if err != nil {
		return err
	}

	cs.users.ReleaseAnonymousName(c.username)
	cs.rename(c, username, true)

	payload := map[string]any{"rooms": roomSummaries(cs.rooms.RoomsForUser(username))}
	n := ledger.NewUserAction(types.CmdLogin, username, true, "", payload)
	if cs.tokens == nil {
		return cs.ledger.Process(c, n)
	}

	token, err := cs.tokens.Issue(username)
	if err != nil {
		return fmt.Errorf("issue token for %q: %w", username, err)
	}

	return cs.ledger.Process(tokenDeliverer{c: c, token: token}, n)
}

// roomSummaries lists the rooms a session rejoins on login.
func roomSummaries(rs []*types.Room) []map[string]any {
	out := make([]map[string]any, 0, len(rs))
	for _, room := range rs {
		out = append(out, map[string]any{"key": room.Key, "name": room.Name, "room_type": room.Type})
	}
	return out
}

func (cs *ChatServer) authenticate(req *Request) (string, error) {
	incorrect := types.NewChatError(types.ErrNotAuthorized, types.ReasonIncorrectAuth)

	if req.Token != "" {
		if cs.tokens == nil {
			return "", incorrect
		}
		username, err := cs.tokens.Verify(req.Token)
		if err != nil || !cs.users.Exists(username) {
			return "", incorrect
		}
		return username, nil
	}

	if req.Username == "" || !cs.users.Login(req.Username, req.Password) {
		return "", incorrect
	}
	return req.Username, nil
}

func (cs *ChatServer) handleLogout(c *Client, req *Request) error {
	if !c.authenticated {
		return types.NewChatError(types.ErrBadRequest, types.ReasonAlreadyLoggedOut)
	}

	if !cs.users.Logout(c.username) {
		return types.ErrBadRequest
	}

	before := c.username
	cs.rename(c, cs.users.AnonymousName(), false)

	return cs.ledger.Process(c, ledger.NewUserAction(types.CmdLogout, before, true, "", map[string]any{"name": c.username}))
}

func (cs *ChatServer) handlePublishFile(c *Client, req *Request) error {
	if req.Filename == "" {
		return types.ErrBadRequest
	}

	rec, err := cs.files.Publish(c.username, req.Filename, req.data)
	if err != nil {
		return fmt.Errorf("publish %q: %w", req.Filename, err)
	}
	cs.stats.Incr(stats.NumFilesPublished)

	return cs.ledger.Process(c, ledger.NewUserAction(types.CmdPublishFile, c.username, true, "", map[string]any{
		"filename": rec.Filename,
		"key":      rec.Key,
		"size":     rec.Size,
		"digest":   rec.Digest,
	}))
}

func (cs *ChatServer) handleLoadFile(c *Client, req *Request) error {
	rec, data, err := cs.files.Open(req.Key)
	if err != nil {
		return err
	}

	err = cs.ledger.Process(c, ledger.NewUserAction(types.CmdLoadFile, c.username, true, "", map[string]any{
		"filename": rec.Filename,
		"key":      rec.Key,
		"size":     rec.Size,
	}))
	if err != nil {
		return err
	}

	if !c.deliverBlob(data) {
		return fmt.Errorf("queue file %q: send buffer full", rec.Key)
	}
	return nil
}

func (cs *ChatServer) handleHelp(c *Client, req *Request) error {
	return cs.ledger.Process(c, ledger.NewAction(types.CmdHelp, true, "", helpPayload()))
}

// handleQuit logs the session out and closes it once the notification is
// flushed.
func (cs *ChatServer) handleQuit(c *Client, req *Request) error {
	err := cs.ledger.Process(c, ledger.NewUserAction(types.CmdLogout, c.username, true, "", nil))
	c.queueClose()
	return err
}
