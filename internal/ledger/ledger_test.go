package ledger

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/npezzotti/go-roomchat/internal/rooms"
	"github.com/npezzotti/go-roomchat/internal/testutil"
	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	got []*Notification
}

func (r *recorder) Deliver(n *Notification) {
	r.got = append(r.got, n)
}

func newTestLedger(t *testing.T) (*Ledger, *rooms.Registry) {
	reg := rooms.NewRegistry()
	return NewLedger(testutil.TestLogger(t), reg), reg
}

func addTeam(t *testing.T, reg *rooms.Registry) *types.Room {
	t.Helper()
	room, err := rooms.NewRoom("team", types.RoomRestricted, []string{"alice"}, nil)
	assert.NoError(t, err)
	room, err = reg.AddRoom(room)
	assert.NoError(t, err)
	return room
}

func message(user, room, text string) *Notification {
	return NewRoomAction(types.CmdSend, user, room, true, "", map[string]any{
		"private": false,
		"to":      "/all",
		"message": text,
	})
}

func TestNotificationJSON(t *testing.T) {
	n := message("alice", "team", "hello")
	b, err := json.Marshal(n)
	assert.NoError(t, err)

	var got map[string]any
	assert.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "/send", got["action"])
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "", got["reason"])
	assert.Equal(t, "alice", got["user"])
	assert.Equal(t, "team", got["room_name"])
	assert.NotEmpty(t, got["datetime"])
	assert.Equal(t, map[string]any{"private": false, "to": "/all", "message": "hello"}, got["payload"])
	assert.NotContains(t, got, "shape")

	plain, err := json.Marshal(NewAction(types.CmdConnected, true, "", nil))
	assert.NoError(t, err)
	assert.NotContains(t, string(plain), `"user"`)
	assert.NotContains(t, string(plain), `"room_name"`)
	assert.Contains(t, string(plain), `"payload":{}`)
}

func TestProcessPartitions(t *testing.T) {
	l, reg := newTestLedger(t)
	team := addTeam(t, reg)
	rec := &recorder{}

	assert.NoError(t, l.Process(rec, NewAction(types.CmdConnected, true, "", nil)))
	assert.NoError(t, l.Process(rec, NewUserAction(types.CmdLogin, "alice", true, "", nil)))
	assert.NoError(t, l.Process(rec, message("alice", "team", "hi")))

	assert.Len(t, rec.got, 3)
	assert.Len(t, l.Other(), 1)

	userLog, err := l.GetNNotificationsForUser("alice", 10)
	assert.NoError(t, err)
	assert.Len(t, userLog, 1)
	assert.Equal(t, types.CmdLogin, userLog[0].Action)

	roomLog, err := l.GetNMessages(team, 10)
	assert.NoError(t, err)
	assert.Len(t, roomLog, 1)
	assert.Equal(t, "hi", roomLog[0].Payload["message"])
}

func TestProcessRejectsNonMembers(t *testing.T) {
	l, reg := newTestLedger(t)
	team := addTeam(t, reg)
	assert.NoError(t, l.Process(&recorder{}, message("alice", "team", "first")))

	tcases := []struct {
		name string
		n    *Notification
		err  error
	}{
		{"not a member", message("bob", "team", "let me in"), types.ErrNoRoomAccess},
		{"unknown room", message("alice", "nowhere", "hello"), types.ErrNoRoomFound},
		{"no dialogue", NewPrivateRoomAction(types.CmdSendPrivate, "alice", "bob", true, "", nil), types.ErrNoRoomFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			err := l.Process(rec, tc.n)
			assert.ErrorIs(t, err, tc.err)
			assert.Empty(t, rec.got, "expected nothing to be delivered")

			roomLog, err := l.GetNMessages(team, 100)
			assert.NoError(t, err)
			assert.Len(t, roomLog, 1, "expected the room log length to be unchanged")
		})
	}
}

func TestProcessPrivate(t *testing.T) {
	l, reg := newTestLedger(t)
	dialogue, err := rooms.NewPrivateRoom("alice", "bob")
	assert.NoError(t, err)
	dialogue, err = reg.AddRoom(dialogue)
	assert.NoError(t, err)

	rec := &recorder{}
	n := NewPrivateRoomAction(types.CmdSendPrivate, "bob", "alice", true, "", map[string]any{"message": "psst"})
	assert.NoError(t, l.Process(rec, n))
	assert.Len(t, rec.got, 1)

	got, err := l.GetNMessages(dialogue, 5)
	assert.NoError(t, err)
	assert.Equal(t, []*Notification{n}, got)

	reg.DeleteRoom(dialogue, "alice")
	err = l.Process(rec, NewPrivateRoomAction(types.CmdSendPrivate, "bob", "alice", true, "", nil))
	assert.ErrorIs(t, err, types.ErrNoRoomFound)
}

func TestDefaultRoomOpenToEveryone(t *testing.T) {
	l, reg := newTestLedger(t)
	assert.NoError(t, l.Process(&recorder{}, message("anonymous_1", types.DefaultRoomName, "hey")))

	got, err := l.GetNMessages(reg.Default(), 1)
	assert.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestGetNMessagesKeepsFirstN(t *testing.T) {
	l, reg := newTestLedger(t)
	team := addTeam(t, reg)

	_, err := l.GetNMessages(team, 5)
	assert.ErrorIs(t, err, types.ErrNoRoomFound, "expected a room without entries to fail")

	for i := range 5 {
		assert.NoError(t, l.Process(&recorder{}, message("alice", "team", fmt.Sprintf("m%d", i))))
	}

	tcases := []struct {
		name string
		n    int
		want []string
	}{
		{"fewer than stored keeps the oldest", 3, []string{"m0", "m1", "m2"}},
		{"exactly stored", 5, []string{"m0", "m1", "m2", "m3", "m4"}},
		{"more than stored returns all", 50, []string{"m0", "m1", "m2", "m3", "m4"}},
		{"non positive uses default", 0, []string{"m0", "m1", "m2", "m3", "m4"}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := l.GetNMessages(team, tc.n)
			assert.NoError(t, err)
			var texts []string
			for _, n := range got {
				texts = append(texts, n.Payload["message"].(string))
			}
			assert.Equal(t, tc.want, texts)
		})
	}
}

func TestGetNNotificationsForUser(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.GetNNotificationsForUser("alice", 5)
	assert.ErrorIs(t, err, types.ErrNoRegisteredUserFound)

	l.Process(&recorder{}, NewUserAction(types.CmdLogin, "alice", true, "", nil))
	l.Process(&recorder{}, NewUserAction(types.CmdJoinRoom, "alice", true, "", nil))

	got, err := l.GetNNotificationsForUser("alice", 1)
	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, types.CmdLogin, got[0].Action)
}

func TestHistoryIsNotAppended(t *testing.T) {
	l, reg := newTestLedger(t)
	team := addTeam(t, reg)
	l.Process(&recorder{}, message("alice", "team", "hello"))

	rec := &recorder{}
	assert.NoError(t, l.HistoryRoom(rec, "alice", team, 20))
	assert.NoError(t, l.HistoryRoom(rec, "alice", team, 20))
	assert.Len(t, rec.got, 2)

	h := rec.got[1]
	assert.Equal(t, types.CmdHistory, h.Action)
	assert.True(t, h.Success)
	history, ok := h.Payload["history"].([]*Notification)
	assert.True(t, ok)
	assert.Len(t, history, 1, "expected history queries to stay out of the room log")
	assert.Empty(t, l.Other())

	_, err := l.GetNNotificationsForUser("alice", 20)
	assert.ErrorIs(t, err, types.ErrNoRegisteredUserFound)

	assert.ErrorIs(t, l.HistoryUser(rec, "alice", 20), types.ErrNoRegisteredUserFound)
	l.Process(&recorder{}, NewUserAction(types.CmdLogin, "alice", true, "", nil))
	assert.NoError(t, l.HistoryUser(rec, "alice", 20))
}

func TestDumpLoad(t *testing.T) {
	l, reg := newTestLedger(t)
	team := addTeam(t, reg)
	l.Process(&recorder{}, NewAction(types.CmdConnected, true, "", map[string]any{"name": "anonymous_7"}))
	l.Process(&recorder{}, NewUserAction(types.CmdLogin, "alice", true, "", nil))
	l.Process(&recorder{}, message("alice", "team", "one"))
	l.Process(&recorder{}, message("alice", "team", "two"))

	records, err := l.Dump()
	assert.NoError(t, err)
	assert.Len(t, records, 4)

	fresh := NewLedger(testutil.TestLogger(t), reg)
	assert.NoError(t, fresh.Load(records))

	msgs, err := fresh.GetNMessages(team, 20)
	assert.NoError(t, err)
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, "one", msgs[0].Payload["message"])
		assert.Equal(t, "two", msgs[1].Payload["message"])
		assert.Equal(t, types.CmdSend, msgs[0].Action)
		assert.Equal(t, ShapeRoom, msgs[0].Shape)
	}

	other := fresh.Other()
	if assert.Len(t, other, 1) {
		assert.Equal(t, "anonymous_7", other[0].Payload["name"])
	}

	again, err := fresh.Dump()
	assert.NoError(t, err)
	assert.Equal(t, records, again, "expected reload to be idempotent")
}

func TestLoadCorruptRecord(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Process(&recorder{}, NewUserAction(types.CmdLogin, "alice", true, "", nil))

	err := l.Load([]types.NotificationRecord{{Partition: PartitionUsers, PartitionKey: "alice", Body: []byte{0xff, 0x00}}})
	assert.Error(t, err)

	_, err = l.GetNNotificationsForUser("alice", 1)
	assert.ErrorIs(t, err, types.ErrNoRegisteredUserFound, "expected a failed load to leave the ledger empty")
}
