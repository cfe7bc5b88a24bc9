package rooms

import (
	"slices"
	"testing"

	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/stretchr/testify/assert"
)

func mustRoom(t *testing.T, name string, rt types.RoomType, admins ...string) *types.Room {
	t.Helper()
	room, err := NewRoom(name, rt, admins, nil)
	if err != nil {
		t.Fatalf("new room: %v", err)
	}
	return room
}

func addRoom(t *testing.T, r *Registry, room *types.Room) *types.Room {
	t.Helper()
	added, err := r.AddRoom(room)
	if err != nil {
		t.Fatalf("add room: %v", err)
	}
	return added
}

func assertAdminsAllowed(t *testing.T, room *types.Room) {
	t.Helper()
	for _, admin := range room.Admins {
		assert.Contains(t, room.Allowed, admin, "expected admins to be a subset of allowed")
	}
}

func TestNewRoom(t *testing.T) {
	room, err := NewRoom("team", types.RoomRestricted, []string{"alice"}, []string{"bob"})
	assert.NoError(t, err)
	assert.NotEmpty(t, room.Key)
	assert.Equal(t, []string{"alice"}, room.Admins)
	assert.Equal(t, []string{"bob", "alice"}, room.Allowed)

	other, err := NewRoom("team", types.RoomRestricted, []string{"alice"}, nil)
	assert.NoError(t, err)
	assert.NotEqual(t, room.Key, other.Key, "expected keys to be unique")
}

func TestDefaultRoom(t *testing.T) {
	r := NewRegistry()
	global := r.Default()

	assert.Equal(t, types.DefaultRoomName, global.Name)
	assert.Equal(t, types.RoomOpen, global.Type)
	assert.Empty(t, global.Admins)
	assert.Same(t, global, r.RoomByName(types.DefaultRoomName))

	assert.True(t, r.UserInRoom("anyone", global))
	assert.False(t, r.Leave("anyone", global), "expected leaving the default room to fail")
	assert.ErrorIs(t, r.DeleteRoom(global, "anyone"), types.ErrNotAuthorized)
	assert.Empty(t, r.members, "expected the default room to stay out of the membership index")
}

// roomByKey reaches past the name index, tombstones included.
func roomByKey(r *Registry, key string) *types.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.rooms[key]
}

func TestAddRoom(t *testing.T) {
	r := NewRegistry()

	room := addRoom(t, r, mustRoom(t, "foo", types.RoomOpen, "u"))
	assert.Equal(t, []string{"u"}, room.Admins)
	assert.Equal(t, []string{"u"}, room.Allowed)
	assert.True(t, r.UserInRoom("u", room))
	assert.Same(t, room, r.RoomByName("foo"))
	assert.Same(t, room, roomByKey(r, room.Key))

	dup, err := r.AddRoom(mustRoom(t, "foo", types.RoomRestricted, "v"))
	assert.NoError(t, err)
	assert.Nil(t, dup, "expected a taken name to yield no room")

	_, err = r.AddRoom(mustRoom(t, "", types.RoomOpen, "u"))
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestPrivateRoomUniqueness(t *testing.T) {
	r := NewRegistry()

	first := mustRoom(t, "", types.RoomPrivate, "alice", "bob")
	room := addRoom(t, r, first)
	assert.True(t, r.UserInRoom("alice", room))
	assert.True(t, r.UserInRoom("bob", room))
	assert.Same(t, room, r.FindPrivateRoom("bob", "alice"), "expected pair lookup to be unordered")

	_, err := r.AddRoom(mustRoom(t, "", types.RoomPrivate, "bob", "alice"))
	assert.ErrorIs(t, err, types.ErrDialogueOpenedAlready)

	assert.NoError(t, r.DeleteRoom(room, "alice"))
	assert.True(t, room.Deleted)
	assert.Nil(t, r.FindPrivateRoom("alice", "bob"))
	assert.False(t, r.UserInRoom("alice", room))

	revived, err := r.AddRoom(mustRoom(t, "", types.RoomPrivate, "alice", "bob"))
	assert.NoError(t, err)
	assert.Same(t, room, revived, "expected the tombstoned dialogue to be revived")
	assert.Equal(t, first.Key, revived.Key)
	assert.False(t, revived.Deleted)
	assert.True(t, r.UserInRoom("alice", revived))
	assert.True(t, r.UserInRoom("bob", revived))

	_, err = r.AddRoom(mustRoom(t, "", types.RoomPrivate, "alice"))
	assert.ErrorIs(t, err, types.ErrBadRequest)
	_, err = r.AddRoom(mustRoom(t, "", types.RoomPrivate, "alice", "alice"))
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestJoin(t *testing.T) {
	r := NewRegistry()
	open := addRoom(t, r, mustRoom(t, "lobby", types.RoomOpen, "alice"))
	restricted := addRoom(t, r, mustRoom(t, "team", types.RoomRestricted, "alice"))
	private := addRoom(t, r, mustRoom(t, "", types.RoomPrivate, "alice", "bob"))

	assert.True(t, r.Join("bob", open))
	assert.True(t, r.UserInRoom("bob", open))
	assert.NotContains(t, open.Allowed, "bob", "expected open room joins to leave allowed untouched")

	assert.False(t, r.Join("bob", restricted))
	assert.False(t, r.UserInRoom("bob", restricted))
	assert.True(t, r.AddUserToRoom(restricted, "alice", "bob"))
	assert.True(t, r.Join("bob", restricted))
	assert.True(t, r.UserInRoom("bob", restricted))

	assert.False(t, r.Join("carol", private))
	assert.False(t, r.Join("alice", private))
	assert.False(t, r.Join("bob", nil))
}

func TestLeave(t *testing.T) {
	t.Run("member leaves", func(t *testing.T) {
		r := NewRegistry()
		room := addRoom(t, r, mustRoom(t, "lobby", types.RoomOpen, "alice"))
		r.Join("bob", room)

		assert.True(t, r.Leave("bob", room))
		assert.False(t, r.UserInRoom("bob", room))
		assert.False(t, room.Deleted)
		assert.False(t, r.Leave("bob", room), "expected leaving twice to fail")
	})

	t.Run("sole admin leaves", func(t *testing.T) {
		r := NewRegistry()
		room := addRoom(t, r, mustRoom(t, "lobby", types.RoomOpen, "alice"))
		r.Join("bob", room)

		assert.True(t, r.Leave("alice", room))
		assert.True(t, room.Deleted)
		assert.Nil(t, r.RoomByName("lobby"), "expected the name to be freed")
		assert.False(t, r.UserInRoom("bob", room))

		again := addRoom(t, r, mustRoom(t, "lobby", types.RoomOpen, "carol"))
		assert.NotEqual(t, room.Key, again.Key)
	})

	t.Run("private room leave tombstones", func(t *testing.T) {
		r := NewRegistry()
		room := addRoom(t, r, mustRoom(t, "", types.RoomPrivate, "alice", "bob"))

		assert.True(t, r.Leave("bob", room))
		assert.True(t, room.Deleted)
		assert.False(t, r.UserInRoom("alice", room))
		assert.False(t, r.UserInRoom("bob", room))
	})

	t.Run("one of several admins leaves", func(t *testing.T) {
		r := NewRegistry()
		room := addRoom(t, r, mustRoom(t, "team", types.RoomRestricted, "alice", "bob"))

		assert.True(t, r.Leave("alice", room))
		assert.False(t, room.Deleted)
		assert.True(t, r.UserInRoom("bob", room))
	})
}

func TestAdminGatedMutation(t *testing.T) {
	r := NewRegistry()
	room := addRoom(t, r, mustRoom(t, "team", types.RoomRestricted, "alice"))
	r.AddUserToRoom(room, "alice", "bob")
	r.Join("bob", room)

	admins := slices.Clone(room.Admins)
	allowed := slices.Clone(room.Allowed)

	assert.False(t, r.AddUserToRoom(room, "bob", "carol"))
	assert.False(t, r.RemoveUserFromRoom(room, "bob", "alice"))
	assert.ErrorIs(t, r.DeleteRoom(room, "bob"), types.ErrNotAuthorized)

	assert.Equal(t, admins, room.Admins)
	assert.Equal(t, allowed, room.Allowed)
	assert.False(t, room.Deleted)
	assertAdminsAllowed(t, room)
}

func TestAddRemoveUser(t *testing.T) {
	t.Run("restricted", func(t *testing.T) {
		r := NewRegistry()
		room := addRoom(t, r, mustRoom(t, "team", types.RoomRestricted, "alice"))

		assert.True(t, r.AddUserToRoom(room, "alice", "bob"))
		assert.True(t, r.AddUserToRoom(room, "alice", "bob"))
		assert.Equal(t, []string{"alice", "bob"}, room.Allowed, "expected no duplicate entries")
		assert.True(t, r.Join("bob", room))

		assert.True(t, r.RemoveUserFromRoom(room, "alice", "bob"))
		assert.False(t, r.UserInRoom("bob", room))
		assert.NotContains(t, room.Allowed, "bob")
		assert.False(t, r.Join("bob", room))
		assertAdminsAllowed(t, room)
	})

	t.Run("sole admin removes self", func(t *testing.T) {
		r := NewRegistry()
		room := addRoom(t, r, mustRoom(t, "team", types.RoomRestricted, "alice"))

		assert.True(t, r.RemoveUserFromRoom(room, "alice", "alice"))
		assert.True(t, room.Deleted)
		assert.Nil(t, r.RoomByName("team"))
	})

	t.Run("open", func(t *testing.T) {
		r := NewRegistry()
		room := addRoom(t, r, mustRoom(t, "lobby", types.RoomOpen, "alice"))

		assert.True(t, r.AddUserToRoom(room, "bob", "carol"), "expected adds to open rooms to always succeed")
		r.Join("carol", room)
		assert.False(t, r.RemoveUserFromRoom(room, "alice", "carol"), "expected no banning from open rooms")
		assert.True(t, r.UserInRoom("carol", room))
	})

	t.Run("private", func(t *testing.T) {
		r := NewRegistry()
		room := addRoom(t, r, mustRoom(t, "", types.RoomPrivate, "alice", "bob"))

		assert.False(t, r.AddUserToRoom(room, "alice", "carol"))
		assert.False(t, r.RemoveUserFromRoom(room, "alice", "bob"))
	})
}

func TestDeleteRoom(t *testing.T) {
	r := NewRegistry()
	room := addRoom(t, r, mustRoom(t, "lobby", types.RoomOpen, "alice"))
	r.Join("bob", room)

	assert.NoError(t, r.DeleteRoom(room, "alice"))
	assert.True(t, room.Deleted)
	assert.Nil(t, r.RoomByName("lobby"))
	assert.False(t, r.UserInRoom("alice", room))
	assert.False(t, r.UserInRoom("bob", room), "expected joined users to be dropped from the index")
	assert.Empty(t, r.members)

	assert.ErrorIs(t, r.DeleteRoom(room, "alice"), types.ErrNoRoomFound)
	assert.ErrorIs(t, r.DeleteRoom(nil, "alice"), types.ErrNoRoomFound)
}

func TestRoomsForUser(t *testing.T) {
	r := NewRegistry()
	a := addRoom(t, r, mustRoom(t, "a", types.RoomOpen, "alice"))
	b := addRoom(t, r, mustRoom(t, "b", types.RoomOpen, "alice"))
	r.DeleteRoom(b, "alice")

	got := r.RoomsForUser("alice")
	assert.Equal(t, []*types.Room{r.Default(), a}, got)
	assert.Equal(t, []*types.Room{r.Default()}, r.RoomsForUser("nobody"))
}

func TestDumpLoadRoundTrip(t *testing.T) {
	r := NewRegistry()
	team := addRoom(t, r, mustRoom(t, "team", types.RoomRestricted, "alice"))
	r.AddUserToRoom(team, "alice", "bob")
	r.Join("bob", team)
	lobby := addRoom(t, r, mustRoom(t, "lobby", types.RoomOpen, "carol"))
	r.Join("alice", lobby)
	dialogue := addRoom(t, r, mustRoom(t, "", types.RoomPrivate, "alice", "bob"))
	gone := addRoom(t, r, mustRoom(t, "gone", types.RoomOpen, "bob"))
	r.DeleteRoom(gone, "bob")
	closed := addRoom(t, r, mustRoom(t, "", types.RoomPrivate, "alice", "carol"))
	r.DeleteRoom(closed, "carol")

	snap := r.Dump()
	fresh := NewRegistry()
	assert.NoError(t, fresh.Load(snap))

	users := []string{"alice", "bob", "carol", "dave"}
	for _, room := range []*types.Room{r.Default(), team, lobby, dialogue, gone, closed} {
		loaded := roomByKey(fresh, room.Key)
		if !assert.NotNil(t, loaded, "expected room %q to be loaded", room.Key) {
			continue
		}
		assert.Equal(t, *room, *loaded)
		for _, u := range users {
			assert.Equal(t, r.UserInRoom(u, room), fresh.UserInRoom(u, loaded),
				"membership mismatch for %s in %q", u, room.Key)
		}
	}

	assert.Equal(t, team.Key, fresh.RoomByName("team").Key)
	assert.Nil(t, fresh.RoomByName("gone"))
	assert.Equal(t, dialogue.Key, fresh.FindPrivateRoom("bob", "alice").Key)

	revived, err := fresh.AddRoom(mustRoom(t, "", types.RoomPrivate, "carol", "alice"))
	assert.NoError(t, err)
	assert.Equal(t, closed.Key, revived.Key, "expected tombstoned dialogues to survive a reload")
}

func TestLoadRejectsInvalidRooms(t *testing.T) {
	r := NewRegistry()
	err := r.Load(Snapshot{
		Rooms: []types.Room{
			{Key: "ok", Name: "ok", Type: types.RoomOpen, Admins: []string{"a"}, Allowed: []string{}},
			{Key: "bad", Name: "bad", Type: "/weird"},
			{Key: "solo", Type: types.RoomPrivate, Admins: []string{"a"}},
			{Key: DefaultRoomKey, Name: "Global", Type: types.RoomOpen},
		},
		Memberships: []types.Membership{
			{Username: "a", RoomKey: "ok"},
			{Username: "a", RoomKey: "bad"},
		},
	})
	assert.Error(t, err)

	ok := roomByKey(r, "ok")
	assert.NotNil(t, ok)
	assert.Equal(t, []string{"a"}, ok.Allowed, "expected admins to be added to allowed")
	assert.True(t, r.UserInRoom("a", ok))
	assert.Nil(t, roomByKey(r, "bad"))
	assert.Nil(t, roomByKey(r, "solo"))
	assert.Same(t, r.Default(), roomByKey(r, DefaultRoomKey))
}
