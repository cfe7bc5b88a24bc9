package rooms

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/teris-io/shortid"
)

// DefaultRoomKey is the fixed key of the default room so that its history
// survives restarts.
const DefaultRoomKey = "global"

type pairKey struct {
	a, b string
}

func newPairKey(u1, u2 string) pairKey {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return pairKey{a: u1, b: u2}
}

// NewRoom builds a room with a fresh key. Admins are appended to allowed
// when missing.
func NewRoom(name string, roomType types.RoomType, admins, allowed []string) (*types.Room, error) {
	key, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate room key: %w", err)
	}

	r := &types.Room{
		Key:     key,
		Name:    name,
		Type:    roomType,
		Admins:  slices.Clone(admins),
		Allowed: slices.Clone(allowed),
	}
	if r.Admins == nil {
		r.Admins = []string{}
	}
	if r.Allowed == nil {
		r.Allowed = []string{}
	}
	for _, admin := range r.Admins {
		if !slices.Contains(r.Allowed, admin) {
			r.Allowed = append(r.Allowed, admin)
		}
	}

	return r, nil
}

// NewPrivateRoom builds the dialogue room between two users.
func NewPrivateRoom(user1, user2 string) (*types.Room, error) {
	return NewRoom("", types.RoomPrivate, []string{user1, user2}, nil)
}

type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*types.Room
	byName  map[string]string
	pairs   map[pairKey]string
	members map[string]map[string]struct{}
	global  *types.Room
}

func NewRegistry() *Registry {
	r := &Registry{
		global: &types.Room{
			Key:     DefaultRoomKey,
			Name:    types.DefaultRoomName,
			Type:    types.RoomOpen,
			Admins:  []string{},
			Allowed: []string{},
		},
	}
	r.reset()

	return r
}

func (r *Registry) reset() {
	r.rooms = map[string]*types.Room{r.global.Key: r.global}
	r.byName = map[string]string{r.global.Name: r.global.Key}
	r.pairs = make(map[pairKey]string)
	r.members = make(map[string]map[string]struct{})
}

func (r *Registry) Default() *types.Room {
	return r.global
}

func (r *Registry) isDefault(room *types.Room) bool {
	return room != nil && room.Key == r.global.Key
}

// AddRoom registers room. A private room must have exactly two admins; if
// the pair already has a live dialogue ErrDialogueOpenedAlready is returned,
// a tombstoned one is revived and returned instead of room. For other
// rooms a taken name yields (nil, nil).
func (r *Registry) AddRoom(room *types.Room) (*types.Room, error) {
	if room == nil {
		return nil, types.ErrBadRequest
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room.Key]; ok || room.Key == "" {
		return nil, fmt.Errorf("room key %q: %w", room.Key, types.ErrBadRequest)
	}

	if room.Type == types.RoomPrivate {
		if len(room.Admins) != 2 || room.Admins[0] == room.Admins[1] {
			return nil, fmt.Errorf("private room needs two distinct admins: %w", types.ErrBadRequest)
		}

		pk := newPairKey(room.Admins[0], room.Admins[1])
		if key, ok := r.pairs[pk]; ok {
			existing := r.rooms[key]
			if !existing.Deleted {
				return nil, types.ErrDialogueOpenedAlready
			}

			existing.Deleted = false
			for _, admin := range existing.Admins {
				r.addMemberLocked(admin, existing.Key)
			}
			return existing, nil
		}

		room.Name = ""
		r.pairs[pk] = room.Key
	} else {
		if room.Name == "" {
			return nil, fmt.Errorf("room name is empty: %w", types.ErrBadRequest)
		}
		if _, ok := r.byName[room.Name]; ok {
			return nil, nil
		}
		r.byName[room.Name] = room.Key
	}

	for _, admin := range room.Admins {
		if !slices.Contains(room.Allowed, admin) {
			room.Allowed = append(room.Allowed, admin)
		}
	}

	r.rooms[room.Key] = room
	for _, admin := range room.Admins {
		r.addMemberLocked(admin, room.Key)
	}

	return room, nil
}

func (r *Registry) addMemberLocked(username, key string) {
	keys, ok := r.members[username]
	if !ok {
		keys = make(map[string]struct{})
		r.members[username] = keys
	}
	keys[key] = struct{}{}
}

func (r *Registry) removeMemberLocked(username, key string) {
	keys, ok := r.members[username]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(r.members, username)
	}
}

func (r *Registry) userInRoomLocked(username string, room *types.Room) bool {
	if room == nil {
		return false
	}
	if r.isDefault(room) {
		return true
	}
	_, ok := r.members[username][room.Key]
	return ok
}

func (r *Registry) UserInRoom(username string, room *types.Room) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.userInRoomLocked(username, room)
}

func (r *Registry) UserIsAdmin(room *types.Room, username string) bool {
	if room == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Contains(room.Admins, username)
}

func (r *Registry) allowedToJoin(username string, room *types.Room) bool {
	switch room.Type {
	case types.RoomOpen:
		return true
	case types.RoomRestricted:
		return slices.Contains(room.Allowed, username)
	default:
		return false
	}
}

// Join adds username to room's members when the room policy allows it.
// Private rooms can only be entered through AddRoom.
func (r *Registry) Join(username string, room *types.Room) bool {
	if room == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if room.Deleted || !r.allowedToJoin(username, room) {
		return false
	}

	if r.isDefault(room) {
		return true
	}

	r.addMemberLocked(username, room.Key)
	return true
}

func (r *Registry) Leave(username string, room *types.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(username, room)
}

func (r *Registry) leaveLocked(username string, room *types.Room) bool {
	if room == nil || r.isDefault(room) || room.Deleted {
		return false
	}

	if _, ok := r.members[username][room.Key]; !ok {
		return false
	}

	if room.Type == types.RoomPrivate {
		room.Deleted = true
		for _, admin := range room.Admins {
			r.removeMemberLocked(admin, room.Key)
		}
		return true
	}

	if len(room.Admins) == 1 && room.Admins[0] == username {
		r.deleteRoomLocked(room)
		return true
	}

	r.removeMemberLocked(username, room.Key)
	return true
}

// DeleteRoom tombstones room. Only one of its admins may delete it. A
// private room keeps its pair entry so the dialogue can be revived.
func (r *Registry) DeleteRoom(room *types.Room, admin string) error {
	if room == nil {
		return types.ErrNoRoomFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isDefault(room) || !slices.Contains(room.Admins, admin) {
		return types.ErrNotAuthorized
	}

	if room.Deleted {
		return types.ErrNoRoomFound
	}

	r.deleteRoomLocked(room)
	return nil
}

func (r *Registry) deleteRoomLocked(room *types.Room) {
	room.Deleted = true

	if room.Type != types.RoomPrivate {
		if key, ok := r.byName[room.Name]; ok && key == room.Key {
			delete(r.byName, room.Name)
		}
	}

	for _, username := range room.Allowed {
		r.removeMemberLocked(username, room.Key)
	}
	// open rooms also index users that joined without being allowed
	for username, keys := range r.members {
		if _, ok := keys[room.Key]; ok {
			r.removeMemberLocked(username, room.Key)
		}
	}
}

// AddUserToRoom lets newUser join a restricted room. It always succeeds for
// open rooms and never for private ones.
func (r *Registry) AddUserToRoom(room *types.Room, admin, newUser string) bool {
	if room == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch room.Type {
	case types.RoomPrivate:
		return false
	case types.RoomOpen:
		return true
	}

	if room.Deleted || !slices.Contains(room.Admins, admin) {
		return false
	}

	if !slices.Contains(room.Allowed, newUser) {
		room.Allowed = append(room.Allowed, newUser)
	}
	return true
}

// RemoveUserFromRoom takes removeUser out of a restricted room and revokes
// its permission to rejoin. Open rooms have no banning, so removal fails.
func (r *Registry) RemoveUserFromRoom(room *types.Room, admin, removeUser string) bool {
	if room == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if room.Type != types.RoomRestricted {
		return false
	}

	if room.Deleted || !slices.Contains(room.Admins, admin) {
		return false
	}

	r.leaveLocked(removeUser, room)

	room.Allowed = slices.DeleteFunc(room.Allowed, func(u string) bool { return u == removeUser })
	room.Admins = slices.DeleteFunc(room.Admins, func(u string) bool { return u == removeUser })

	return true
}

// FindPrivateRoom returns the live dialogue between two users, or nil.
func (r *Registry) FindPrivateRoom(user1, user2 string) *types.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.pairs[newPairKey(user1, user2)]
	if !ok {
		return nil
	}

	room := r.rooms[key]
	if room.Deleted {
		return nil
	}

	return room
}

// RoomByName returns the live room registered under name, or nil.
func (r *Registry) RoomByName(name string) *types.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byName[name]
	if !ok {
		return nil
	}

	return r.rooms[key]
}

// RoomsForUser lists the default room followed by every live room the
// user is currently in, ordered by key.
func (r *Registry) RoomsForUser(username string) []*types.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.members[username]))
	for key := range r.members[username] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := []*types.Room{r.global}
	for _, key := range keys {
		if room := r.rooms[key]; room != nil && !room.Deleted {
			out = append(out, room)
		}
	}

	return out
}
