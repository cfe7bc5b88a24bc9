package rooms

import (
	"fmt"
	"slices"
	"sort"

	"github.com/npezzotti/go-roomchat/internal/types"
)

// Snapshot is everything needed to rebuild a Registry. The name and pair
// indices are derived from Rooms on load.
type Snapshot struct {
	Rooms       []types.Room
	Memberships []types.Membership
}

// Dump copies every room except the default one, tombstoned rooms
// included, plus the membership index.
func (r *Registry) Dump() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var snap Snapshot
	for _, room := range r.rooms {
		if r.isDefault(room) {
			continue
		}
		snap.Rooms = append(snap.Rooms, room.Clone())
	}
	sort.Slice(snap.Rooms, func(i, j int) bool { return snap.Rooms[i].Key < snap.Rooms[j].Key })

	for username, keys := range r.members {
		for key := range keys {
			snap.Memberships = append(snap.Memberships, types.Membership{Username: username, RoomKey: key})
		}
	}
	sort.Slice(snap.Memberships, func(i, j int) bool {
		a, b := snap.Memberships[i], snap.Memberships[j]
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.RoomKey < b.RoomKey
	})

	return snap
}

// Load replaces the registry contents with snap. Rooms that break the
// registry invariants are dropped and reported in the returned error; the
// rest is still loaded.
func (r *Registry) Load(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reset()

	var rejected []string
	for i := range snap.Rooms {
		room := snap.Rooms[i].Clone()
		if err := r.loadRoomLocked(&room); err != nil {
			rejected = append(rejected, fmt.Sprintf("%s: %v", room.Key, err))
		}
	}

	for _, m := range snap.Memberships {
		room, ok := r.rooms[m.RoomKey]
		if !ok || r.isDefault(room) || room.Deleted {
			continue
		}
		r.addMemberLocked(m.Username, m.RoomKey)
	}

	if len(rejected) > 0 {
		return fmt.Errorf("rejected %d rooms: %v", len(rejected), rejected)
	}

	return nil
}

func (r *Registry) loadRoomLocked(room *types.Room) error {
	if room.Key == "" || room.Key == r.global.Key {
		return fmt.Errorf("invalid key")
	}
	if _, ok := r.rooms[room.Key]; ok {
		return fmt.Errorf("duplicate key")
	}
	if _, ok := types.ParseRoomType(string(room.Type)); !ok {
		return fmt.Errorf("invalid room type %q", room.Type)
	}
	for _, admin := range room.Admins {
		if !slices.Contains(room.Allowed, admin) {
			room.Allowed = append(room.Allowed, admin)
		}
	}

	if room.Type == types.RoomPrivate {
		if len(room.Admins) != 2 {
			return fmt.Errorf("private room with %d admins", len(room.Admins))
		}
		pk := newPairKey(room.Admins[0], room.Admins[1])
		if _, ok := r.pairs[pk]; ok {
			return fmt.Errorf("duplicate dialogue")
		}
		r.pairs[pk] = room.Key
	} else if !room.Deleted {
		if _, ok := r.byName[room.Name]; ok {
			return fmt.Errorf("duplicate name %q", room.Name)
		}
		r.byName[room.Name] = room.Key
	}

	r.rooms[room.Key] = room
	return nil
}
