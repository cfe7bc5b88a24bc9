package ledger

import (
	"fmt"
	"log"
	"slices"
	"sort"
	"sync"

	"github.com/npezzotti/go-roomchat/internal/codec"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	DefaultHistorySize = 20

	PartitionUsers = "users"
	PartitionRooms = "rooms"
	PartitionOther = "other"
)

// Deliverer pushes a notification to a connection.
type Deliverer interface {
	Deliver(n *Notification)
}

// RoomLookup is the part of the room registry the ledger consults to
// authorize room notifications.
type RoomLookup interface {
	RoomByName(name string) *types.Room
	FindPrivateRoom(user1, user2 string) *types.Room
	UserInRoom(username string, room *types.Room) bool
}

type entry struct {
	n       *Notification
	roomKey string
}

// Ledger is the append-only notification store. Entries are partitioned
// by acting user, by room key, or filed under "other".
type Ledger struct {
	mu    sync.RWMutex
	log   *log.Logger
	rooms RoomLookup
	users map[string][]*Notification
	byKey map[string][]*Notification
	other []*Notification
}

func NewLedger(logger *log.Logger, rooms RoomLookup) *Ledger {
	return &Ledger{
		log:   logger,
		rooms: rooms,
		users: make(map[string][]*Notification),
		byKey: make(map[string][]*Notification),
	}
}

func (l *Ledger) resolveRoom(n *Notification) (*types.Room, error) {
	var room *types.Room
	if n.Private {
		room = l.rooms.FindPrivateRoom(n.User, n.Peer)
	} else {
		room = l.rooms.RoomByName(n.RoomName)
	}

	if room == nil {
		return nil, types.ErrNoRoomFound
	}

	if !l.rooms.UserInRoom(n.User, room) {
		return nil, fmt.Errorf("%s not in room %q: %w", n.User, room.Key, types.ErrNoRoomAccess)
	}

	return room, nil
}

// Process authorizes n, appends it to its partition and delivers it to d.
// Room notifications require the actor to be in the room; on failure
// nothing is appended or delivered. History notifications are delivered
// without being appended.
func (l *Ledger) Process(d Deliverer, n *Notification) error {
	var roomKey string
	if n.Shape == ShapeRoom {
		room, err := l.resolveRoom(n)
		if err != nil {
			l.log.Printf("rejected %s from %q: %v", n.Action, n.User, err)
			return err
		}
		roomKey = room.Key
	}

	if n.Action != types.CmdHistory {
		l.add(entry{n: n, roomKey: roomKey})
	}

	d.Deliver(n)
	return nil
}

func (l *Ledger) add(e entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch e.n.Shape {
	case ShapeUser:
		l.users[e.n.User] = append(l.users[e.n.User], e.n)
	case ShapeRoom:
		l.byKey[e.roomKey] = append(l.byKey[e.roomKey], e.n)
	default:
		l.other = append(l.other, e.n)
	}
}

func firstN(entries []*Notification, n int) []*Notification {
	if n < 1 {
		n = DefaultHistorySize
	}
	if n > len(entries) {
		n = len(entries)
	}
	return slices.Clone(entries[:n])
}

// GetNMessages returns up to n notifications of room in insertion order,
// oldest first. Rooms that never had a notification yield ErrNoRoomFound.
func (l *Ledger) GetNMessages(room *types.Room, n int) ([]*Notification, error) {
	if room == nil {
		return nil, types.ErrNoRoomFound
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, ok := l.byKey[room.Key]
	if !ok {
		return nil, types.ErrNoRoomFound
	}

	return firstN(entries, n), nil
}

// GetNNotificationsForUser returns up to n notifications acted by username
// in insertion order, oldest first.
func (l *Ledger) GetNNotificationsForUser(username string, n int) ([]*Notification, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, ok := l.users[username]
	if !ok {
		return nil, types.ErrNoRegisteredUserFound
	}

	return firstN(entries, n), nil
}

// Other returns the notifications filed under "other".
func (l *Ledger) Other() []*Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.other)
}

func historyNotification(user, roomName string, history []*Notification) *Notification {
	n := NewAction(types.CmdHistory, true, "", map[string]any{"history": history})
	n.User = user
	n.RoomName = roomName
	return n
}

// HistoryRoom delivers the first n notifications of room to d. The caller
// is responsible for checking that the requester may read the room.
func (l *Ledger) HistoryRoom(d Deliverer, user string, room *types.Room, n int) error {
	history, err := l.GetNMessages(room, n)
	if err != nil {
		return err
	}

	return l.Process(d, historyNotification(user, room.Name, history))
}

// HistoryUser delivers the first n notifications acted by username to d.
func (l *Ledger) HistoryUser(d Deliverer, username string, n int) error {
	history, err := l.GetNNotificationsForUser(username, n)
	if err != nil {
		return err
	}

	return l.Process(d, historyNotification(username, "", history))
}

// Dump encodes every partition into records ordered by partition, key and
// sequence.
func (l *Ledger) Dump() ([]types.NotificationRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var records []types.NotificationRecord
	appendPartition := func(partition, key string, entries []*Notification) error {
		for seq, n := range entries {
			body, err := codec.Marshal(n)
			if err != nil {
				return fmt.Errorf("encode %s/%s#%d: %w", partition, key, seq, err)
			}
			records = append(records, types.NotificationRecord{
				Partition:    partition,
				PartitionKey: key,
				Seq:          seq,
				Body:         body,
			})
		}
		return nil
	}

	for _, key := range sortedKeys(l.users) {
		if err := appendPartition(PartitionUsers, key, l.users[key]); err != nil {
			return nil, err
		}
	}
	for _, key := range sortedKeys(l.byKey) {
		if err := appendPartition(PartitionRooms, key, l.byKey[key]); err != nil {
			return nil, err
		}
	}
	if err := appendPartition(PartitionOther, "", l.other); err != nil {
		return nil, err
	}

	return records, nil
}

// Load replaces the ledger contents with records. If any record cannot be
// decoded the ledger is left empty and the error is returned.
func (l *Ledger) Load(records []types.NotificationRecord) error {
	sorted := slices.Clone(records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Partition != b.Partition {
			return a.Partition < b.Partition
		}
		if a.PartitionKey != b.PartitionKey {
			return a.PartitionKey < b.PartitionKey
		}
		return a.Seq < b.Seq
	})

	users := make(map[string][]*Notification)
	byKey := make(map[string][]*Notification)
	var other []*Notification

	for _, rec := range sorted {
		var n Notification
		if err := codec.Unmarshal(rec.Body, &n); err != nil {
			l.reset()
			return fmt.Errorf("decode %s/%s#%d: %w", rec.Partition, rec.PartitionKey, rec.Seq, err)
		}
		if n.Payload == nil {
			n.Payload = map[string]any{}
		}

		switch rec.Partition {
		case PartitionUsers:
			users[rec.PartitionKey] = append(users[rec.PartitionKey], &n)
		case PartitionRooms:
			byKey[rec.PartitionKey] = append(byKey[rec.PartitionKey], &n)
		case PartitionOther:
			other = append(other, &n)
		default:
			l.reset()
			return fmt.Errorf("unknown partition %q", rec.Partition)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.users, l.byKey, l.other = users, byKey, other

	return nil
}

func (l *Ledger) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.users = make(map[string][]*Notification)
	l.byKey = make(map[string][]*Notification)
	l.other = nil
}

func sortedKeys(m map[string][]*Notification) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
