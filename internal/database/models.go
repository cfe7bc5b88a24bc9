package database

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-roomchat/internal/types"
)

// roomRow is the stored form of a room. Admin and allow lists are kept as
// JSON arrays so both dialects share one schema.
type roomRow struct {
	Key     string
	Name    string
	Type    string
	Admins  string
	Allowed string
	Deleted bool
}

func newRoomRow(room types.Room) (roomRow, error) {
	admins, err := json.Marshal(nonNil(room.Admins))
	if err != nil {
		return roomRow{}, err
	}
	allowed, err := json.Marshal(nonNil(room.Allowed))
	if err != nil {
		return roomRow{}, err
	}

	return roomRow{
		Key:     room.Key,
		Name:    room.Name,
		Type:    string(room.Type),
		Admins:  string(admins),
		Allowed: string(allowed),
		Deleted: room.Deleted,
	}, nil
}

func (r roomRow) room() (types.Room, error) {
	room := types.Room{
		Key:     r.Key,
		Name:    r.Name,
		Type:    types.RoomType(r.Type),
		Deleted: r.Deleted,
	}
	if err := json.Unmarshal([]byte(r.Admins), &room.Admins); err != nil {
		return types.Room{}, err
	}
	if err := json.Unmarshal([]byte(r.Allowed), &room.Allowed); err != nil {
		return types.Room{}, err
	}
	return room, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
