package types

import (
	"slices"
	"strings"
	"time"
)

// CommandPrefix starts every command token and may not start a username.
const CommandPrefix = "/"

// DefaultRoomName is the room every session is implicitly a member of.
const DefaultRoomName = "Global"

type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

type RoomType string

const (
	RoomOpen       RoomType = "/open"
	RoomRestricted RoomType = "/restricted"
	RoomPrivate    RoomType = "/private"
)

func ParseRoomType(s string) (RoomType, bool) {
	if !strings.HasPrefix(s, CommandPrefix) {
		s = CommandPrefix + s
	}

	switch rt := RoomType(s); rt {
	case RoomOpen, RoomRestricted, RoomPrivate:
		return rt, true
	}

	return "", false
}

type Room struct {
	Key     string   `json:"key"`
	Name    string   `json:"name"`
	Type    RoomType `json:"room_type"`
	Admins  []string `json:"admins"`
	Allowed []string `json:"allowed"`
	Deleted bool     `json:"deleted"`
}

// Clone returns a copy that shares no slices with r.
func (r Room) Clone() Room {
	r.Admins = slices.Clone(r.Admins)
	r.Allowed = slices.Clone(r.Allowed)
	return r
}

// Membership is one entry of the username to room key index.
type Membership struct {
	Username string
	RoomKey  string
}

type FileRecord struct {
	Key        string    `json:"key"`
	Filename   string    `json:"filename"`
	Path       string    `json:"-"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	Compressed bool      `json:"-"`
	Publisher  string    `json:"publisher"`
	CreatedAt  time.Time `json:"created_at"`
}

// NotificationRecord is the persisted form of one ledger entry.
type NotificationRecord struct {
	Partition    string
	PartitionKey string
	Seq          int
	Body         []byte
}
