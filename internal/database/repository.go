package database

import (
	"context"

	"github.com/npezzotti/go-roomchat/internal/types"
)

// ChatRepository persists snapshots of the in-memory stores. Every Save
// call replaces the whole table it covers in a single transaction.
type ChatRepository interface {
	Ping() error
	SaveUsers(ctx context.Context, users []types.User) error
	ListUsers(ctx context.Context) ([]types.User, error)
	SaveRooms(ctx context.Context, rooms []types.Room, memberships []types.Membership) error
	ListRooms(ctx context.Context) ([]types.Room, error)
	ListMemberships(ctx context.Context) ([]types.Membership, error)
	SaveNotifications(ctx context.Context, records []types.NotificationRecord) error
	ListNotifications(ctx context.Context) ([]types.NotificationRecord, error)
	SaveFiles(ctx context.Context, files []types.FileRecord) error
	ListFiles(ctx context.Context) ([]types.FileRecord, error)
	Close() error
}

var _ ChatRepository = (*DBConn)(nil)
