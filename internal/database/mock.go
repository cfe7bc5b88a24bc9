package database

import (
	"context"

	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) SaveUsers(ctx context.Context, users []types.User) error {
	args := m.Called(ctx, users)
	return args.Error(0)
}
func (m *MockChatRepository) ListUsers(ctx context.Context) ([]types.User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.User), args.Error(1)
}
func (m *MockChatRepository) SaveRooms(ctx context.Context, rooms []types.Room, memberships []types.Membership) error {
	args := m.Called(ctx, rooms, memberships)
	return args.Error(0)
}
func (m *MockChatRepository) ListRooms(ctx context.Context) ([]types.Room, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Room), args.Error(1)
}
func (m *MockChatRepository) ListMemberships(ctx context.Context) ([]types.Membership, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Membership), args.Error(1)
}
func (m *MockChatRepository) SaveNotifications(ctx context.Context, records []types.NotificationRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}
func (m *MockChatRepository) ListNotifications(ctx context.Context) ([]types.NotificationRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.NotificationRecord), args.Error(1)
}
func (m *MockChatRepository) SaveFiles(ctx context.Context, files []types.FileRecord) error {
	args := m.Called(ctx, files)
	return args.Error(0)
}
func (m *MockChatRepository) ListFiles(ctx context.Context) ([]types.FileRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.FileRecord), args.Error(1)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
