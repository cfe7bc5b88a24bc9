package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	insertUserQuery = "INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)"
	listUsersQuery  = "SELECT username, password_hash, created_at FROM users ORDER BY username"

	insertRoomQuery = "INSERT INTO rooms (room_key, name, room_type, admins, allowed, deleted) " +
		"VALUES (?, ?, ?, ?, ?, ?)"
	listRoomsQuery = "SELECT room_key, name, room_type, admins, allowed, deleted FROM rooms ORDER BY room_key"

	insertMembershipQuery = "INSERT INTO memberships (username, room_key) VALUES (?, ?)"
	listMembershipsQuery  = "SELECT username, room_key FROM memberships ORDER BY username, room_key"

	insertNotificationQuery = "INSERT INTO notifications (part, part_key, seq, body) VALUES (?, ?, ?, ?)"
	listNotificationsQuery  = "SELECT part, part_key, seq, body FROM notifications ORDER BY part, part_key, seq"

	insertFileQuery = "INSERT INTO files (file_key, filename, path, size, digest, compressed, publisher, created_at) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	listFilesQuery = "SELECT file_key, filename, path, size, digest, compressed, publisher, created_at " +
		"FROM files ORDER BY file_key"
)

// withTx runs fn inside a transaction that is rolled back when fn fails.
func (db *DBConn) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// replaceRows empties table and inserts n rows built by args.
func (db *DBConn) replaceRows(ctx context.Context, tx *sql.Tx, table, insert string, n int, args func(i int) ([]any, error)) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}

	if n == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, db.rebind(insert))
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", table, err)
	}
	defer stmt.Close()

	for i := range n {
		values, err := args(i)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}

	return nil
}

func (db *DBConn) SaveUsers(ctx context.Context, users []types.User) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return db.replaceRows(ctx, tx, "users", insertUserQuery, len(users), func(i int) ([]any, error) {
			u := users[i]
			return []any{u.Username, u.PasswordHash, toMillis(u.CreatedAt)}, nil
		})
	})
}

func (db *DBConn) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := db.conn.QueryContext(ctx, listUsersQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var (
			u       types.User
			created int64
		)
		if err := rows.Scan(&u.Username, &u.PasswordHash, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = fromMillis(created)
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *DBConn) SaveRooms(ctx context.Context, rooms []types.Room, memberships []types.Membership) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		err := db.replaceRows(ctx, tx, "rooms", insertRoomQuery, len(rooms), func(i int) ([]any, error) {
			row, err := newRoomRow(rooms[i])
			if err != nil {
				return nil, fmt.Errorf("encode room %q: %w", rooms[i].Key, err)
			}
			return []any{row.Key, row.Name, row.Type, row.Admins, row.Allowed, row.Deleted}, nil
		})
		if err != nil {
			return err
		}

		return db.replaceRows(ctx, tx, "memberships", insertMembershipQuery, len(memberships), func(i int) ([]any, error) {
			return []any{memberships[i].Username, memberships[i].RoomKey}, nil
		})
	})
}

func (db *DBConn) ListRooms(ctx context.Context) ([]types.Room, error) {
	rows, err := db.conn.QueryContext(ctx, listRoomsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []types.Room
	for rows.Next() {
		var row roomRow
		if err := rows.Scan(&row.Key, &row.Name, &row.Type, &row.Admins, &row.Allowed, &row.Deleted); err != nil {
			return nil, err
		}

		room, err := row.room()
		if err != nil {
			return nil, fmt.Errorf("decode room %q: %w", row.Key, err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *DBConn) ListMemberships(ctx context.Context) ([]types.Membership, error) {
	rows, err := db.conn.QueryContext(ctx, listMembershipsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []types.Membership
	for rows.Next() {
		var m types.Membership
		if err := rows.Scan(&m.Username, &m.RoomKey); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

func (db *DBConn) SaveNotifications(ctx context.Context, records []types.NotificationRecord) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return db.replaceRows(ctx, tx, "notifications", insertNotificationQuery, len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{r.Partition, r.PartitionKey, r.Seq, r.Body}, nil
		})
	})
}

func (db *DBConn) ListNotifications(ctx context.Context) ([]types.NotificationRecord, error) {
	rows, err := db.conn.QueryContext(ctx, listNotificationsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.NotificationRecord
	for rows.Next() {
		var r types.NotificationRecord
		if err := rows.Scan(&r.Partition, &r.PartitionKey, &r.Seq, &r.Body); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (db *DBConn) SaveFiles(ctx context.Context, files []types.FileRecord) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return db.replaceRows(ctx, tx, "files", insertFileQuery, len(files), func(i int) ([]any, error) {
			f := files[i]
			return []any{f.Key, f.Filename, f.Path, f.Size, f.Digest, f.Compressed, f.Publisher, toMillis(f.CreatedAt)}, nil
		})
	})
}

func (db *DBConn) ListFiles(ctx context.Context) ([]types.FileRecord, error) {
	rows, err := db.conn.QueryContext(ctx, listFilesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []types.FileRecord
	for rows.Next() {
		var (
			f       types.FileRecord
			created int64
		)
		if err := rows.Scan(&f.Key, &f.Filename, &f.Path, &f.Size, &f.Digest, &f.Compressed, &f.Publisher, &created); err != nil {
			return nil, err
		}
		f.CreatedAt = fromMillis(created)
		files = append(files, f)
	}

	return files, rows.Err()
}
