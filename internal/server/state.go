package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-roomchat/internal/rooms"
)

// LoadState restores the stores from the repository. A store whose data
// cannot be read or restored starts empty; every failure is logged and
// returned joined, but never stops the others from loading.
func (cs *ChatServer) LoadState(ctx context.Context) error {
	if cs.db == nil {
		return nil
	}

	var errs []error
	fail := func(store string, err error) {
		err = fmt.Errorf("load %s: %w", store, err)
		cs.log.Printf("ERROR: %v", err)
		errs = append(errs, err)
	}

	if users, err := cs.db.ListUsers(ctx); err != nil {
		fail("users", err)
	} else if skipped := cs.users.Load(users); len(skipped) > 0 {
		cs.log.Printf("skipped %d invalid users: %v", len(skipped), skipped)
	}

	if err := cs.loadRooms(ctx); err != nil {
		fail("rooms", err)
	}

	if records, err := cs.db.ListNotifications(ctx); err != nil {
		fail("notifications", err)
	} else if err := cs.ledger.Load(records); err != nil {
		fail("notifications", err)
	}

	if records, err := cs.db.ListFiles(ctx); err != nil {
		fail("files", err)
	} else if skipped := cs.files.Restore(records); len(skipped) > 0 {
		cs.log.Printf("skipped %d missing files: %v", len(skipped), skipped)
	}

	return errors.Join(errs...)
}

func (cs *ChatServer) loadRooms(ctx context.Context) error {
	list, err := cs.db.ListRooms(ctx)
	if err != nil {
		return err
	}

	memberships, err := cs.db.ListMemberships(ctx)
	if err != nil {
		return err
	}

	return cs.rooms.Load(rooms.Snapshot{Rooms: list, Memberships: memberships})
}

// DumpState writes every store to the repository.
func (cs *ChatServer) DumpState(ctx context.Context) error {
	if cs.db == nil {
		return nil
	}

	var errs []error
	if err := cs.db.SaveUsers(ctx, cs.users.Dump()); err != nil {
		errs = append(errs, fmt.Errorf("save users: %w", err))
	}

	snap := cs.rooms.Dump()
	if err := cs.db.SaveRooms(ctx, snap.Rooms, snap.Memberships); err != nil {
		errs = append(errs, fmt.Errorf("save rooms: %w", err))
	}

	if records, err := cs.ledger.Dump(); err != nil {
		errs = append(errs, fmt.Errorf("encode notifications: %w", err))
	} else if err := cs.db.SaveNotifications(ctx, records); err != nil {
		errs = append(errs, fmt.Errorf("save notifications: %w", err))
	}

	if err := cs.db.SaveFiles(ctx, cs.files.Records()); err != nil {
		errs = append(errs, fmt.Errorf("save files: %w", err))
	}

	return errors.Join(errs...)
}
