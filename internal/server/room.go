package server

import (
	"github.com/npezzotti/go-roomchat/internal/ledger"
	"github.com/npezzotti/go-roomchat/internal/types"
)

// broadcast delivers n to every session currently in room except skip.
func (cs *ChatServer) broadcast(room *types.Room, n *ledger.Notification, skip *Client) {
	for _, c := range cs.getClients() {
		if c == skip {
			continue
		}
		if cs.rooms.UserInRoom(c.username, room) {
			c.Deliver(n)
		}
	}
}

// deliverToUser delivers n to every session of username except skip.
func (cs *ChatServer) deliverToUser(username string, n *ledger.Notification, skip *Client) {
	for _, c := range cs.sessionsFor(username) {
		if c != skip {
			c.Deliver(n)
		}
	}
}
