package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/files"
	"github.com/npezzotti/go-roomchat/internal/frame"
	"github.com/npezzotti/go-roomchat/internal/ledger"
	"github.com/npezzotti/go-roomchat/internal/rooms"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/npezzotti/go-roomchat/internal/users"
)

// Stores are the shared state the handlers operate on.
type Stores struct {
	Users  *users.Directory
	Rooms  *rooms.Registry
	Ledger *ledger.Ledger
	Files  *files.Registry
}

type Options struct {
	// Tokens issues resume tokens on login. Nil disables token login.
	Tokens        *auth.TokenIssuer
	UploadTimeout time.Duration
}

// rejectWriteTimeout bounds the farewell written to connections that
// arrive after shutdown.
const rejectWriteTimeout = time.Second

type stopReq struct {
	done chan struct{}
}

// ChatServer is the hub. Every request is handled on the goroutine running
// Run, which gives all store mutations a single global order.
type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	tokens         *auth.TokenIssuer
	uploadTimeout  time.Duration
	users          *users.Directory
	rooms          *rooms.Registry
	ledger         *ledger.Ledger
	files          *files.Registry
	handlers       map[types.Command]handlerFunc
	clients        map[*Client]struct{}
	userMap        map[string]map[*Client]struct{}
	clientsLock    sync.RWMutex
	registerChan   chan *Client
	deRegisterChan chan *Client
	requestChan    chan *Request
	stop           chan stopReq
	done           chan struct{}
	listenersLock  sync.Mutex
	listeners      map[net.Listener]struct{}
}

// NewChatServer builds a hub over stores. db may be nil, in which case
// LoadState and DumpState do nothing.
func NewChatServer(logger *log.Logger, stores Stores, db database.ChatRepository, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if stores.Users == nil || stores.Rooms == nil || stores.Ledger == nil || stores.Files == nil {
		return nil, fmt.Errorf("all stores are required")
	}

	for _, name := range stats.Metrics {
		su.RegisterMetric(name)
	}

	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		tokens:         opts.Tokens,
		uploadTimeout:  opts.UploadTimeout,
		users:          stores.Users,
		rooms:          stores.Rooms,
		ledger:         stores.Ledger,
		files:          stores.Files,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[string]map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		requestChan:    make(chan *Request, 256),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
		listeners:      make(map[net.Listener]struct{}),
	}
	cs.handlers = cs.handlerTable()

	return cs, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case c := <-cs.registerChan:
			cs.registerClient(c)
		case c := <-cs.deRegisterChan:
			cs.deregisterClient(c)
		case req := <-cs.requestChan:
			cs.dispatch(req)
		case req := <-cs.stop:
			cs.log.Println("shutting down chat server")
			cs.closeAllClients()
			close(req.done)
			return
		}
	}
}

// Serve accepts connections on l until l is closed.
func (cs *ChatServer) Serve(l net.Listener) error {
	cs.listenersLock.Lock()
	cs.listeners[l] = struct{}{}
	cs.listenersLock.Unlock()

	defer func() {
		cs.listenersLock.Lock()
		delete(cs.listeners, l)
		cs.listenersLock.Unlock()
	}()

	cs.log.Printf("chat server listening on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		cs.Accept(conn)
	}
}

// Accept starts a session on conn.
func (cs *ChatServer) Accept(conn net.Conn) {
	c := NewClient(frame.NewConn(conn), cs, cs.log)

	select {
	case cs.registerChan <- c:
	case <-cs.done:
		cs.reject(conn)
		return
	}

	go c.Write()
	go c.Read()
}

// reject tells a connection arriving after the hub stopped that nobody
// will serve it, then closes it.
func (cs *ChatServer) reject(conn net.Conn) {
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(rejectWriteTimeout))
	n := ledger.NewAction(types.CmdError, false, types.ReasonServerUnavailable, nil)
	if err := frame.NewConn(conn).SendJSON(n); err != nil && !errors.Is(err, frame.ErrConnectionClosed) {
		cs.log.Printf("reject %s: %v", conn.RemoteAddr(), err)
	}
}

func (cs *ChatServer) submit(req *Request) bool {
	select {
	case cs.requestChan <- req:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) registerClient(c *Client) {
	c.username = cs.users.AnonymousName()
	cs.addClient(c)
	cs.stats.Incr(stats.NumActiveSessions)
	cs.log.Printf("opening session %q from %s", c.username, c.conn.RemoteAddr())

	n := ledger.NewAction(types.CmdConnected, true, "", map[string]any{"name": c.username})
	if err := cs.ledger.Process(c, n); err != nil {
		cs.log.Printf("connected notification for %q: %v", c.username, err)
	}
}

func (cs *ChatServer) deregisterClient(c *Client) {
	if !cs.hasClient(c) {
		return
	}

	cs.log.Printf("closing session %q", c.username)
	cs.removeClient(c)
	if !c.authenticated {
		cs.users.ReleaseAnonymousName(c.username)
	}
	cs.stats.Decr(stats.NumActiveSessions)
	c.stopClient()
}

func (cs *ChatServer) closeAllClients() {
	for _, c := range cs.getClients() {
		c.Deliver(ledger.NewAction(types.CmdQuit, true, "", nil))
		c.queueClose()
		cs.removeClient(c)
		cs.stats.Decr(stats.NumActiveSessions)
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if cs.userMap[c.username] == nil {
		cs.userMap[c.username] = make(map[*Client]struct{})
	}
	cs.userMap[c.username][c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	delete(cs.clients, c)
	if sessions, ok := cs.userMap[c.username]; ok {
		delete(sessions, c)
		if len(sessions) == 0 {
			delete(cs.userMap, c.username)
		}
	}
}

// rename moves c to a new identity in the user index.
func (cs *ChatServer) rename(c *Client, username string, authenticated bool) {
	cs.removeClient(c)
	c.username = username
	c.authenticated = authenticated
	cs.addClient(c)
}

func (cs *ChatServer) hasClient(c *Client) bool {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	_, ok := cs.clients[c]
	return ok
}

func (cs *ChatServer) getClients() []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	return clients
}

func (cs *ChatServer) sessionsFor(username string) []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	sessions := make([]*Client, 0, len(cs.userMap[username]))
	for c := range cs.userMap[username] {
		sessions = append(sessions, c)
	}
	return sessions
}

// NumClients reports the number of open sessions.
func (cs *ChatServer) NumClients() int {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	return len(cs.clients)
}

// Shutdown stops accepting connections, sends /quit to every session and
// stops the hub.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.listenersLock.Lock()
	for l := range cs.listeners {
		l.Close()
	}
	cs.listenersLock.Unlock()

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
