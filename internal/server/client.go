package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/npezzotti/go-roomchat/internal/frame"
	"github.com/npezzotti/go-roomchat/internal/ledger"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const sendBufferSize = 256

// Client is the server side of one connection. username and authenticated
// are only touched from the hub goroutine.
type Client struct {
	conn          *frame.Conn
	chatServer    *ChatServer
	log           *log.Logger
	username      string
	authenticated bool
	send          chan outbound
	stop          chan struct{}
	stopOnce      sync.Once
}

func NewClient(conn *frame.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan outbound, sendBufferSize),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	defer func() {
		c.conn.Close()
	}()

	for {
		select {
		case out := <-c.send:
			if out.close {
				return
			}

			if out.n != nil {
				if err := c.conn.SendJSON(out.n); err != nil {
					c.logWriteError(err)
					return
				}
			}

			if out.sendBlob {
				if err := c.conn.SendBytes(out.blob); err != nil {
					c.logWriteError(err)
					return
				}
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Client) logWriteError(err error) {
	if !errors.Is(err, frame.ErrConnectionClosed) {
		c.log.Printf("write to %s: %v", c.conn.RemoteAddr(), err)
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.chatServer.deregister(c)
	}()

	for {
		req, err := c.readRequest()
		if err != nil {
			if !errors.Is(err, frame.ErrConnectionClosed) {
				c.log.Printf("read from %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}

		if !c.chatServer.submit(req) {
			return
		}
	}
}

// readRequest decodes the next request. Payloads that are not a valid
// request become a request with an unknown command so the hub can answer
// with a bad request; framing errors end the session.
func (c *Client) readRequest() (*Request, error) {
	req := &Request{client: c}

	if err := c.conn.ReceiveJSON(req); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return &Request{client: c, cmd: types.CmdUnknown}, nil
		}
		return nil, err
	}

	cmd, ok := types.ParseCommand(req.Command)
	if !ok || !cmd.IsRequest() {
		req.cmd = types.CmdUnknown
		return req, nil
	}
	req.cmd = cmd

	if cmd == types.CmdPublishFile {
		data, err := c.conn.ReceiveBytes(c.chatServer.uploadTimeout)
		if err != nil {
			return nil, err
		}
		req.data = data
	}

	return req, nil
}

// Deliver queues a notification for this connection.
func (c *Client) Deliver(n *ledger.Notification) {
	c.queueMessage(outbound{n: n})
}

func (c *Client) deliverBlob(blob []byte) bool {
	return c.queueMessage(outbound{blob: blob, sendBlob: true})
}

func (c *Client) queueMessage(msg outbound) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send buffer full for %q, dropping message", c.username)
		return false
	}

	return true
}

// queueClose lets the write pump flush what is queued and then close the
// connection.
func (c *Client) queueClose() {
	if !c.queueMessage(outbound{close: true}) {
		c.stopClient()
	}
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
