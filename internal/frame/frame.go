package frame

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

const (
	headerSize = 4
	// ChunkSize is the largest payload SendBytes puts in a single frame.
	ChunkSize = 64 * 1024
	// MaxPayload bounds a single frame in both directions.
	MaxPayload = 16 * 1024 * 1024
	// MaxBlobSize bounds a reassembled byte transfer.
	MaxBlobSize = 256 * 1024 * 1024
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum payload")
	ErrIncompleteFrame  = errors.New("incomplete frame")
)

// WriteFrame writes payload prefixed with its 4-byte big-endian length.
// Header and payload go out in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("write frame of %d bytes: %w", len(payload), ErrFrameTooLarge)
	}

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. headerRead reports how many header bytes were
// consumed, which lets callers tell a stall at a frame boundary apart from
// a stall inside a frame.
func ReadFrame(r io.Reader) (payload []byte, headerRead int, err error) {
	var header [headerSize]byte
	headerRead, err = io.ReadFull(r, header[:])
	if err != nil {
		if headerRead > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, headerRead, fmt.Errorf("read frame header: %w", ErrIncompleteFrame)
		}
		return nil, headerRead, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxPayload {
		return nil, headerRead, fmt.Errorf("read frame of %d bytes: %w", length, ErrFrameTooLarge)
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrIncompleteFrame
		}
		return nil, headerRead, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, headerRead, nil
}

// Conn carries discrete messages over a byte stream. It supports exactly
// one concurrent reader; writes are serialized internally.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
	wmu  sync.Mutex
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, ChunkSize),
	}
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	return wrapCloseError(WriteFrame(c.conn, data))
}

// ReceiveJSON blocks until a full frame arrives and decodes it into v.
// A frame that is not valid JSON is reported as a *json.SyntaxError or
// *json.UnmarshalTypeError, and the connection stays usable.
func (c *Conn) ReceiveJSON(v any) error {
	payload, _, err := ReadFrame(c.r)
	if err != nil {
		return wrapCloseError(err)
	}

	return json.Unmarshal(payload, v)
}

// SendBytes writes data as consecutive chunk frames followed by an empty
// terminator frame.
func (c *Conn) SendBytes(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	for len(data) > 0 {
		n := min(len(data), ChunkSize)
		if err := WriteFrame(c.conn, data[:n]); err != nil {
			return wrapCloseError(err)
		}
		data = data[n:]
	}

	return wrapCloseError(WriteFrame(c.conn, nil))
}

// ReceiveBytes reassembles chunk frames until the terminator frame. With a
// positive timeout every frame must start arriving within it; if the
// deadline passes before any byte of the next frame arrives the transfer
// is treated as complete.
func (c *Conn) ReceiveBytes(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		defer c.conn.SetReadDeadline(time.Time{})
	}

	var buf bytes.Buffer
	for {
		if timeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return nil, wrapCloseError(err)
			}
		}

		payload, headerRead, err := ReadFrame(c.r)
		if err != nil {
			if headerRead == 0 && errors.Is(err, os.ErrDeadlineExceeded) {
				return buf.Bytes(), nil
			}
			return nil, wrapCloseError(err)
		}

		if len(payload) == 0 {
			return buf.Bytes(), nil
		}

		if buf.Len()+len(payload) > MaxBlobSize {
			return nil, fmt.Errorf("receive bytes: %w", ErrFrameTooLarge)
		}
		buf.Write(payload)
	}
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection reset.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

func wrapCloseError(err error) error {
	if IsExpectedCloseError(err) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return err
}
