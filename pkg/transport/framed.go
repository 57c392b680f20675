package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// MaxFrameBytes bounds a single frame's payload so a corrupt or hostile
// peer can't force an unbounded allocation from a forged length prefix.
const MaxFrameBytes = 16 << 20

// Framed wraps a net.Conn with a 4-byte big-endian length prefix around
// each payload, so arbitrary wire.ManagerToAgent/AgentToManager JSON
// blobs can be read and written as discrete frames over a byte stream.
type Framed struct {
	conn    net.Conn
	r       *bufio.Reader
	writeMu sync.Mutex
}

// NewFramed wraps conn for framed reads and writes.
func NewFramed(conn net.Conn) *Framed {
	return &Framed{conn: conn, r: bufio.NewReader(conn)}
}

// WriteFrame writes one length-prefixed frame. Safe for concurrent use
// alongside ReadFrame, and alongside other WriteFrame calls.
func (f *Framed) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return fmt.Errorf("transport: frame of %d bytes exceeds limit %d", len(payload), MaxFrameBytes)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := f.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := f.conn.Write(payload)
	return err
}

// ReadFrame reads the next length-prefixed frame. It is not safe to call
// concurrently with other ReadFrame calls on the same Framed.
func (f *Framed) ReadFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit %d", n, MaxFrameBytes)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the underlying connection.
func (f *Framed) Close() error { return f.conn.Close() }

// RemoteAddr reports the underlying connection's remote address.
func (f *Framed) RemoteAddr() net.Addr { return f.conn.RemoteAddr() }

// DialFramed dials network/addr (typically "tcp") and returns a Framed
// connection ready for reads and writes.
func DialFramed(network, addr string) (*Framed, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return NewFramed(conn), nil
}
