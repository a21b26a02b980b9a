package core

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jabolina/must-go/types"
)

// TCPTransport implements Transport over plain sockets: one listening
// connection per child, one dial to the parent. Grounded on the
// teacher's (referenced, not retrieved) mcast.NewTCPTransport inferred
// from test/tcp_transport_test.go's LocalAddress()/maxPool/timeout
// constructor shape, generalized to a parent/children tree instead of a
// flat partition list.
type TCPTransport struct {
	log types.Logger

	listener net.Listener

	mutex    sync.Mutex
	children map[string]net.Conn
	parent   net.Conn
	parentAddr string

	producer chan Record

	ctx    context.Context
	cancel context.CancelFunc

	dialTimeout time.Duration
}

func NewTCPTransport(bindAddr, parentAddr string, dialTimeout time.Duration, log types.Logger) (*TCPTransport, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("core: listen %s: %w", bindAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &TCPTransport{
		log:         log,
		listener:    ln,
		children:    make(map[string]net.Conn),
		parentAddr:  parentAddr,
		producer:    make(chan Record, 256),
		ctx:         ctx,
		cancel:      cancel,
		dialTimeout: dialTimeout,
	}

	if parentAddr != "" {
		conn, err := net.DialTimeout("tcp", parentAddr, dialTimeout)
		if err != nil {
			ln.Close()
			cancel()
			return nil, fmt.Errorf("core: dial parent %s: %w", parentAddr, err)
		}
		t.parent = conn
		go t.readLoop(conn, parentAddr)
	}

	go t.acceptLoop()

	return t, nil
}

// LocalAddress returns the address this transport is bound to, used by
// children dialing in to discover it.
func (t *TCPTransport) LocalAddress() string {
	return t.listener.Addr().String()
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				t.log.Errorf("core: accept failed: %v", err)
				return
			}
		}
		addr := conn.RemoteAddr().String()
		t.mutex.Lock()
		t.children[addr] = conn
		t.mutex.Unlock()
		go t.readLoop(conn, addr)
	}
}

func (t *TCPTransport) readLoop(conn net.Conn, origin string) {
	reader := bufio.NewReader(conn)
	for {
		var length uint32
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			t.log.Warnf("core: connection to %s closed: %v", origin, err)
			return
		}
		buf := make([]byte, length)
		if _, err := readFull(reader, buf); err != nil {
			t.log.Warnf("core: short read from %s: %v", origin, err)
			return
		}
		var rec Record
		if err := json.Unmarshal(buf, &rec); err != nil {
			t.log.Errorf("core: malformed record from %s: %v", origin, err)
			continue
		}
		rec.Origin = origin

		timeout, cancel := context.WithTimeout(t.ctx, 250*time.Millisecond)
		select {
		case <-timeout.Done():
			t.log.Warnf("core: dropped record from %s, consumer too slow", origin)
		case t.producer <- rec:
		}
		cancel()
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeFramed(conn net.Conn, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("core: marshal record: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := conn.Write(length[:]); err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

func (t *TCPTransport) SendUp(rec Record) error {
	t.mutex.Lock()
	conn := t.parent
	t.mutex.Unlock()
	if conn == nil {
		return fmt.Errorf("core: no parent connection on %s", t.LocalAddress())
	}
	return writeFramed(conn, rec)
}

func (t *TCPTransport) SendDown(child string, rec Record) error {
	t.mutex.Lock()
	conn, ok := t.children[child]
	t.mutex.Unlock()
	if !ok {
		return fmt.Errorf("core: unknown child %s", child)
	}
	return writeFramed(conn, rec)
}

func (t *TCPTransport) BroadcastDown(rec Record) error {
	t.mutex.Lock()
	conns := make([]net.Conn, 0, len(t.children))
	for _, c := range t.children {
		conns = append(conns, c)
	}
	t.mutex.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := writeFramed(c, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *TCPTransport) Listen() <-chan Record {
	return t.producer
}

func (t *TCPTransport) Close() error {
	t.cancel()
	t.mutex.Lock()
	if t.parent != nil {
		t.parent.Close()
	}
	for _, c := range t.children {
		c.Close()
	}
	t.mutex.Unlock()
	return t.listener.Close()
}
