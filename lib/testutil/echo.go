package testutil

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/asyncpool/lib/transport"
)

// EchoServer is a TCP server on the loopback interface that writes back
// everything it reads. It lets transport tests dial a real socket.
type EchoServer struct {
	listener net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	closed   bool
	accepted int64

	wg sync.WaitGroup
}

// NewEchoServer starts an EchoServer on 127.0.0.1 with an ephemeral port.
func NewEchoServer() (*EchoServer, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &EchoServer{
		listener: l,
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listen address in host:port form.
func (s *EchoServer) Addr() string {
	return s.listener.Addr().String()
}

// Endpoint returns the listen address as a transport.Endpoint.
func (s *EchoServer) Endpoint() transport.Endpoint {
	addr := s.listener.Addr().(*net.TCPAddr)
	return transport.Endpoint{Host: addr.IP.String(), Port: addr.Port}
}

// Accepted returns the number of connections accepted so far.
func (s *EchoServer) Accepted() int {
	return int(atomic.LoadInt64(&s.accepted))
}

// Close stops the listener and closes every open connection.
func (s *EchoServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *EchoServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		atomic.AddInt64(&s.accepted, 1)

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *EchoServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	io.Copy(conn, conn)
}

// MustEndpoint parses addr and panics if it is not a valid endpoint.
func MustEndpoint(addr string) transport.Endpoint {
	ep, err := transport.ParseEndpoint(addr)
	if err != nil {
		panic(err)
	}
	return ep
}
