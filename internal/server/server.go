// Package server runs the TCP line-protocol front end: it accepts
// connections, reads one request line at a time, and dispatches each to
// the protocol package.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cubedb/cubedb/internal/cube"
	"github.com/cubedb/cubedb/internal/metrics"
	"github.com/cubedb/cubedb/internal/protocol"
)

// maxLineBytes bounds a single request line; a longer line is treated as
// a protocol-level framing failure and closes the connection.
const maxLineBytes = 64 * 1024

// Server accepts TCP connections and dispatches each request line to the
// verb table built over store.
type Server struct {
	addr    string
	store   *cube.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	maxConns int

	mu           sync.RWMutex
	listener     net.Listener
	shutdown     bool
	shutdownChan chan struct{}
	stopOnce     sync.Once
	doneChan     chan struct{}
	readyChan    chan struct{}

	connSemaphore chan struct{}
	activeConns   int32
}

// New returns a server bound to addr (host:port) that dispatches against
// store. maxConns limits concurrently active connections; callers past
// the limit block in Accept until a slot frees up.
func New(addr string, store *cube.Store, log zerolog.Logger, m *metrics.Metrics, maxConns int) *Server {
	if maxConns <= 0 {
		maxConns = 100
	}
	return &Server{
		addr:          addr,
		store:         store,
		log:           log,
		metrics:       m,
		maxConns:      maxConns,
		shutdownChan:  make(chan struct{}),
		doneChan:      make(chan struct{}),
		readyChan:     make(chan struct{}),
		connSemaphore: make(chan struct{}, maxConns),
	}
}

// WaitReady returns a channel that closes once the listener is bound and
// accepting connections.
func (s *Server) WaitReady() <-chan struct{} {
	return s.readyChan
}

// Addr returns the listener's actual address. Only valid after WaitReady
// has closed.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// dumpHandler is set by the caller that owns the dump path; it is wired
// into the dispatcher's DUMP verb before Start begins accepting.
type dumpHandler = protocol.Handler

// Start listens on addr and serves connections until ctx is cancelled or
// Stop is called. It blocks until the server has shut down.
func (s *Server) Start(ctx context.Context, onDump dumpHandler) error {
	defer close(s.doneChan)

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	close(s.readyChan)

	var recorder protocol.ErrorRecorder
	if s.metrics != nil {
		recorder = s.metrics
	}
	disp := protocol.NewDispatcher(s.store, s.log, recorder)
	if onDump != nil {
		disp.SetDumpHandler(onDump)
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdownChan:
		}
	}()

	s.log.Info().Str("addr", lis.Addr().String()).Msg("listening")

	for {
		conn, err := lis.Accept()
		if err != nil {
			s.mu.RLock()
			stopping := s.shutdown
			s.mu.RUnlock()
			if stopping {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		select {
		case s.connSemaphore <- struct{}{}:
		case <-s.shutdownChan:
			conn.Close()
			return nil
		}

		atomic.AddInt32(&s.activeConns, 1)
		if s.metrics != nil {
			s.metrics.ConnectionsActive.Set(float64(atomic.LoadInt32(&s.activeConns)))
		}

		go func() {
			defer func() {
				<-s.connSemaphore
				n := atomic.AddInt32(&s.activeConns, -1)
				if s.metrics != nil {
					s.metrics.ConnectionsActive.Set(float64(n))
				}
			}()
			s.serveConn(conn, disp)
		}()
	}
}

// Stop closes the listener and every idle-waiting accept, causing Start
// to return. Start does not wait for connections already being served:
// they are not closed and keep running until their client disconnects
// or sends QUIT.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		lis := s.listener
		s.mu.Unlock()
		close(s.shutdownChan)
		if lis != nil {
			lis.Close()
		}
	})
	<-s.doneChan
	return nil
}

// ActiveConns returns the number of connections currently being served.
func (s *Server) ActiveConns() int32 {
	return atomic.LoadInt32(&s.activeConns)
}

func (s *Server) serveConn(conn net.Conn, disp *protocol.Dispatcher) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, maxLineBytes)
	writer := protocol.NewWriter(bufio.NewWriter(conn))

	for {
		line, err := readLine(reader)
		if err != nil {
			return
		}

		start := time.Now()
		derr := disp.Dispatch(line, writer)
		if ferr := writer.Flush(); ferr != nil {
			return
		}
		if s.metrics != nil {
			s.metrics.ObserveCommand(firstToken(line), time.Since(start))
		}
		if derr != nil {
			// errQuit is the only sentinel Dispatch can return alongside a
			// successfully written reply; any other non-nil error already
			// means the reply write itself failed.
			return
		}
	}
}

// readLine reads one newline-terminated request, stripping the
// terminator and a trailing \r for clients that send CRLF. A line
// exceeding maxLineBytes is a framing failure and closes the connection.
func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		buf = append(buf, b)
		if len(buf) > maxLineBytes {
			return "", fmt.Errorf("request line exceeds %d bytes", maxLineBytes)
		}
	}
	if len(buf) > 0 && buf[len(buf)-1] == '\r' {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}

func firstToken(line string) string {
	for i, b := range []byte(line) {
		if b == ' ' || b == '\t' {
			return line[:i]
		}
	}
	return line
}
