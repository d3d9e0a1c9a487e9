package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cubedb/cubedb/internal/cube"
)

func startTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	store := cube.New()
	s := New("127.0.0.1:0", store, zerolog.New(io.Discard), nil, 10)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx, nil) }()

	select {
	case <-s.WaitReady():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not become ready in time")
	}

	return s, func() {
		cancel()
		s.Stop()
	}
}

func TestServerRoundTripsOneCommand(t *testing.T) {
	s, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("PING\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if reply != "PONG\n" {
		t.Fatalf("expected PONG, got %q", reply)
	}
}

// TestServerConnectionsAreIsolated checks that each of two open
// connections gets the reply to its own request: A's ADDCUBE reply on A,
// and B's CUBES reply (which sees A's cube) on B.
func TestServerConnectionsAreIsolated(t *testing.T) {
	s, stop := startTestServer(t)
	defer stop()

	connA, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial A failed: %v", err)
	}
	defer connA.Close()
	connB, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial B failed: %v", err)
	}
	defer connB.Close()

	if _, err := connA.Write([]byte("ADDCUBE onlyA\n")); err != nil {
		t.Fatalf("write A failed: %v", err)
	}
	readerA := bufio.NewReader(connA)
	if reply, _ := readerA.ReadString('\n'); reply != "0\n" {
		t.Fatalf("expected OK on connection A, got %q", reply)
	}

	if _, err := connB.Write([]byte("CUBES\n")); err != nil {
		t.Fatalf("write B failed: %v", err)
	}
	readerB := bufio.NewReader(connB)
	reply, _ := readerB.ReadString('\n')
	if reply != "1\n" {
		t.Fatalf("expected line-list count 1 (onlyA, visible from B) from connection B, got %q", reply)
	}
}

// TestServerClosesConnectionOnOversizeLine checks that a request line
// past maxLineBytes without a newline is treated as a framing failure
// and closes the connection, rather than being buffered without bound.
func TestServerClosesConnectionOnOversizeLine(t *testing.T) {
	s, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	oversize := append(bytes.Repeat([]byte("a"), maxLineBytes+100), '\n')
	if _, err := conn.Write(oversize); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reader := bufio.NewReader(conn)
	if _, err := reader.ReadByte(); err != io.EOF {
		t.Fatalf("expected EOF after an oversize line, got %v", err)
	}
}

func TestServerQuitClosesConnection(t *testing.T) {
	s, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("QUIT\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	reader := bufio.NewReader(conn)
	if reply, _ := reader.ReadString('\n'); reply != "0\n" {
		t.Fatalf("expected OK before close, got %q", reply)
	}
	if _, err := reader.ReadByte(); err != io.EOF {
		t.Fatalf("expected EOF after QUIT, got %v", err)
	}
}
