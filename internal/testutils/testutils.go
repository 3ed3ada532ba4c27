package testutils

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// MockSpotLine creates a spot announcement line without a time token
func MockSpotLine(spotter string, freqKHz float64, dxCall, comment string) string {
	return fmt.Sprintf("DX de %s:%10.1f  %-12s %s", spotter, freqKHz, dxCall, comment)
}

// MockTimedSpotLine creates a spot announcement line ending in an HHMMZ token
func MockTimedSpotLine(spotter string, freqKHz float64, dxCall, comment, hhmm string) string {
	return fmt.Sprintf("%s  %sZ", MockSpotLine(spotter, freqKHz, dxCall, comment), hhmm)
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
		}
	}
}

// FakeCluster is a line-oriented TCP server standing in for a DX cluster node.
// It records every line clients send and lets tests push lines to them.
type FakeCluster struct {
	listener net.Listener

	mu       sync.Mutex
	conns    []net.Conn
	received []string
	accepted int
	wg       sync.WaitGroup
}

// NewFakeCluster starts a fake cluster node on a random local port
func NewFakeCluster() (*FakeCluster, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	f := &FakeCluster{listener: listener}
	f.wg.Add(1)
	go f.acceptLoop()
	return f, nil
}

// Addr returns the listening host:port
func (f *FakeCluster) Addr() string {
	return f.listener.Addr().String()
}

// Host returns the listening host
func (f *FakeCluster) Host() string {
	return f.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port
func (f *FakeCluster) Port() int {
	return f.listener.Addr().(*net.TCPAddr).Port
}

func (f *FakeCluster) acceptLoop() {
	defer f.wg.Done()
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}

		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.accepted++
		f.mu.Unlock()

		f.wg.Add(1)
		go f.readLoop(conn)
	}
}

func (f *FakeCluster) readLoop(conn net.Conn) {
	defer f.wg.Done()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		f.mu.Lock()
		f.received = append(f.received, strings.TrimRight(scanner.Text(), "\r"))
		f.mu.Unlock()
	}
}

// Send writes a line to every connected client
func (f *FakeCluster) Send(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
			return err
		}
	}
	return nil
}

// DropClients closes every client connection while keeping the listener open
func (f *FakeCluster) DropClients() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		conn.Close()
	}
	f.conns = nil
}

// Received returns a copy of the lines sent by clients
func (f *FakeCluster) Received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	copy(out, f.received)
	return out
}

// Accepted returns how many client connections were accepted
func (f *FakeCluster) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

// Close stops the listener and drops every client
func (f *FakeCluster) Close() {
	f.listener.Close()
	f.DropClients()
	f.wg.Wait()
}
