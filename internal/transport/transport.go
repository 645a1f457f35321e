// Package transport is the hosted transport adapter (C8): it accepts
// stream connections, decodes each as a sequence of fixed 8-word syscall
// frames, and forwards them to a single channel the dispatcher owns the
// receiving end of. It holds no scheduling policy of its own.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xous-go/kernel/pkg/kernel"
	"github.com/xous-go/kernel/pkg/xous"
)

// frameWords is the number of little-endian machine words in every wire
// frame, request or response.
const frameWords = 8

// Event pairs a decoded syscall with the PID of the connection it arrived
// on.
type Event struct {
	PID  xous.PID
	Call xous.SysCall
}

// Adapter owns the listener, the live per-client connections, and the
// single channel every worker forwards decoded syscalls into.
type Adapter struct {
	log *logrus.Entry

	mu     sync.Mutex
	conns  map[xous.PID]net.Conn
	connWG sync.WaitGroup

	events chan Event
	quit   chan struct{}

	lock *flock.Flock
}

// New constructs an adapter. Call Listen to start accepting connections.
func New(log *logrus.Entry) *Adapter {
	return &Adapter{
		log:    log,
		conns:  make(map[xous.PID]net.Conn),
		events: make(chan Event, 64),
		quit:   make(chan struct{}),
	}
}

// Events returns the channel the dispatcher reads decoded syscalls from.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Listen binds addr, guarded by an OS-level lock file so only one hosted
// kernel instance can own the address at a time, and runs the accept loop
// until the adapter's Shutdown is called. One goroutine per connection is
// spawned to decode its frames and is tracked by a WaitGroup; the accept
// loop runs under an errgroup, and once Shutdown has been called its error
// (other than the listener being closed) is returned from Listen instead
// of being silently dropped.
func (a *Adapter) Listen(addr, lockDir string) error {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return fmt.Errorf("transport: create lock dir: %w", err)
	}
	a.lock = flock.New(filepath.Join(lockDir, "kernel.lock"))
	locked, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("transport: acquire lock file: %w", err)
	}
	if !locked {
		return fmt.Errorf("transport: another kernel instance already holds %s", a.lock.Path())
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = a.lock.Unlock()
		return fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	a.log.WithField("addr", addr).Info("hosted kernel listening")

	var g errgroup.Group
	g.Go(func() error { return a.acceptLoop(listener) })

	<-a.quit
	_ = listener.Close()
	a.mu.Lock()
	for _, c := range a.conns {
		_ = c.Close()
	}
	a.mu.Unlock()

	err = g.Wait()
	a.connWG.Wait()
	close(a.events)
	_ = a.lock.Unlock()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (a *Adapter) acceptLoop(listener net.Listener) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
			}
			if isTemporary(err) {
				d := bo.NextBackOff()
				a.log.WithError(err).WithField("retry_in", d).Warn("transient accept error")
				time.Sleep(d)
				continue
			}
			return err
		}
		bo.Reset()

		pid, perr := kernel.AllocateProcess(1)
		if perr != nil {
			a.log.WithError(perr).Error("no free process slot for new connection")
			_ = conn.Close()
			continue
		}
		a.log.WithFields(logrus.Fields{"pid": pid, "remote": conn.RemoteAddr()}).Info("client connected")

		a.mu.Lock()
		a.conns[pid] = conn
		a.mu.Unlock()

		a.connWG.Add(1)
		go a.handleConnection(conn, pid)
	}
}

func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	t, ok := err.(temporary)
	return ok && t.Temporary()
}

// handleConnection reads exactly one 64-byte frame at a time for the
// lifetime of the connection, forwarding each as a decoded Event. A read
// error of any kind — EOF, reset, decode failure in the word count itself
// — is treated identically: it synthesizes a TerminateProcess and the
// worker exits, matching the original's refusal to distinguish graceful
// from abrupt disconnects.
func (a *Adapter) handleConnection(conn net.Conn, pid xous.PID) {
	defer a.connWG.Done()
	var raw [frameWords * 8]byte
	for {
		if _, err := io.ReadFull(conn, raw[:]); err != nil {
			a.log.WithError(err).WithField("pid", pid).Info("client disconnected")
			a.terminate(pid)
			return
		}
		var words [frameWords]uint64
		for i := range words {
			words[i] = binary.LittleEndian.Uint64(raw[i*8 : i*8+8])
		}
		call := xous.FromArgs(words)
		a.log.WithFields(logrus.Fields{"pid": pid, "op": call.Op}).Trace("received syscall")
		a.events <- Event{PID: pid, Call: call}
	}
}

func (a *Adapter) terminate(pid xous.PID) {
	select {
	case a.events <- Event{PID: pid, Call: xous.SysCall{Op: xous.OpTerminateProcess}}:
	case <-a.quit:
	}
}

// Respond serializes result as an 8-word little-endian frame and writes it
// to pid's connection. A write failure terminates that connection's
// event loop the same way a read failure would.
func (a *Adapter) Respond(pid xous.PID, result xous.Result) error {
	a.mu.Lock()
	conn, ok := a.conns[pid]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no connection for pid %d", pid)
	}
	words := result.ToArgs()
	var raw [frameWords * 8]byte
	for i, w := range words {
		binary.LittleEndian.PutUint64(raw[i*8:i*8+8], w)
	}
	_, err := conn.Write(raw[:])
	return err
}

// Close drops pid's connection, used once its process has been
// terminated so no further frames are read from or written to it.
func (a *Adapter) Close(pid xous.PID) {
	a.mu.Lock()
	conn, ok := a.conns[pid]
	delete(a.conns, pid)
	a.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Shutdown stops the accept loop and closes every live connection.
func (a *Adapter) Shutdown() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
}
