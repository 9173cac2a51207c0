// Package relay implements the multiplexed TCP chat relay: a single event loop
// polls the listening socket, the operator control channel and every admitted
// client, admits new peers after a name handshake, and fans messages out to
// everyone else.
package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/matst80/chatrelay/internal/obs"
	"github.com/matst80/chatrelay/internal/presence"
	"github.com/matst80/chatrelay/internal/proto"
	"github.com/matst80/chatrelay/internal/ratelimit"
)

// Watch-set layout; client i is polled at clientBase+i.
const (
	controlIndex = iota
	listenerIndex
	clientBase
)

const presenceTimeout = 2 * time.Second

// ControlChannel is the operator input. It must expose its descriptor so it
// can join the watch-set; *os.File qualifies.
type ControlChannel interface {
	io.Reader
	syscall.Conn
}

// Options configures a Relay. Zero values fall back to defaults.
type Options struct {
	Capacity         int
	BufferSize       int
	PollTimeout      time.Duration
	HandshakeTimeout time.Duration
	AcceptWait       time.Duration

	Control  ControlChannel
	Output   io.Writer
	Presence presence.Store
	Limiter  *ratelimit.RateLimiter
}

func sanitizeOptions(o Options) Options {
	if o.Capacity <= 0 {
		o.Capacity = 50
	}
	if o.BufferSize <= 0 {
		o.BufferSize = proto.MaxMessageSize
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = o.PollTimeout
	}
	if o.AcceptWait <= 0 {
		o.AcceptWait = 10 * time.Millisecond
	}
	if o.Output == nil {
		o.Output = io.Discard
	}
	if o.Presence == nil {
		o.Presence = presence.NewMemory()
	}
	return o
}

// Relay is the process-wide relay state plus the components driven by Run.
type Relay struct {
	opts Options

	ln    *net.TCPListener
	lnFD  int
	addr  net.Addr
	table *Table

	poller    Poller
	controlFD int
	readBuf   []byte
	ctrlBuf   []byte
	watchFDs  []int
	watchIDs  []string

	running     atomic.Bool
	shutdown    atomic.Bool
	handshaking atomic.Pointer[net.TCPConn]
}

// New wraps an already listening socket. Ownership of ln passes to the Relay.
func New(ln *net.TCPListener, opts Options) (*Relay, error) {
	opts = sanitizeOptions(opts)
	_, lnFD, err := fdOf(ln)
	if err != nil {
		return nil, fmt.Errorf("listener descriptor: %w", err)
	}
	controlFD := -1
	if opts.Control != nil {
		if _, controlFD, err = fdOf(opts.Control); err != nil {
			return nil, fmt.Errorf("control descriptor: %w", err)
		}
	}
	return &Relay{
		opts:      opts,
		ln:        ln,
		lnFD:      lnFD,
		addr:      ln.Addr(),
		table:     NewTable(opts.Capacity),
		controlFD: controlFD,
		readBuf:   make([]byte, opts.BufferSize),
		ctrlBuf:   make([]byte, opts.BufferSize),
	}, nil
}

// Addr is the bound listen address.
func (r *Relay) Addr() net.Addr { return r.addr }

// Shutdown sets the shutdown flag and aborts a pending name handshake; Run
// exits within one poll interval. Safe to call from any goroutine, any number
// of times.
func (r *Relay) Shutdown() {
	if r.shutdown.CompareAndSwap(false, true) {
		obs.Info("relay.shutdown.requested", obs.Fields{})
	}
	if c := r.handshaking.Load(); c != nil {
		_ = c.SetReadDeadline(time.Now())
	}
}

// Closing reports whether shutdown has been requested.
func (r *Relay) Closing() bool { return r.shutdown.Load() }

// Ready reports whether the event loop is running and not shutting down.
func (r *Relay) Ready() bool { return r.running.Load() && !r.shutdown.Load() }

// Capacity is the connection table's fixed size.
func (r *Relay) Capacity() int { return r.table.Capacity() }

// Connections returns a snapshot of admitted connections in slot order.
func (r *Relay) Connections() []Connection { return r.table.Snapshot() }

// Presence is the roster store the relay reports admissions to.
func (r *Relay) Presence() presence.Store { return r.opts.Presence }

// Run drives the event loop until shutdown is requested, ctx is cancelled or
// the readiness wait fails. Every connection and the listener are closed
// before it returns.
func (r *Relay) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, r.Shutdown)
	defer stop()
	defer r.closeAll()

	r.running.Store(true)
	obs.Info("relay.run", obs.Fields{"addr": r.addr.String(), "capacity": r.table.Capacity()})

	for !r.shutdown.Load() {
		r.buildWatchSet()
		ready, err := r.poller.Wait(r.watchFDs, r.opts.PollTimeout)
		if err != nil {
			obs.Error("relay.poll", obs.Fields{"err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("poll").Inc()
			return err
		}
		if len(ready) == 0 {
			continue
		}
		r.dispatch(ready)
	}
	return nil
}

// buildWatchSet rebuilds the descriptor list from the table; slots are
// reused after compaction so it cannot be cached across iterations.
func (r *Relay) buildWatchSet() {
	r.watchFDs = append(r.watchFDs[:0], r.controlFD, r.lnFD)
	r.watchIDs = r.watchIDs[:0]
	r.table.ForEachExcept(NoSlot, func(c *Connection) {
		r.watchFDs = append(r.watchFDs, c.fd)
		r.watchIDs = append(r.watchIDs, c.ID)
	})
}

// dispatch handles one poll result. Clients are serviced from the highest
// slot down: compaction only moves the last record into a vacated slot, so
// lower, not yet serviced slots keep their positions.
func (r *Relay) dispatch(ready []int) {
	control, listener := false, false
	for i := len(ready) - 1; i >= 0; i-- {
		switch idx := ready[i]; {
		case idx == controlIndex:
			control = true
		case idx == listenerIndex:
			listener = true
		default:
			slot := idx - clientBase
			r.serviceClient(slot, r.watchIDs[slot])
		}
	}
	if control {
		r.handleControl()
	}
	if listener && !r.shutdown.Load() {
		r.admit()
	}
}

// serviceClient reads once from the connection polled at slot.
func (r *Relay) serviceClient(slot int, id string) {
	c, ok := r.table.Lookup(slot)
	if !ok || c.ID != id {
		return
	}
	n, err := readOnce(&c, r.readBuf)
	switch {
	case err != nil && isWouldBlock(err):
		return
	case err != nil:
		obs.Error("client.read", obs.Fields{"err": err.Error(), "id": c.ID, "name": string(c.Name)})
		obs.ErrorsTotal.WithLabelValues("read").Inc()
		r.drop(slot)
	case n == 0:
		obs.Debug("client.eof", obs.Fields{"id": c.ID, "name": string(c.Name)})
		r.drop(slot)
	default:
		r.relayMessage(slot, &c, r.readBuf[:n])
	}
}

func (r *Relay) relayMessage(slot int, c *Connection, payload []byte) {
	if !r.opts.Limiter.AllowMessage(c.ID) {
		obs.Debug("client.message.throttled", obs.Fields{"id": c.ID, "bytes": len(payload)})
		obs.ErrorsTotal.WithLabelValues("message_rate").Inc()
		return
	}
	obs.MessagesTotal.Inc()
	obs.MessageBytes.Observe(float64(len(payload)))
	msg := proto.Message(c.Name, payload)
	r.print(msg)
	r.broadcast(slot, msg)
}

// drop removes slot from the table and tells everyone left.
func (r *Relay) drop(slot int) {
	c, err := r.table.Remove(slot)
	if err != nil {
		obs.Error("relay.remove", obs.Fields{"err": err.Error(), "slot": slot})
		return
	}
	r.forget(c)
	msg := proto.Disconnected(c.Name)
	r.print(msg)
	r.broadcast(NoSlot, msg)
}

// forget clears the bookkeeping for a connection that has left the table.
func (r *Relay) forget(c Connection) {
	obs.ActiveConnections.Set(float64(r.table.Len()))
	obs.ConnectionDurationSeconds.Observe(time.Since(c.Joined).Seconds())
	obs.Info("relay.remove", obs.Fields{"id": c.ID, "name": string(c.Name), "remote": c.Remote})

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.opts.Presence.Leave(ctx, c.ID); err != nil {
		obs.Error("presence.leave", obs.Fields{"err": err.Error(), "id": c.ID})
	}

	if r.opts.Limiter != nil {
		active := make(map[string]bool, r.table.Len())
		r.table.ForEachExcept(NoSlot, func(c *Connection) { active[c.ID] = true })
		r.opts.Limiter.Retain(active)
	}
}

func (r *Relay) print(p []byte) {
	if _, err := r.opts.Output.Write(p); err != nil {
		obs.Debug("relay.output", obs.Fields{"err": err.Error()})
	}
}

// closeAll closes every connection and the listener.
func (r *Relay) closeAll() {
	r.shutdown.Store(true)
	r.running.Store(false)
	closed := r.table.CloseAll()
	for _, c := range closed {
		r.forget(c)
	}
	if err := r.ln.Close(); err != nil {
		obs.Error("relay.listener.close", obs.Fields{"err": err.Error()})
	}
	obs.ActiveConnections.Set(0)
	obs.Info("relay.closed", obs.Fields{"connections": len(closed)})
}
