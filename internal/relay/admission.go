package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/matst80/chatrelay/internal/obs"
	"github.com/matst80/chatrelay/internal/presence"
	"github.com/matst80/chatrelay/internal/proto"
)

// admit accepts at most one pending connection and announces it.
func (r *Relay) admit() {
	c := r.tryAccept()
	if c == nil {
		return
	}
	msg := proto.Connected(c.Name)
	r.print(msg)
	r.broadcast(c.Slot, msg)
}

// tryAccept performs a non-blocking accept followed by the synchronous name
// handshake. It returns nil when nothing was pending or the peer was rejected.
func (r *Relay) tryAccept() *Connection {
	if err := r.ln.SetDeadline(time.Now().Add(r.opts.AcceptWait)); err != nil {
		obs.Error("accept.deadline", obs.Fields{"err": err.Error()})
	}
	conn, err := r.ln.AcceptTCP()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}
		obs.Error("accept", obs.Fields{"err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("accept").Inc()
		return nil
	}
	remote := conn.RemoteAddr().String()

	if r.table.Len() >= r.table.Capacity() {
		r.reject(conn, remote, "capacity")
		r.print([]byte("Maximum number of connections reached\n"))
		return nil
	}
	if !r.opts.Limiter.AllowAdmission(remoteIP(conn)) {
		r.reject(conn, remote, "rate")
		return nil
	}

	name, reason := r.handshake(conn)
	if name == nil {
		r.reject(conn, remote, reason)
		return nil
	}

	raw, fd, err := fdOf(conn)
	if err != nil {
		obs.Error("accept.descriptor", obs.Fields{"err": err.Error(), "remote": remote})
		obs.ErrorsTotal.WithLabelValues("descriptor").Inc()
		_ = conn.Close()
		return nil
	}
	c := Connection{
		ID:     uuid.NewString(),
		Name:   name,
		Remote: remote,
		Joined: time.Now(),
		conn:   conn,
		raw:    raw,
		fd:     fd,
	}
	slot, err := r.table.Admit(c)
	if err != nil {
		r.reject(conn, remote, "capacity")
		return nil
	}
	c.Slot = slot

	obs.AdmissionsTotal.Inc()
	obs.ActiveConnections.Set(float64(r.table.Len()))
	obs.Info("relay.admit", obs.Fields{"id": c.ID, "name": string(name), "remote": remote, "slot": slot})

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.opts.Presence.Join(ctx, presence.Member{ID: c.ID, Name: string(name), Remote: remote, Joined: c.Joined}); err != nil {
		obs.Error("presence.join", obs.Fields{"err": err.Error(), "id": c.ID})
	}
	return &c
}

// handshake reads the display name: exactly the bytes of one read, bounded
// by the handshake timeout and cut short by Shutdown. A nil name means the
// peer is discarded.
func (r *Relay) handshake(conn *net.TCPConn) ([]byte, string) {
	if err := conn.SetReadDeadline(time.Now().Add(r.opts.HandshakeTimeout)); err != nil {
		return nil, "handshake_error"
	}
	// Published before the shutdown check so Shutdown either sees the conn
	// or we see the flag.
	r.handshaking.Store(conn)
	defer r.handshaking.Store(nil)
	if r.shutdown.Load() {
		return nil, "shutdown"
	}
	n, err := conn.Read(r.readBuf)
	if n == 0 && r.shutdown.Load() {
		return nil, "shutdown"
	}
	if n == 0 {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return nil, "handshake_timeout"
		case err == nil || errors.Is(err, io.EOF):
			return nil, "handshake_eof"
		default:
			obs.Error("handshake.read", obs.Fields{"err": err.Error(), "remote": conn.RemoteAddr().String()})
			return nil, "handshake_error"
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return bytes.Clone(r.readBuf[:n]), ""
}

func (r *Relay) reject(conn net.Conn, remote, reason string) {
	_ = conn.Close()
	obs.RejectionsTotal.WithLabelValues(reason).Inc()
	obs.Info("relay.reject", obs.Fields{"remote": remote, "reason": reason})
}

func remoteIP(conn *net.TCPConn) string {
	if a, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return a.IP.String()
	}
	return conn.RemoteAddr().String()
}
