package relay

import (
	"bytes"
	"io"
	"sync"
	"syscall"
	"time"
)

// NoSlot excludes nobody in Table.ForEachExcept.
const NoSlot = -1

type handle interface {
	io.Closer
	syscall.Conn
}

// Connection is one admitted peer. The display name lives in the same record
// as the handle, so compaction moves both together.
type Connection struct {
	ID     string
	Name   []byte
	Remote string
	Joined time.Time
	Slot   int

	conn handle
	raw  syscall.RawConn
	fd   int
}

// Table is the dense registry of live connections. Slots 0..Len()-1 are
// always occupied; removal moves the last record into the vacated slot.
//
// The mutex is held only for the duration of each call and never across a
// readiness wait.
type Table struct {
	mu     sync.Mutex
	slots  []Connection
	active int
}

// NewTable allocates a table with a fixed capacity.
func NewTable(capacity int) *Table {
	if capacity < 0 {
		capacity = 0
	}
	return &Table{slots: make([]Connection, capacity)}
}

// Capacity is the fixed upper bound on live connections.
func (t *Table) Capacity() int { return len(t.slots) }

// Len returns the number of live connections.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Admit appends c at slot Len() and returns that slot.
func (t *Table) Admit(c Connection) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == len(t.slots) {
		return NoSlot, ErrCapacityExceeded
	}
	slot := t.active
	c.Slot = slot
	t.slots[slot] = c
	t.active++
	return slot, nil
}

// Remove closes the connection in slot, moves the last live record into it
// and returns the removed record.
func (t *Table) Remove(slot int) (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= t.active {
		return Connection{}, ErrInvalidSlot
	}
	removed := t.slots[slot]
	last := t.active - 1
	if slot != last {
		t.slots[slot] = t.slots[last]
		t.slots[slot].Slot = slot
	}
	t.slots[last] = Connection{}
	t.active--
	if removed.conn != nil {
		_ = removed.conn.Close()
	}
	return removed, nil
}

// Lookup returns a copy of the record in slot.
func (t *Table) Lookup(slot int) (Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= t.active {
		return Connection{}, false
	}
	return t.slots[slot], true
}

// ForEachExcept calls fn for every live connection except the one in
// excluded, in slot order. fn must not call back into the table.
func (t *Table) ForEachExcept(excluded int, fn func(c *Connection)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < t.active; i++ {
		if i == excluded {
			continue
		}
		fn(&t.slots[i])
	}
}

// Snapshot copies the live records in slot order. The copies carry no
// handle or descriptor; only the event loop does I/O on a connection.
func (t *Table) Snapshot() []Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Connection, t.active)
	for i, c := range t.slots[:t.active] {
		c.conn, c.raw, c.fd = nil, nil, -1
		c.Name = bytes.Clone(c.Name)
		out[i] = c
	}
	return out
}

// CloseAll closes and removes every live connection, returning them.
func (t *Table) CloseAll() []Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Connection, t.active)
	copy(out, t.slots[:t.active])
	for i := 0; i < t.active; i++ {
		if t.slots[i].conn != nil {
			_ = t.slots[i].conn.Close()
		}
		t.slots[i] = Connection{}
	}
	t.active = 0
	return out
}
