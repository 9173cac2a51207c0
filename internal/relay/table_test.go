package relay

import (
	"errors"
	"fmt"
	"math/rand"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	closed int
}

func (f *fakeHandle) Close() error { f.closed++; return nil }

func (f *fakeHandle) SyscallConn() (syscall.RawConn, error) {
	return nil, errors.New("fake handle has no descriptor")
}

func fakeConn(id string) (Connection, *fakeHandle) {
	h := &fakeHandle{}
	return Connection{ID: id, Name: []byte("name-" + id), conn: h}, h
}

func ids(cs []Connection) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestTableAdmitUpToCapacity(t *testing.T) {
	tbl := NewTable(2)
	a, _ := fakeConn("a")
	b, _ := fakeConn("b")
	c, hc := fakeConn("c")

	slot, err := tbl.Admit(a)
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
	slot, err = tbl.Admit(b)
	require.NoError(t, err)
	assert.Equal(t, 1, slot)

	slot, err = tbl.Admit(c)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, NoSlot, slot)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"a", "b"}, ids(tbl.Snapshot()))
	assert.Zero(t, hc.closed, "table must not close a connection it never admitted")
}

func TestTableRemoveRelocatesLast(t *testing.T) {
	tbl := NewTable(4)
	handles := map[string]*fakeHandle{}
	for _, id := range []string{"a", "b", "c", "d"} {
		c, h := fakeConn(id)
		handles[id] = h
		_, err := tbl.Admit(c)
		require.NoError(t, err)
	}

	removed, err := tbl.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, "b", removed.ID)
	assert.Equal(t, 1, handles["b"].closed)

	snap := tbl.Snapshot()
	assert.Equal(t, []string{"a", "d", "c"}, ids(snap))
	assert.Equal(t, 1, snap[1].Slot)
	assert.Equal(t, "name-d", string(snap[1].Name), "name must move with its handle")

	_, ok := tbl.Lookup(3)
	assert.False(t, ok, "former last slot must not be live")
}

func TestTableRemoveLastAndInvalid(t *testing.T) {
	tbl := NewTable(2)
	a, _ := fakeConn("a")
	b, hb := fakeConn("b")
	_, _ = tbl.Admit(a)
	_, _ = tbl.Admit(b)

	removed, err := tbl.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, "b", removed.ID)
	assert.Equal(t, 1, hb.closed)
	assert.Equal(t, []string{"a"}, ids(tbl.Snapshot()))

	for _, slot := range []int{-1, 1, 2, NoSlot} {
		_, err := tbl.Remove(slot)
		assert.ErrorIs(t, err, ErrInvalidSlot, "slot %d", slot)
	}
	assert.Equal(t, 1, tbl.Len())
}

func TestTableForEachExcept(t *testing.T) {
	tbl := NewTable(3)
	for _, id := range []string{"a", "b", "c"} {
		c, _ := fakeConn(id)
		_, _ = tbl.Admit(c)
	}

	var seen []string
	tbl.ForEachExcept(1, func(c *Connection) { seen = append(seen, c.ID) })
	assert.Equal(t, []string{"a", "c"}, seen)

	seen = nil
	tbl.ForEachExcept(NoSlot, func(c *Connection) { seen = append(seen, c.ID) })
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestTableCloseAll(t *testing.T) {
	tbl := NewTable(3)
	var hs []*fakeHandle
	for _, id := range []string{"a", "b"} {
		c, h := fakeConn(id)
		hs = append(hs, h)
		_, _ = tbl.Admit(c)
	}
	closed := tbl.CloseAll()
	assert.Equal(t, []string{"a", "b"}, ids(closed))
	assert.Zero(t, tbl.Len())
	for _, h := range hs {
		assert.Equal(t, 1, h.closed)
	}
}

func TestTableSnapshotHasNoHandles(t *testing.T) {
	tbl := NewTable(2)
	c, h := fakeConn("a")
	_, err := tbl.Admit(c)
	require.NoError(t, err)

	snap := tbl.Snapshot()
	require.Len(t, snap, 1)
	assert.Nil(t, snap[0].conn)
	assert.Nil(t, snap[0].raw)
	assert.Equal(t, -1, snap[0].fd)

	snap[0].Name[0] = 'X'
	got, ok := tbl.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, "name-a", string(got.Name))
	assert.Same(t, h, got.conn)
}

// Random admit/remove sequences against a simple model.
func TestTableInvariantsUnderRandomOps(t *testing.T) {
	const capacity = 8
	rng := rand.New(rand.NewSource(42))
	tbl := NewTable(capacity)
	live := map[string]*fakeHandle{}
	next := 0

	for step := 0; step < 5000; step++ {
		if rng.Intn(2) == 0 {
			id := fmt.Sprintf("c%d", next)
			next++
			c, h := fakeConn(id)
			_, err := tbl.Admit(c)
			if len(live) == capacity {
				require.ErrorIs(t, err, ErrCapacityExceeded)
			} else {
				require.NoError(t, err)
				live[id] = h
			}
		} else {
			slot := rng.Intn(capacity+1) - 1
			before := tbl.Snapshot()
			removed, err := tbl.Remove(slot)
			if slot < 0 || slot >= len(before) {
				require.ErrorIs(t, err, ErrInvalidSlot)
			} else {
				require.NoError(t, err)
				require.Equal(t, before[slot].ID, removed.ID)
				require.Equal(t, 1, live[removed.ID].closed)
				delete(live, removed.ID)
				after := tbl.Snapshot()
				if slot != len(before)-1 {
					require.Equal(t, before[len(before)-1].ID, after[slot].ID)
				}
			}
		}

		snap := tbl.Snapshot()
		require.LessOrEqual(t, len(snap), capacity)
		require.Len(t, snap, len(live))
		seen := map[string]bool{}
		for i, c := range snap {
			require.Equal(t, i, c.Slot)
			require.False(t, seen[c.ID], "duplicate %s", c.ID)
			seen[c.ID] = true
			require.Contains(t, live, c.ID)
			require.Equal(t, "name-"+c.ID, string(c.Name))
		}
	}
}
