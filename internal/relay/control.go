package relay

import (
	"errors"
	"io"

	"github.com/matst80/chatrelay/internal/obs"
)

// handleControl reads one operator line. A first byte of '0' shuts the relay
// down; anything else is broadcast verbatim to every client.
func (r *Relay) handleControl() {
	n, err := r.opts.Control.Read(r.ctrlBuf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			obs.Error("control.read", obs.Fields{"err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("control").Inc()
		}
		// Stop watching: a closed channel would otherwise report ready forever.
		obs.Info("control.closed", obs.Fields{})
		r.controlFD = -1
		return
	}
	line := r.ctrlBuf[:n]
	if line[0] == '0' {
		r.print([]byte("Shutting down relay\n"))
		r.Shutdown()
		return
	}
	delivered := r.broadcast(NoSlot, line)
	obs.Info("control.broadcast", obs.Fields{"bytes": n, "delivered": delivered})
}
