package relay

import (
	"github.com/matst80/chatrelay/internal/obs"
)

// broadcast attempts exactly one send of payload to every live connection
// except sender (NoSlot for none). Failed and short sends are logged and
// dropped; they never stop the fan-out or remove the recipient.
func (r *Relay) broadcast(sender int, payload []byte) int {
	delivered := 0
	r.table.ForEachExcept(sender, func(c *Connection) {
		n, err := sendOnce(c, payload)
		switch {
		case err != nil:
			obs.Error("broadcast.send", obs.Fields{"err": err.Error(), "id": c.ID, "slot": c.Slot, "would_block": isWouldBlock(err)})
			obs.BroadcastSendFailuresTotal.Inc()
		case n < len(payload):
			obs.Error("broadcast.short_send", obs.Fields{"id": c.ID, "slot": c.Slot, "sent": n, "len": len(payload)})
			obs.BroadcastSendFailuresTotal.Inc()
		default:
			delivered++
		}
	})
	obs.Debug("broadcast", obs.Fields{"sender": sender, "bytes": len(payload), "delivered": delivered})
	return delivered
}
