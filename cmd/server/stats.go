package main

import (
	"context"
	"time"

	"github.com/matst80/chatrelay/internal/obs"
	"github.com/matst80/chatrelay/internal/presence"
	"github.com/matst80/chatrelay/internal/relay"
)

// statusSource is the read-only view of the relay the status server needs.
type statusSource interface {
	Ready() bool
	Closing() bool
	Capacity() int
	Connections() []relay.Connection
	Presence() presence.Store
}

// ConnStat is one row of the connection table.
type ConnStat struct {
	Slot   int    `json:"slot"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Remote string `json:"remote"`
	Since  string `json:"since"`
}

// Stats represents current relay stats for dashboards & API.
type Stats struct {
	Active      int               `json:"active"`
	Capacity    int               `json:"capacity"`
	Closing     bool              `json:"closing"`
	Connections []ConnStat        `json:"connections"`
	Roster      []presence.Member `json:"roster"`
	Now         string            `json:"now"`
}

func collectStats(ctx context.Context, s statusSource) Stats {
	conns := s.Connections()
	st := Stats{
		Active:      len(conns),
		Capacity:    s.Capacity(),
		Closing:     s.Closing(),
		Connections: make([]ConnStat, 0, len(conns)),
		Now:         time.Now().UTC().Format(time.RFC3339),
	}
	for _, c := range conns {
		st.Connections = append(st.Connections, ConnStat{
			Slot:   c.Slot,
			ID:     c.ID,
			Name:   string(c.Name),
			Remote: c.Remote,
			Since:  c.Joined.UTC().Format(time.RFC3339),
		})
	}
	roster, err := s.Presence().List(ctx)
	if err != nil {
		obs.Error("stats.roster", obs.Fields{"err": err.Error()})
	}
	st.Roster = roster
	return st
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Active":      s.Active,
		"Capacity":    s.Capacity,
		"Closing":     s.Closing,
		"Connections": s.Connections,
		"Roster":      s.Roster,
	}
}
