// Package presence mirrors the relay's live roster so it can be inspected
// from outside the event loop, either in process or across relays via Redis.
package presence

import (
	"context"
	"time"

	"github.com/matst80/chatrelay/internal/obs"
)

// Member is one admitted connection.
type Member struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Remote string    `json:"remote"`
	Joined time.Time `json:"joined"`
	Relay  string    `json:"relay,omitempty"`
}

// Store abstracts roster bookkeeping to allow horizontal scaling.
type Store interface {
	Join(ctx context.Context, m Member) error
	Leave(ctx context.Context, id string) error
	List(ctx context.Context) ([]Member, error)
	Close() error
}

// New creates either an in-memory or Redis-backed store based on configuration.
func New(redisAddr, redisPassword string, redisDB int) (Store, error) {
	if redisAddr == "" {
		obs.Info("presence.backend", obs.Fields{"type": "in-memory"})
		return NewMemory(), nil
	}
	obs.Info("presence.backend", obs.Fields{"type": "redis", "addr": redisAddr})
	return NewRedis(redisAddr, redisPassword, redisDB)
}
