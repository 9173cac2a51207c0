package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matst80/chatrelay/internal/obs"
	"github.com/redis/go-redis/v9"
)

const (
	relaysKey       = "chatrelay:relays"
	rosterKeyPrefix = "chatrelay:roster:"
)

// RedisStore keeps each relay's roster in its own hash (session id -> JSON
// member) and the set of relays in relaysKey, so List sees every relay
// sharing the Redis instance.
type RedisStore struct {
	client     *redis.Client
	instanceID string

	heartbeatInterval time.Duration
	keyTTL            time.Duration
}

// NewRedis connects and pings Redis.
func NewRedis(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{
		client:            rdb,
		instanceID:        fmt.Sprintf("chatrelay-%d", time.Now().UnixNano()),
		heartbeatInterval: 30 * time.Second,
		keyTTL:            2 * time.Minute,
	}, nil
}

var _ Store = (*RedisStore)(nil)

func (r *RedisStore) rosterKey(instance string) string { return rosterKeyPrefix + instance }

func (r *RedisStore) Join(ctx context.Context, m Member) error {
	m.Relay = r.instanceID
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal member: %w", err)
	}
	key := r.rosterKey(r.instanceID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, m.ID, data)
	pipe.Expire(ctx, key, r.keyTTL)
	pipe.SAdd(ctx, relaysKey, r.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis join failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Leave(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.rosterKey(r.instanceID), id).Err(); err != nil {
		return fmt.Errorf("redis leave failed: %w", err)
	}
	return nil
}

// List returns the members of every relay whose roster key is still alive.
func (r *RedisStore) List(ctx context.Context) ([]Member, error) {
	relays, err := r.client.SMembers(ctx, relaysKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis relays failed: %w", err)
	}
	var out []Member
	for _, relay := range relays {
		entries, err := r.client.HGetAll(ctx, r.rosterKey(relay)).Result()
		if err != nil {
			if err != redis.Nil {
				obs.Error("redis.roster", obs.Fields{"err": err.Error(), "relay": relay})
			}
			continue
		}
		if len(entries) == 0 && relay != r.instanceID {
			// expired or emptied by a relay that went away
			_ = r.client.SRem(ctx, relaysKey, relay).Err()
			continue
		}
		for id, raw := range entries {
			var m Member
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				obs.Error("redis.unmarshal_member", obs.Fields{"err": err.Error(), "id": id})
				continue
			}
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out, nil
}

// StartMaintenance periodically extends this relay's roster TTL until ctx ends.
func (r *RedisStore) StartMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
		}
	}
}

func (r *RedisStore) heartbeat(ctx context.Context) {
	if err := r.client.Expire(ctx, r.rosterKey(r.instanceID), r.keyTTL).Err(); err != nil {
		obs.Error("redis.heartbeat.expire", obs.Fields{"err": err.Error(), "relay": r.instanceID})
	}
}

// Close removes this relay's roster and releases the client.
func (r *RedisStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.rosterKey(r.instanceID))
	pipe.SRem(ctx, relaysKey, r.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		obs.Error("redis.close", obs.Fields{"err": err.Error(), "relay": r.instanceID})
	}
	return r.client.Close()
}
