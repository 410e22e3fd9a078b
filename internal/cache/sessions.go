// Package cache mirrors open parking sessions into Redis so other services
// can look them up without going through the allocator.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"parking-allocator/internal/parking"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// NewClient parses a redis:// URL and validates the connection with PING.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	opts.DialTimeout = defaultDialTimeout
	opts.ReadTimeout = defaultReadTimeout
	opts.WriteTimeout = defaultWriteTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// OpenSession is the cached view of an open session.
type OpenSession struct {
	SessionID   string    `json:"session_id"`
	Plate       string    `json:"plate"`
	VehicleType string    `json:"vehicle_type"`
	UserID      string    `json:"user_id"`
	LotID       string    `json:"lot_id"`
	SlotNumber  int       `json:"slot_number"`
	EntryTime   time.Time `json:"entry_time"`
}

func fromSession(s parking.Session) OpenSession {
	return OpenSession{
		SessionID:   s.ID,
		Plate:       s.Plate,
		VehicleType: string(s.VehicleType),
		UserID:      s.UserID,
		LotID:       s.SlotID.LotID,
		SlotNumber:  s.SlotID.Number,
		EntryTime:   s.EntryTime,
	}
}

// SessionCache keeps one JSON value per open session plus a set of open
// session ids per lot. Entries expire after ttl as a backstop for missed
// closes.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ parking.Observer = (*SessionCache)(nil)

func NewSessionCache(client *redis.Client, ttl time.Duration) *SessionCache {
	return &SessionCache{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("parking:sessions:open:%s", sessionID)
}

func lotKey(lotID string) string {
	return fmt.Sprintf("parking:lots:%s:open", lotID)
}

func (c *SessionCache) SessionOpened(ctx context.Context, s parking.Session) error {
	data, err := json.Marshal(fromSession(s))
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(s.ID), data, c.ttl)
		pipe.SAdd(ctx, lotKey(s.SlotID.LotID), s.ID)
		if c.ttl > 0 {
			pipe.Expire(ctx, lotKey(s.SlotID.LotID), c.ttl)
		}
		return nil
	})
	return err
}

func (c *SessionCache) SessionClosed(ctx context.Context, s parking.Session) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(s.ID))
		pipe.SRem(ctx, lotKey(s.SlotID.LotID), s.ID)
		return nil
	})
	return err
}

// OpenInLot returns the ids of sessions cached as open in a lot.
func (c *SessionCache) OpenInLot(ctx context.Context, lotID string) ([]string, error) {
	return c.client.SMembers(ctx, lotKey(lotID)).Result()
}

// Prune drops cached entries of a lot whose session closed reports as
// closed. It returns how many entries were removed.
func (c *SessionCache) Prune(ctx context.Context, lotID string, closed func(sessionID string) bool) (int, error) {
	ids, err := c.OpenInLot(ctx, lotID)
	if err != nil {
		return 0, err
	}
	stale := staleIDs(ids, closed)
	if len(stale) == 0 {
		return 0, nil
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range stale {
			pipe.Del(ctx, sessionKey(id))
			pipe.SRem(ctx, lotKey(lotID), id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

func staleIDs(ids []string, closed func(string) bool) []string {
	var out []string
	for _, id := range ids {
		if closed(id) {
			out = append(out, id)
		}
	}
	return out
}
