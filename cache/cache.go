// Package cache keeps hot read-path data in Redis: the active epoch's
// public info and a rolling feed of recent spin outcomes. The cache is
// strictly an accelerator; a nil *Cache (Redis not configured) no-ops every
// call and readers fall back to Postgres.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"spinvault/events"
	"spinvault/models"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	keyActiveEpoch    = "spinvault:epoch:active"
	keyRecentOutcomes = "spinvault:outcomes:recent"

	recentOutcomesMax = 50
	activeEpochTTL    = 30 * time.Second
)

// RecentOutcome is one spin on the public feed.
type RecentOutcome struct {
	AccountAddress string    `json:"account_address"`
	Tier           string    `json:"tier"`
	StakeAmount    int64     `json:"stake_amount"`
	MultiplierX10  int64     `json:"multiplier_x10"`
	DurationHours  int64     `json:"duration_hours"`
	At             time.Time `json:"at"`
}

type Cache struct {
	client *redis.Client
}

// New connects to Redis at the given URL. Returns nil with no error when
// the URL is empty, which disables caching.
func New(url, password string) (*Cache, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// SetActiveEpoch caches the active epoch's public view. A short TTL bounds
// staleness across epoch rollovers even if invalidation is missed.
func (c *Cache) SetActiveEpoch(ctx context.Context, info *models.EpochInfo) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyActiveEpoch, data, activeEpochTTL).Err()
}

// GetActiveEpoch returns the cached active epoch, or nil on a miss.
func (c *Cache) GetActiveEpoch(ctx context.Context) (*models.EpochInfo, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, keyActiveEpoch).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info models.EpochInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// InvalidateActiveEpoch drops the cached epoch, forcing the next read
// through to Postgres.
func (c *Cache) InvalidateActiveEpoch(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, keyActiveEpoch).Err()
}

// PushRecentOutcome prepends an outcome to the public feed, keeping the
// most recent entries only.
func (c *Cache) PushRecentOutcome(ctx context.Context, outcome RecentOutcome) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, keyRecentOutcomes, data)
	pipe.LTrim(ctx, keyRecentOutcomes, 0, recentOutcomesMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentOutcomes returns the feed, newest first.
func (c *Cache) RecentOutcomes(ctx context.Context, limit int) ([]RecentOutcome, error) {
	if c == nil {
		return nil, nil
	}
	if limit <= 0 || limit > recentOutcomesMax {
		limit = recentOutcomesMax
	}
	raw, err := c.client.LRange(ctx, keyRecentOutcomes, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	outcomes := make([]RecentOutcome, 0, len(raw))
	for _, item := range raw {
		var outcome RecentOutcome
		if err := json.Unmarshal([]byte(item), &outcome); err != nil {
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// WireEvents subscribes the cache to settlement events so the feed and the
// epoch view track writes without polling.
func (c *Cache) WireEvents(bus *events.Bus) {
	if c == nil {
		return
	}

	bus.Subscribe(events.EventTypeSpinSettled, func(ctx context.Context, event events.Event) {
		e, ok := event.(events.SpinSettledEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.PushRecentOutcome(ctx, RecentOutcome{
			AccountAddress: e.AccountAddress,
			Tier:           e.Tier,
			StakeAmount:    e.StakeAmount,
			MultiplierX10:  e.MultiplierX10,
			DurationHours:  e.DurationHours,
			At:             time.Now().UTC(),
		}); err != nil {
			log.WithError(err).Warn("Failed to push outcome to feed")
		}
	})

	bus.Subscribe(events.EventTypeEpochRolled, func(ctx context.Context, event events.Event) {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.InvalidateActiveEpoch(ctx); err != nil {
			log.WithError(err).Warn("Failed to invalidate cached epoch")
		}
	})
}
