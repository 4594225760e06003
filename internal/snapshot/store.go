// Package snapshot mirrors published flow fields to Redis in wire format so
// other processes can read them without asking the pipeline.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/gravitas-games/flowfield/internal/cache"
	"github.com/gravitas-games/flowfield/internal/field"
	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/nav"
)

// ErrNotFound is returned by Load when no snapshot exists.
var ErrNotFound = errors.New("snapshot not found")

// Store writes flow field snapshots under prefix with a fixed TTL.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	ttl        time.Duration
	resolution int
	logger     *zap.Logger
	timeout    time.Duration
}

// NewStore creates a store. ttl should match the field cache TTL so a
// snapshot never outlives the cached field.
func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration, resolution int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		redis:      client,
		prefix:     prefix,
		ttl:        ttl,
		resolution: resolution,
		logger:     logger,
		timeout:    2 * time.Second,
	}
}

// Key returns the Redis key of one field of one agent class.
func (s *Store) Key(class string, key cache.FieldKey) string {
	return fmt.Sprintf("%s%s:%d:%d:%d:%d:%d", s.prefix, class,
		key.Region.Column, key.Region.Row, key.Goal.Column, key.Goal.Row, key.Exit)
}

// RegionPattern matches every key of one region of one agent class.
func (s *Store) RegionPattern(class string, id grid.RegionID) string {
	return fmt.Sprintf("%s%s:%d:%d:*", escapeGlob(s.prefix), escapeGlob(class), id.Column, id.Row)
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save writes one field.
func (s *Store) Save(ctx context.Context, class string, key cache.FieldKey, f *field.FlowField) error {
	if err := s.redis.Set(ctx, s.Key(class, key), f.Bytes(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load reads one field.
func (s *Store) Load(ctx context.Context, class string, key cache.FieldKey) (*field.FlowField, error) {
	data, err := s.redis.Get(ctx, s.Key(class, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return field.FlowFieldFromBytes(s.resolution, data)
}

// DeleteRegions removes every snapshot of the given regions.
func (s *Store) DeleteRegions(ctx context.Context, class string, ids []grid.RegionID) (int, error) {
	deleted := 0
	for _, id := range ids {
		iter := s.redis.Scan(ctx, 0, s.RegionPattern(class, id), 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return deleted, fmt.Errorf("failed to scan snapshots of %s: %w", id, err)
		}
		if len(keys) == 0 {
			continue
		}
		n, err := s.redis.Del(ctx, keys...).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to delete snapshots of %s: %w", id, err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// Handle keeps Redis in step with the pipeline. Subscribe it to the
// engine's event bus.
func (s *Store) Handle(ev nav.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	switch ev.Type {
	case nav.EventFieldPublished:
		if ev.Field == nil {
			return
		}
		if err := s.Save(ctx, ev.Layer, ev.Key, ev.Field); err != nil {
			s.logger.Warn("Snapshot write failed", zap.String("class", ev.Layer), zap.Stringer("key", ev.Key), zap.Error(err))
		}
	case nav.EventRegionCostChanged:
		n, err := s.DeleteRegions(ctx, ev.Layer, ev.Regions)
		if err != nil {
			s.logger.Warn("Snapshot invalidation failed", zap.String("class", ev.Layer), zap.Error(err))
			return
		}
		s.logger.Debug("Snapshots invalidated", zap.String("class", ev.Layer), zap.Int("deleted", n))
	}
}
