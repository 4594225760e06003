package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gravitas-games/flowfield/internal/cache"
	"github.com/gravitas-games/flowfield/internal/field"
	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/nav"
)

// unreachableClient fails every command quickly.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestKeyLayout(t *testing.T) {
	s := NewStore(nil, "flowfield:", time.Minute, 10, nil)
	key := cache.FieldKey{
		Region: grid.RegionID{Column: 3, Row: 1},
		Goal:   grid.FieldCell{Column: 9, Row: 4},
		Exit:   grid.East,
	}
	assert.Equal(t, "flowfield:tank:3:1:9:4:2", s.Key("tank", key))
	assert.Equal(t, "flowfield:tank:3:1:*", s.RegionPattern("tank", key.Region))

	target := cache.FieldKey{Region: key.Region, Goal: key.Goal}
	assert.Equal(t, "flowfield:tank:3:1:9:4:0", s.Key("tank", target))
}

func TestLoadReportsConnectionErrors(t *testing.T) {
	s := NewStore(unreachableClient(t), "flowfield:", time.Minute, 4, nil)
	_, err := s.Load(context.Background(), "default", cache.FieldKey{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestHandleLogsFailuresWithoutPanicking(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(unreachableClient(t), "flowfield:", time.Minute, 4, zap.New(core))

	f, err := field.Build(grid.NewCostField(4), field.Goal{Cell: grid.FieldCell{Column: 2, Row: 2}})
	require.NoError(t, err)

	s.Handle(nav.Event{Type: nav.EventFieldPublished, Layer: "default", Field: f})
	s.Handle(nav.Event{Type: nav.EventRegionCostChanged, Layer: "default", Regions: []grid.RegionID{{}}})
	s.Handle(nav.Event{Type: nav.EventRoutePlanned, Layer: "default"})

	assert.Equal(t, 1, logs.FilterMessage("Snapshot write failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Snapshot invalidation failed").Len())
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "flowfield:", time.Minute, 4, nil), mr
}

func buildField(t *testing.T, goal grid.FieldCell) *field.FlowField {
	t.Helper()
	f, err := field.Build(grid.NewCostField(4), field.Goal{Cell: goal})
	require.NoError(t, err)
	return f
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := cache.FieldKey{Region: grid.RegionID{Column: 1, Row: 1}, Goal: grid.FieldCell{Column: 2, Row: 3}}
	f := buildField(t, key.Goal)

	_, err := s.Load(ctx, "default", key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, "default", key, f))
	assert.Equal(t, time.Minute, mr.TTL(s.Key("default", key)))

	got, err := s.Load(ctx, "default", key)
	require.NoError(t, err)
	assert.Equal(t, f.Bytes(), got.Bytes())

	mr.FastForward(2 * time.Minute)
	_, err = s.Load(ctx, "default", key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRegionsRemovesOnlyThatRegion(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	f := buildField(t, grid.FieldCell{Column: 2, Row: 2})

	target := cache.FieldKey{Region: grid.RegionID{Column: 1, Row: 1}, Goal: grid.FieldCell{Column: 2, Row: 2}}
	exit := cache.FieldKey{Region: target.Region, Goal: grid.FieldCell{Column: 3, Row: 1}, Exit: grid.East}
	lookalikes := []cache.FieldKey{
		{Region: grid.RegionID{Column: 11, Row: 1}, Goal: target.Goal},
		{Region: grid.RegionID{Column: 1, Row: 11}, Goal: target.Goal},
		{Region: grid.RegionID{Column: 1, Row: 2}, Goal: target.Goal},
	}
	for _, k := range append([]cache.FieldKey{target, exit}, lookalikes...) {
		require.NoError(t, s.Save(ctx, "default", k, f))
	}
	require.NoError(t, s.Save(ctx, "tank", target, f))

	n, err := s.DeleteRegions(ctx, "default", []grid.RegionID{target.Region})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.False(t, mr.Exists(s.Key("default", target)))
	assert.False(t, mr.Exists(s.Key("default", exit)))
	for _, k := range lookalikes {
		assert.True(t, mr.Exists(s.Key("default", k)), "region %s was deleted", k.Region)
	}
	assert.True(t, mr.Exists(s.Key("tank", target)), "other class was deleted")
}

func TestHandleMirrorsPipelineEvents(t *testing.T) {
	s, mr := newTestStore(t)
	left := cache.FieldKey{Region: grid.RegionID{Column: 0}, Goal: grid.FieldCell{Column: 1, Row: 1}}
	right := cache.FieldKey{Region: grid.RegionID{Column: 1}, Goal: grid.FieldCell{Column: 1, Row: 1}}
	f := buildField(t, left.Goal)

	s.Handle(nav.Event{Type: nav.EventFieldPublished, Layer: "default", Key: left, Field: f})
	s.Handle(nav.Event{Type: nav.EventFieldPublished, Layer: "default", Key: right, Field: f})
	require.True(t, mr.Exists(s.Key("default", left)))
	require.True(t, mr.Exists(s.Key("default", right)))

	s.Handle(nav.Event{Type: nav.EventRegionCostChanged, Layer: "default", Regions: []grid.RegionID{left.Region}})
	assert.False(t, mr.Exists(s.Key("default", left)))
	assert.True(t, mr.Exists(s.Key("default", right)))
}

func TestRegionPatternEscapesWildcards(t *testing.T) {
	s := NewStore(nil, "ff:", time.Minute, 4, nil)
	assert.Equal(t, `ff:t\*nk:1:1:*`, s.RegionPattern("t*nk", grid.RegionID{Column: 1, Row: 1}))
	assert.Equal(t, "ff:tank:1:1:*", s.RegionPattern("tank", grid.RegionID{Column: 1, Row: 1}))
}
