package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/whosetrack-backend/internal"
)

func testLibrary() internal.Library {
	return internal.Library{
		Liked: []internal.Item{
			{ID: "a", Name: "A"},
			{ID: "b", Name: "B", Explicit: true},
			{ID: "", Name: "no id"},
		},
		Top: map[internal.TimeRange][]internal.Item{
			internal.TimeRangeShort:  {{ID: "s", Name: "S"}},
			internal.TimeRangeMedium: {{ID: "a", Name: "A"}, {ID: "m", Name: "M"}},
		},
		Collections: []internal.Item{{ID: "c", Name: ""}, {ID: "d", Name: "D"}},
	}
}

func TestContribution(t *testing.T) {
	tests := []struct {
		name     string
		cfg      internal.GameConfig
		explicit bool
		want     []string
	}{
		{
			name: "liked and medium top",
			cfg:  internal.DefaultGameConfig(),
			want: []string{"a", "m"},
		},
		{
			name:     "explicit allowed",
			cfg:      internal.DefaultGameConfig(),
			explicit: true,
			want:     []string{"a", "b", "m"},
		},
		{
			name: "short range and collections",
			cfg: internal.GameConfig{
				UseTopItems:             true,
				TopItemsTimeRange:       internal.TimeRangeShort,
				UseItemsFromCollections: true,
			},
			want: []string{"s", "d"},
		},
		{
			name: "nothing enabled",
			cfg:  internal.GameConfig{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Contribution(testLibrary(), tt.cfg, tt.explicit)
			assert.Equal(t, tt.want, IDs(got))
		})
	}
}

func TestCacheRetrieve(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache := NewCache(dir, 14*24*time.Hour)
	cache.now = func() time.Time { return now }

	calls := 0
	fetch := func(_ context.Context, key string) ([]internal.Item, error) {
		calls++
		return []internal.Item{{ID: key + "-1", Name: "One"}}, nil
	}

	got, err := cache.Retrieve(context.Background(), "liked", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "liked-1", got[0].ID)
	assert.FileExists(t, filepath.Join(dir, "liked.json"))
	assert.FileExists(t, filepath.Join(dir, "liked.fetched"))

	// Fresh entry is served from disk.
	now = now.Add(13 * 24 * time.Hour)
	_, err = cache.Retrieve(context.Background(), "liked", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Aged past the refresh interval.
	now = now.Add(2 * 24 * time.Hour)
	_, err = cache.Retrieve(context.Background(), "liked", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCacheInvalidateForcesFetch(t *testing.T) {
	cache := NewCache(t.TempDir(), 14*24*time.Hour)
	calls := 0
	fetch := func(_ context.Context, key string) ([]internal.Item, error) {
		calls++
		return []internal.Item{{ID: key, Name: "One"}}, nil
	}

	_, err := cache.Retrieve(context.Background(), "liked", fetch)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate("liked"))
	require.NoError(t, cache.Invalidate("never-cached"))

	_, err = cache.Retrieve(context.Background(), "liked", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCacheRefetchesBrokenEntries(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		stamp string
	}{
		{name: "corrupt json", data: "{not json", stamp: time.Now().UTC().Format(time.RFC3339)},
		{name: "empty list", data: "[]", stamp: time.Now().UTC().Format(time.RFC3339)},
		{name: "bad stamp", data: `[{"id":"x","name":"X"}]`, stamp: "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "top_long.json"), []byte(tt.data), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "top_long.fetched"), []byte(tt.stamp), 0o644))

			cache := NewCache(dir, 0)
			calls := 0
			got, err := cache.Retrieve(context.Background(), "top_long", func(context.Context, string) ([]internal.Item, error) {
				calls++
				return []internal.Item{{ID: "fresh", Name: "Fresh"}}, nil
			})
			require.NoError(t, err)
			assert.Equal(t, 1, calls)
			assert.Equal(t, "fresh", got[0].ID)

			reloaded, err := cache.Load("top_long")
			require.NoError(t, err)
			assert.Equal(t, got, reloaded)
		})
	}
}

func TestCacheFetchError(t *testing.T) {
	cache := NewCache(t.TempDir(), time.Hour)
	boom := errors.New("service unavailable")
	_, err := cache.Retrieve(context.Background(), "liked", func(context.Context, string) ([]internal.Item, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCacheBuildUsesKeysPerOrigin(t *testing.T) {
	cache := NewCache(t.TempDir(), time.Hour)
	var keys []string
	lib, err := cache.Build(context.Background(), internal.GameConfig{
		UseLikedItems:     true,
		UseTopItems:       true,
		TopItemsTimeRange: internal.TimeRangeLong,
	}, func(_ context.Context, key string) ([]internal.Item, error) {
		keys = append(keys, key)
		return []internal.Item{{ID: key, Name: key}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"liked", "top_long"}, keys)
	assert.Equal(t, "top_long", lib.Top[internal.TimeRangeLong][0].ID)
	assert.Empty(t, lib.Collections)
}

func TestReadCSV(t *testing.T) {
	in := strings.Join([]string{
		"id,name,explicit,uri,duration_ms",
		"t1,First,false,spotify:track:t1,180000",
		"t2,Second,true,,",
		"t3",
		"t4,Fourth,maybe,,",
		",Nameless,false,,",
	}, "\n")

	got, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, internal.Item{ID: "t1", Name: "First", URI: "spotify:track:t1", DurationMs: 180000}, got[0])
	assert.True(t, got[1].Explicit)
}

func TestDirFetcherMissingFile(t *testing.T) {
	got, err := DirFetcher(t.TempDir())(context.Background(), "collections")
	require.NoError(t, err)
	assert.Empty(t, got)
}
