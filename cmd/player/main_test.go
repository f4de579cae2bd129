package main

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinURL(t *testing.T) {
	cfg := &Config{server: "wss://games.example/", session: " ab cd12 ", playerID: "p-1", name: "Ann Bot"}

	raw, err := cfg.joinURL()
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "/ws/ABCD12", u.Path)
	assert.Equal(t, "p-1", u.Query().Get("player_id"))
	assert.Equal(t, "Ann Bot", u.Query().Get("name"))
	assert.Equal(t, "false", u.Query().Get("explicit"))
}

func TestValidate(t *testing.T) {
	ok := Config{session: "ABCD12", libraryDir: "lib", timeRange: "medium"}
	require.NoError(t, ok.validate())

	for name, mutate := range map[string]func(*Config){
		"no session":     func(c *Config) { c.session = "" },
		"no library":     func(c *Config) { c.libraryDir = "" },
		"bad time range": func(c *Config) { c.timeRange = "forever" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := ok
			mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestCacheKeysFollowTimeRange(t *testing.T) {
	cfg := &Config{timeRange: "short"}
	assert.Equal(t, []string{"liked", "top_short", "collections"}, cfg.cacheKeys())
}
