// Package library turns a player's personal library into the list of items
// they contribute to a game, and caches fetched libraries on disk.
package library

import (
	"github.com/scythe504/whosetrack-backend/internal"
)

type Origin string

const (
	OriginLiked       Origin = "liked"
	OriginTop         Origin = "top"
	OriginCollections Origin = "collections"
)

// CacheKey names the cache entry for an origin. Top items are cached per
// time range since each range is a separate fetch.
func CacheKey(origin Origin, tr internal.TimeRange) string {
	if origin == OriginTop {
		return string(origin) + "_" + string(tr)
	}
	return string(origin)
}

// Contribution returns the items a player brings under cfg, in source
// order, deduplicated by id. Items without an id or name are dropped, and
// explicit items are dropped unless the player allows them.
func Contribution(lib internal.Library, cfg internal.GameConfig, explicitAllowed bool) []internal.Item {
	var sources [][]internal.Item
	if cfg.UseLikedItems {
		sources = append(sources, lib.Liked)
	}
	if cfg.UseTopItems {
		sources = append(sources, lib.Top[cfg.TopItemsTimeRange])
	}
	if cfg.UseItemsFromCollections {
		sources = append(sources, lib.Collections)
	}

	seen := make(map[string]struct{})
	out := make([]internal.Item, 0)
	for _, src := range sources {
		for _, item := range src {
			if !item.Valid() {
				continue
			}
			if item.Explicit && !explicitAllowed {
				continue
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

func IDs(list []internal.Item) []string {
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = item.ID
	}
	return out
}

// All flattens every origin of lib, so the catalog can resolve any item a
// later configuration change might select.
func All(lib internal.Library) []internal.Item {
	out := make([]internal.Item, 0, len(lib.Liked)+len(lib.Collections))
	out = append(out, lib.Liked...)
	for _, list := range lib.Top {
		out = append(out, list...)
	}
	out = append(out, lib.Collections...)
	return out
}
