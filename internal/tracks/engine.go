package tracks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/scythe504/whosetrack-backend/internal"
)

const (
	DefaultMultiOwnerWeight = 0.7
	DefaultMaxDrawAttempts  = 30
)

var (
	// ErrEmptyPool means no player contributed a single usable item.
	ErrEmptyPool = errors.New("item pool is empty")
	// ErrSelectionExhausted means every item in the pool was already played.
	ErrSelectionExhausted = errors.New("no unused items left in pool")
)

type Source string

const (
	SourceMultiOwner Source = "multi_owner"
	SourceFullPool   Source = "full_pool"
	SourceScan       Source = "scan"
)

// Pick is the outcome of one weighted draw. FallbackReason is set whenever
// the item did not come from the collection the policy first aimed at.
type Pick struct {
	Item           internal.Item
	Source         Source
	Attempts       int
	FallbackReason string
}

type draw struct {
	id       string
	attempts int
	ok       bool
}

type Options struct {
	Rand             *rand.Rand
	MultiOwnerWeight float64
	MaxDrawAttempts  int
}

// Engine owns one session's candidate pool. It is not safe for concurrent
// use; the session host is its only caller.
type Engine struct {
	catalog     Catalog
	used        *UsedSet
	rng         *rand.Rand
	weight      float64
	maxAttempts int

	contributions map[string][]string            // playerID -> item ids
	ownership     map[string]map[string]struct{} // item id -> owners
	pool          []string
	multiOwner    []string
	picked        map[string]struct{}
}

func NewEngine(catalog Catalog, used *UsedSet, opts Options) *Engine {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if opts.MultiOwnerWeight <= 0 || opts.MultiOwnerWeight > 1 {
		opts.MultiOwnerWeight = DefaultMultiOwnerWeight
	}
	if opts.MaxDrawAttempts <= 0 {
		opts.MaxDrawAttempts = DefaultMaxDrawAttempts
	}
	if used == nil {
		used = NewUsedSet(0)
	}
	return &Engine{
		catalog:       catalog,
		used:          used,
		rng:           opts.Rand,
		weight:        opts.MultiOwnerWeight,
		maxAttempts:   opts.MaxDrawAttempts,
		contributions: make(map[string][]string),
		ownership:     make(map[string]map[string]struct{}),
		picked:        make(map[string]struct{}),
	}
}

// SetContribution replaces the ids a player brings to the current game.
// RebuildMultiOwnerPool must be called before the next pick.
func (e *Engine) SetContribution(playerID string, itemIDs []string) {
	e.RemoveContribution(playerID)

	ids := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if id == "" || slices.Contains(ids, id) {
			continue
		}
		ids = append(ids, id)
		owners, ok := e.ownership[id]
		if !ok {
			owners = make(map[string]struct{})
			e.ownership[id] = owners
		}
		owners[playerID] = struct{}{}
	}
	e.contributions[playerID] = ids
}

func (e *Engine) RemoveContribution(playerID string) {
	for _, id := range e.contributions[playerID] {
		owners := e.ownership[id]
		delete(owners, playerID)
		if len(owners) == 0 {
			delete(e.ownership, id)
		}
	}
	delete(e.contributions, playerID)
}

// RebuildMultiOwnerPool recomputes the full pool and the subset of unused
// items owned by at least two players. Both are kept sorted so a seeded
// random source yields a repeatable sequence.
func (e *Engine) RebuildMultiOwnerPool() {
	e.pool = e.pool[:0]
	e.multiOwner = e.multiOwner[:0]

	for id, owners := range e.ownership {
		e.pool = append(e.pool, id)
		if len(owners) >= 2 && !e.isUsed(id) {
			e.multiOwner = append(e.multiOwner, id)
		}
	}
	slices.Sort(e.pool)
	slices.Sort(e.multiOwner)

	log.Printf("[RebuildMultiOwnerPool] pool=%d multi_owner=%d contributors=%d",
		len(e.pool), len(e.multiOwner), len(e.contributions))
}

// ResetForNewGame clears the per-game pool. The shared used set survives,
// minus whatever has aged past its retention window.
func (e *Engine) ResetForNewGame() {
	e.contributions = make(map[string][]string)
	e.ownership = make(map[string]map[string]struct{})
	e.pool = nil
	e.multiOwner = nil
	e.picked = make(map[string]struct{})

	if n := e.used.Prune(); n > 0 {
		log.Printf("[ResetForNewGame] pruned %d used items past retention", n)
	}
}

// PickNext selects the next round's item.
func (e *Engine) PickNext(ctx context.Context) (Pick, error) {
	if len(e.pool) == 0 {
		return Pick{}, ErrEmptyPool
	}

	for {
		pick, err := e.choose()
		if err != nil {
			return Pick{}, err
		}

		e.markPicked(pick.Item.ID)
		item, err := e.catalog.Track(ctx, pick.Item.ID)
		if errors.Is(err, ErrUnknownTrack) {
			// Unresolvable ids stay marked so they are never drawn again.
			log.Printf("ERROR: [PickNext] dropping unresolvable item=%s: %v", pick.Item.ID, err)
			continue
		}
		if err != nil {
			return Pick{}, fmt.Errorf("resolve item %s: %w", pick.Item.ID, err)
		}

		pick.Item = item
		log.Printf("[PickNext] item=%s source=%s attempts=%d fallback=%q",
			item.ID, pick.Source, pick.Attempts, pick.FallbackReason)
		return pick, nil
	}
}

func (e *Engine) choose() (Pick, error) {
	var reason string

	switch {
	case len(e.multiOwner) == 0:
		reason = "multi-owner pool empty"
	case e.rng.Float64() >= e.weight:
		// Weighted coin chose the full pool; not a fallback.
	default:
		d := e.drawFrom(e.multiOwner)
		if d.ok {
			return Pick{Item: internal.Item{ID: d.id}, Source: SourceMultiOwner, Attempts: d.attempts}, nil
		}
		reason = fmt.Sprintf("multi-owner draw exhausted after %d attempts", d.attempts)
	}

	d := e.drawFrom(e.pool)
	if d.ok {
		return Pick{Item: internal.Item{ID: d.id}, Source: SourceFullPool, Attempts: d.attempts, FallbackReason: reason}, nil
	}

	// Random rejection failed; walk the pool for whatever is still unused.
	unused := make([]string, 0, len(e.pool))
	for _, id := range e.pool {
		if !e.isUsed(id) {
			unused = append(unused, id)
		}
	}
	if len(unused) == 0 {
		return Pick{}, ErrSelectionExhausted
	}
	return Pick{
		Item:           internal.Item{ID: unused[e.rng.IntN(len(unused))]},
		Source:         SourceScan,
		Attempts:       d.attempts,
		FallbackReason: fmt.Sprintf("full pool draw exhausted after %d attempts", d.attempts),
	}, nil
}

func (e *Engine) drawFrom(ids []string) draw {
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		id := ids[e.rng.IntN(len(ids))]
		if !e.isUsed(id) {
			return draw{id: id, attempts: attempt, ok: true}
		}
	}
	return draw{attempts: e.maxAttempts}
}

func (e *Engine) markPicked(id string) {
	e.picked[id] = struct{}{}
	e.used.Add(id)
	if i := slices.Index(e.multiOwner, id); i >= 0 {
		e.multiOwner = slices.Delete(e.multiOwner, i, i+1)
	}
}

func (e *Engine) isUsed(id string) bool {
	if _, ok := e.picked[id]; ok {
		return true
	}
	return e.used.Contains(id)
}

func (e *Engine) PoolSize() int {
	return len(e.pool)
}

func (e *Engine) MultiOwnerSize() int {
	return len(e.multiOwner)
}

// Owners returns the sorted player ids that contributed id.
func (e *Engine) Owners(id string) []string {
	owners := make([]string, 0, len(e.ownership[id]))
	for p := range e.ownership[id] {
		owners = append(owners, p)
	}
	slices.Sort(owners)
	return owners
}
