package game

import (
	"context"
	"log"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/tracks"
	"github.com/scythe504/whosetrack-backend/internal/utils"
)

// =============================================================================
// SESSION REGISTRY
// =============================================================================

const sessionCodeLength = 6

type RegistryConfig struct {
	Options Options
	Used    *tracks.UsedSet
	Tracer  trace.Tracer
	// NewRand seeds each session's track engine. Nil uses a time seed.
	NewRand func() *rand.Rand
	// OnCreate runs for every new host before it accepts messages.
	OnCreate func(*Host)
}

// Registry holds every live session in the process.
type Registry struct {
	ctx   context.Context
	cfg   RegistryConfig
	mu    sync.RWMutex
	hosts map[string]*Host
}

func NewRegistry(ctx context.Context, cfg RegistryConfig) *Registry {
	if cfg.Used == nil {
		cfg.Used = tracks.NewUsedSet(0)
	}
	return &Registry{ctx: ctx, cfg: cfg, hosts: make(map[string]*Host)}
}

// Create starts a new session host with its own catalog and track engine.
func (r *Registry) Create(cfg internal.GameConfig) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog := tracks.NewMemoryCatalog()
	var rng *rand.Rand
	if r.cfg.NewRand != nil {
		rng = r.cfg.NewRand()
	}
	engine := tracks.NewEngine(catalog, r.cfg.Used, tracks.Options{Rand: rng})

	r.mu.Lock()
	id := r.newSessionIDLocked()
	host := NewHost(id, r.cfg.Options, cfg, Deps{
		Engine:  engine,
		Catalog: catalog,
		Tracer:  r.cfg.Tracer,
	})
	r.hosts[id] = host
	r.mu.Unlock()

	if r.cfg.OnCreate != nil {
		r.cfg.OnCreate(host)
	}
	go host.Run(r.ctx)

	log.Printf("[Registry.Create] session=%s created (%d live)", id, r.Len())
	return host, nil
}

func (r *Registry) newSessionIDLocked() string {
	for {
		id := utils.GenerateID(sessionCodeLength)
		if _, exists := r.hosts[id]; !exists {
			return id
		}
	}
}

func (r *Registry) Get(id string) (*Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[id]
	return h, ok
}

// Joinable returns the id of a session still gathering players, if any.
func (r *Registry) Joinable() (string, bool) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.hosts))
	for id := range r.hosts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		h, ok := r.Get(id)
		if !ok {
			continue
		}
		st := h.Status()
		if st.State == internal.StateLoadingRoster && st.Joinable {
			log.Printf("[Registry.Joinable] found session=%s with %d players", id, st.Players)
			return id, true
		}
	}
	log.Println("[Registry.Joinable] no joinable session found")
	return "", false
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	h, ok := r.hosts[id]
	delete(r.hosts, id)
	r.mu.Unlock()
	if ok {
		h.Close()
		log.Printf("[Registry.Remove] session=%s removed", id)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

// Reap closes sessions with nobody connected that have been idle longer
// than idle.
func (r *Registry) Reap(idle time.Duration) []string {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	var reaped []string
	for id, h := range r.hosts {
		st := h.Status()
		if st.Connected == 0 && st.LastActive.Before(cutoff) {
			delete(r.hosts, id)
			h.Close()
			reaped = append(reaped, id)
		}
	}
	r.mu.Unlock()

	slices.Sort(reaped)
	if len(reaped) > 0 {
		log.Printf("[Registry.Reap] reaped %d idle sessions: %v", len(reaped), reaped)
	}
	return reaped
}

// ReaperLoop calls Reap every idle/2 until ctx is done.
func (r *Registry) ReaperLoop(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(idle)
		}
	}
}

// Close shuts down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.hosts {
		h.Close()
		delete(r.hosts, id)
	}
}
