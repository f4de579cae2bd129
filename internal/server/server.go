package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/game"
	"github.com/scythe504/whosetrack-backend/internal/websocket"
)

// MatchHistory lists finished matches, newest first.
type MatchHistory interface {
	RecentMatches(ctx context.Context, limit int) ([]internal.FinalStandings, error)
}

type Server struct {
	port     int
	registry *game.Registry
	hubs     *websocket.Hubs
	history  MatchHistory
}

type Config struct {
	Bind     string
	Port     int
	Registry *game.Registry
	// History is optional; /matches answers 404 without it.
	History MatchHistory
}

func NewServer(cfg Config) *http.Server {
	s := &Server{
		port:     cfg.Port,
		registry: cfg.Registry,
		hubs:     websocket.NewHubs(),
		history:  cfg.History,
	}

	return &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Bind, s.port),
		Handler:     s.RegisterRoutes(),
		IdleTimeout: time.Minute,
		ReadTimeout: 10 * time.Second,
	}
}
