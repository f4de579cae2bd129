package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/game"
	"github.com/scythe504/whosetrack-backend/internal/utils"
	"github.com/scythe504/whosetrack-backend/internal/websocket"
)

const (
	qrSize              = 320
	defaultMatchesLimit = 20
	maxMatchesLimit     = 100
)

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/", s.HelloWorldHandler)
	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)

	r.HandleFunc("/sessions", s.CreateSession).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/sessions-available", s.GetSessionToJoin).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{sessionId}", s.GetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{sessionId}/qr", s.SessionQR).Methods(http.MethodGet)
	r.HandleFunc("/matches", s.RecentMatches).Methods(http.MethodGet)

	r.HandleFunc("/ws/{sessionId}", websocket.HandleWebSocket(s.registry, s.hubs))

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS Headers
		w.Header().Set("Access-Control-Allow-Origin", "*") // Wildcard allows all origins
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false") // Credentials not allowed with wildcard origins

		// If it's a websocket upgrade, skip further CORS checks
		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	resp := make(map[string]string)
	resp["message"] = "Hello World"

	jsonResp, err := json.Marshal(resp)
	if err != nil {
		log.Printf("error handling JSON marshal. Err: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	_, _ = w.Write(jsonResp)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UnixMilli()
	writeResponse(w, start, http.StatusOK, map[string]int{"sessions": s.registry.Len()})
}

// CreateSession starts a new session. An empty body uses the default config.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UnixMilli()

	cfg := internal.DefaultGameConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		writeResponse(w, start, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}

	host, err := s.registry.Create(cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, game.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		writeResponse(w, start, status, err.Error())
		return
	}
	writeResponse(w, start, http.StatusCreated, map[string]string{"session_id": host.ID()})
}

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UnixMilli()

	host, ok := s.lookup(r)
	if !ok {
		writeResponse(w, start, http.StatusNotFound, "No such session")
		return
	}
	snap, err := host.Snapshot(r.Context())
	if err != nil {
		writeResponse(w, start, http.StatusGone, err.Error())
		return
	}
	writeResponse(w, start, http.StatusOK, snap)
}

func (s *Server) GetSessionToJoin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()

	if id, ok := s.registry.Joinable(); ok {
		// Found a joinable session - SUCCESS
		writeResponse(w, startTime, http.StatusOK, id)
		return
	}
	writeResponse(w, startTime, http.StatusNotFound, "No joinable sessions available")
}

// SessionQR renders a PNG QR code linking to the session's join URL.
func (s *Server) SessionQR(w http.ResponseWriter, r *http.Request) {
	host, ok := s.lookup(r)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	url := scheme + "://" + r.Host + "/sessions/" + host.ID()

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) RecentMatches(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UnixMilli()
	if s.history == nil {
		writeResponse(w, start, http.StatusNotFound, "Match history is not enabled")
		return
	}

	limit := defaultMatchesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeResponse(w, start, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMatchesLimit)
	}

	matches, err := s.history.RecentMatches(r.Context(), limit)
	if err != nil {
		log.Printf("[RecentMatches] %v", err)
		writeResponse(w, start, http.StatusInternalServerError, "could not load matches")
		return
	}
	writeResponse(w, start, http.StatusOK, matches)
}

func (s *Server) lookup(r *http.Request) (*game.Host, bool) {
	return s.registry.Get(utils.NormalizeCode(mux.Vars(r)["sessionId"]))
}

// writeResponse wraps data in the Response envelope with its timings.
func writeResponse(w http.ResponseWriter, startTime int64, status int, data any) {
	resp := internal.Response{
		StatusCode:    status,
		RespStartTime: startTime,
		Data:          data,
	}

	// Calculate response times
	endTime := time.Now().UnixMilli()
	resp.RespEndTime = endTime
	resp.NetRespTime = endTime - startTime

	// Set response headers
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	// Send JSON response
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
