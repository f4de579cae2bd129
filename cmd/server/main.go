package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scythe504/whosetrack-backend/internal/game"
	"github.com/scythe504/whosetrack-backend/internal/server"
	"github.com/scythe504/whosetrack-backend/internal/storage"
	"github.com/scythe504/whosetrack-backend/internal/telemetry"
	"github.com/scythe504/whosetrack-backend/internal/tracks"
)

const (
	releaseVersion  = "0.1.0"
	serviceName     = "whosetrack-server"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("could not load .env: %v", err)
	}
	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg, serve).Execute())
}

func serve(ctx context.Context, cfg *Config) error {
	if cfg.verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.otelEndpoint, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	used := tracks.NewUsedSet(cfg.usedRetention)
	regCfg := game.RegistryConfig{Options: cfg.gameOptions(), Used: used}
	srvCfg := server.Config{Bind: cfg.bind, Port: cfg.port}

	store, err := storage.Open(ctx, cfg.databaseURL)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		log.Println("no database configured, used tracks and matches stay in memory")
	case err != nil:
		return err
	default:
		defer store.Close()
		if err := restoreUsedTracks(ctx, store, used); err != nil {
			return err
		}
		recorder := storage.NewRecorder(store)
		regCfg.OnCreate = func(h *game.Host) { recorder.Attach(h) }
		srvCfg.History = store
	}

	reg := game.NewRegistry(ctx, regCfg)
	defer reg.Close()
	go reg.ReaperLoop(ctx, cfg.sessionTimeout)

	srvCfg.Registry = reg
	srv := server.NewServer(srvCfg)

	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// restoreUsedTracks drops rotation entries past the retention window and
// loads the rest into used.
func restoreUsedTracks(ctx context.Context, store *storage.Store, used *tracks.UsedSet) error {
	since := time.Time{}
	if r := used.Retention(); r > 0 {
		since = time.Now().Add(-r)
		pruned, err := store.PruneUsedTracks(ctx, since)
		if err != nil {
			return err
		}
		log.Printf("pruned %d used tracks older than %s", pruned, r)
	}

	entries, err := store.LoadUsedTracks(ctx, since)
	if err != nil {
		return err
	}
	used.Restore(entries)
	log.Printf("restored %d used tracks", len(entries))
	return nil
}
