package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/bot"
	"github.com/scythe504/whosetrack-backend/internal/library"
	"github.com/scythe504/whosetrack-backend/internal/utils"
)

const releaseVersion = "0.1.0"

type Config struct {
	cacheDir     string
	cacheRefresh time.Duration
	explicit     bool
	libraryDir   string
	name         string
	playerID     string
	refresh      bool
	replay       bool
	server       string
	session      string
	timeRange    string
	waitFor      int
}

func (c *Config) validate() error {
	if c.session == "" {
		return errors.New("--session is required")
	}
	if c.libraryDir == "" {
		return errors.New("--library-dir is required")
	}
	switch internal.TimeRange(c.timeRange) {
	case internal.TimeRangeShort, internal.TimeRangeMedium, internal.TimeRangeLong:
	default:
		return fmt.Errorf("invalid time range: %q", c.timeRange)
	}
	return nil
}

// joinURL builds the websocket address for the configured session.
func (c *Config) joinURL() (string, error) {
	u, err := url.Parse(c.server)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + utils.NormalizeCode(c.session)
	q := u.Query()
	q.Set("player_id", c.playerID)
	q.Set("name", c.name)
	q.Set("explicit", fmt.Sprintf("%t", c.explicit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// cacheKeys lists the cache entries play reads.
func (c *Config) cacheKeys() []string {
	return []string{
		library.CacheKey(library.OriginLiked, ""),
		library.CacheKey(library.OriginTop, internal.TimeRange(c.timeRange)),
		library.CacheKey(library.OriginCollections, ""),
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("could not load .env: %v", err)
	}
	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("WHOSETRACK_PLAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "whosetrack-player",
		Short:         "Joins a session as a headless player backed by a local CSV library.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return play(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.cacheDir, "cache-dir", ".whosetrack-cache", "where fetched library origins are cached (env: WHOSETRACK_PLAYER_CACHE_DIR)")
	fs.DurationVar(&cfg.cacheRefresh, "cache-refresh", library.DefaultRefreshInterval, "age after which a cached origin is refetched (env: WHOSETRACK_PLAYER_CACHE_REFRESH)")
	fs.BoolVar(&cfg.explicit, "explicit", false, "allow explicit tracks (env: WHOSETRACK_PLAYER_EXPLICIT)")
	fs.StringVar(&cfg.libraryDir, "library-dir", "", "directory holding liked.csv, top_<range>.csv and collections.csv (env: WHOSETRACK_PLAYER_LIBRARY_DIR)")
	fs.StringVarP(&cfg.name, "name", "n", "Bot", "display name (env: WHOSETRACK_PLAYER_NAME)")
	fs.StringVar(&cfg.playerID, "player-id", utils.NewPlayerID(), "stable player id, reuse to reconnect (env: WHOSETRACK_PLAYER_PLAYER_ID)")
	fs.BoolVar(&cfg.refresh, "refresh", false, "drop cached origins and refetch them (env: WHOSETRACK_PLAYER_REFRESH)")
	fs.BoolVar(&cfg.replay, "replay", false, "ready up for a new game when one ends (env: WHOSETRACK_PLAYER_REPLAY)")
	fs.StringVarP(&cfg.server, "server", "s", "ws://localhost:8080", "server websocket base url (env: WHOSETRACK_PLAYER_SERVER)")
	fs.StringVar(&cfg.session, "session", "", "session code to join (env: WHOSETRACK_PLAYER_SESSION)")
	fs.StringVar(&cfg.timeRange, "time-range", string(internal.TimeRangeMedium), "top tracks time range: short, medium or long (env: WHOSETRACK_PLAYER_TIME_RANGE)")
	fs.IntVar(&cfg.waitFor, "wait-for", 2, "players needed in the roster before readying up (env: WHOSETRACK_PLAYER_WAIT_FOR)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("whosetrack-player v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func play(ctx context.Context, cfg *Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gameCfg := internal.GameConfig{
		UseLikedItems:           true,
		UseTopItems:             true,
		TopItemsTimeRange:       internal.TimeRange(cfg.timeRange),
		UseItemsFromCollections: true,
	}
	cache := library.NewCache(cfg.cacheDir, cfg.cacheRefresh)
	if cfg.refresh {
		for _, key := range cfg.cacheKeys() {
			if err := cache.Invalidate(key); err != nil {
				return fmt.Errorf("refresh %s: %w", key, err)
			}
		}
	}
	lib, err := cache.Build(ctx, gameCfg, library.DirFetcher(cfg.libraryDir))
	if err != nil {
		return err
	}
	log.Printf("library loaded: %d tracks", len(library.All(lib)))

	target, err := cfg.joinURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	b := bot.New(lib, bot.Options{PlayerID: cfg.playerID, WaitFor: cfg.waitFor, Replay: cfg.replay})
	err = b.Run(ctx, conn)
	if errors.Is(err, bot.ErrGameOver) || errors.Is(err, context.Canceled) {
		log.Println("done")
		return nil
	}
	return err
}
