package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/game"
)

type Config struct {
	ackTimeout     time.Duration
	bind           string
	databaseURL    string
	maxPlayers     int
	otelEndpoint   string
	port           int
	roundDuration  time.Duration
	sessionTimeout time.Duration
	usedRetention  time.Duration
	verbose        bool
	voteGrace      time.Duration
	winScore       int
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.roundDuration < 0 || c.ackTimeout < 0 || c.voteGrace < 0 {
		return errors.New("--round-duration, --ack-timeout and --vote-grace must not be negative")
	}
	if c.winScore < 0 {
		return fmt.Errorf("invalid win score: %d", c.winScore)
	}
	if c.maxPlayers < 2 {
		return fmt.Errorf("invalid max players (need at least 2): %d", c.maxPlayers)
	}
	return nil
}

func (c *Config) gameOptions() game.Options {
	return game.Options{
		RoundDuration: c.roundDuration,
		WinScore:      c.winScore,
		AckTimeout:    c.ackTimeout,
		VoteGrace:     c.voteGrace,
		MaxPlayers:    c.maxPlayers,
	}
}

func newCmd(cfg *Config, run func(context.Context, *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("WHOSETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "whosetrack-server",
		Short:         "Hosts multiplayer \"whose track is it\" guessing sessions over websockets.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.DurationVar(&cfg.ackTimeout, "ack-timeout", internal.DefaultAckTimeout, "how long to wait for ownership answers once voting closes (env: WHOSETRACK_ACK_TIMEOUT)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: WHOSETRACK_BIND)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres connection string; empty disables persistence (env: WHOSETRACK_DATABASE_URL)")
	fs.IntVar(&cfg.maxPlayers, "max-players", internal.MaxPlayersPerSession, "players allowed per session (env: WHOSETRACK_MAX_PLAYERS)")
	fs.StringVar(&cfg.otelEndpoint, "otel-endpoint", "", "OTLP/HTTP trace endpoint; empty disables tracing (env: WHOSETRACK_OTEL_ENDPOINT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: WHOSETRACK_PORT)")
	fs.DurationVar(&cfg.roundDuration, "round-duration", internal.DefaultRoundDuration, "voting window per round, 0 for untimed rounds (env: WHOSETRACK_ROUND_DURATION)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", time.Hour, "time before empty idle sessions are reaped (env: WHOSETRACK_SESSION_TIMEOUT)")
	fs.DurationVar(&cfg.usedRetention, "used-track-retention", 7*24*time.Hour, "how long a played track stays out of rotation (env: WHOSETRACK_USED_TRACK_RETENTION)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: WHOSETRACK_VERBOSE)")
	fs.DurationVar(&cfg.voteGrace, "vote-grace", internal.DefaultVoteGrace, "extra time given to players who have not voted (env: WHOSETRACK_VOTE_GRACE)")
	fs.IntVar(&cfg.winScore, "win-score", internal.DefaultWinScore, "score that ends the game, 0 to play on forever (env: WHOSETRACK_WIN_SCORE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("whosetrack-server v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
