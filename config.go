package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable of the game server. Defaults mirror the
// timers and budgets fixed by the spec (§5 Cancellation and timeouts);
// flags only exist so an operator can tighten them for testing.
type Config struct {
	bind    string
	port    int
	prefix  string
	profile bool
	tlsCert string
	tlsKey  string
	verbose bool
	version bool

	dbPath string

	spectatorCap        int
	abandonTimeout      time.Duration
	heartbeatInterval   time.Duration
	heartbeatSilence    time.Duration
	clockTickInterval   time.Duration
	lobbyTimeout        time.Duration
	queueTTL            time.Duration
	pendingMatchTTL     time.Duration
	matchmakerTick      time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.spectatorCap < 0 {
		return errors.New("spectator cap cannot be negative")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CHESSROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "chessroom...",
		Short:         "Authoritative real-time game server for a chess platform.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: CHESSROOM_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: CHESSROOM_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: CHESSROOM_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: CHESSROOM_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: CHESSROOM_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: CHESSROOM_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: CHESSROOM_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: CHESSROOM_VERSION)")

	fs.StringVar(&cfg.dbPath, "snapshot-db", "chessroom.sqlite", "path to the sqlite actor-snapshot database (env: CHESSROOM_SNAPSHOT_DB)")

	fs.IntVar(&cfg.spectatorCap, "spectator-cap", 50, "maximum spectators per game room (env: CHESSROOM_SPECTATOR_CAP)")
	fs.DurationVar(&cfg.abandonTimeout, "abandon-timeout", 60*time.Second, "grace period before a disconnected player forfeits (env: CHESSROOM_ABANDON_TIMEOUT)")
	fs.DurationVar(&cfg.heartbeatInterval, "heartbeat-interval", 10*time.Second, "ping cadence for connected players (env: CHESSROOM_HEARTBEAT_INTERVAL)")
	fs.DurationVar(&cfg.heartbeatSilence, "heartbeat-silence", 30*time.Second, "max silence before a connection is force-closed (env: CHESSROOM_HEARTBEAT_SILENCE)")
	fs.DurationVar(&cfg.clockTickInterval, "clock-tick-interval", 100*time.Millisecond, "clock tick cadence while a game is playing (env: CHESSROOM_CLOCK_TICK_INTERVAL)")
	fs.DurationVar(&cfg.lobbyTimeout, "lobby-timeout", 5*time.Minute, "time before an unmatched lobby is cancelled (env: CHESSROOM_LOBBY_TIMEOUT)")
	fs.DurationVar(&cfg.queueTTL, "queue-ttl", 30*time.Second, "time before a matchmaking queue entry expires (env: CHESSROOM_QUEUE_TTL)")
	fs.DurationVar(&cfg.pendingMatchTTL, "pending-match-ttl", 60*time.Second, "time before an undelivered pending match is discarded (env: CHESSROOM_PENDING_MATCH_TTL)")
	fs.DurationVar(&cfg.matchmakerTick, "matchmaker-tick", 1*time.Second, "how often the matchmaker prunes expired entries (env: CHESSROOM_MATCHMAKER_TICK)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("chessroom v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
