// Command tutorvox is a terminal voice client for the AI teacher services.
//
// It streams microphone audio to the speech recognition host, sends typed
// turns to the orchestrator and speaks every answer through the synthesis
// host, falling back to a local synthesizer when that fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/tutorvox/internal/app"
	"github.com/MrWong99/tutorvox/internal/config"
	"github.com/MrWong99/tutorvox/internal/health"
	"github.com/MrWong99/tutorvox/internal/observe"
	"github.com/MrWong99/tutorvox/internal/render"
	"github.com/MrWong99/tutorvox/internal/session"
	"github.com/MrWong99/tutorvox/pkg/audio/command"
	"github.com/MrWong99/tutorvox/pkg/provider/tts"
	"github.com/MrWong99/tutorvox/pkg/provider/tts/local"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tutorvox: %v\n", err)
		return 1
	}
	return 0
}

// cli holds state shared by all subcommands.
type cli struct {
	configPath string
	envPath    string
	cfg        *config.Config
	level      *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	c := &cli{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "tutorvox",
		Short:         "Talk to the AI teacher from a terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runSession(cmd.OutOrStdout(), cmd.InOrStdin())
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "tutorvox.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&c.envPath, "env-file", ".env", "path to an optional .env file")

	root.AddCommand(c.runCmd(), c.healthCmd(), c.voicesCmd())
	return root
}

// load reads .env and the config file and installs the logger.
func (c *cli) load() error {
	if err := config.LoadDotEnv(c.envPath); err != nil {
		return err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	c.level.Set(slogLevel(cfg.Log.Level))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.level})))
	return nil
}

// ── run ─────────────────────────────────────────────────────────────────────

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a tutoring session (the default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runSession(cmd.OutOrStdout(), cmd.InOrStdin())
		},
	}
}

func (c *cli) runSession(out io.Writer, in io.Reader) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := session.NewID()
	slog.Info("tutorvox starting",
		"config", c.configPath,
		"session_id", sessionID,
		"log_level", c.cfg.Log.Level,
	)

	// ── Telemetry ────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SessionID:      sessionID,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(c.cfg,
		app.WithSessionID(sessionID),
		app.WithHooks(render.NewTerminal(out)),
		app.WithInput(in),
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler),
	)
	if err != nil {
		return err
	}

	// ── Config hot reload ────────────────────────────────────────────────
	if _, statErr := os.Stat(c.configPath); statErr == nil {
		w, err := config.NewWatcher(c.configPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				c.level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.Reconfigure(d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go w.Run(ctx)
		}
	}

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// ── health ──────────────────────────────────────────────────────────────────

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the speech recognition, orchestrator and synthesis hosts once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.checkHealth(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// checkHealth probes every host once, renders the table and fails when any
// host is not healthy.
func (c *cli) checkHealth(ctx context.Context, out io.Writer) error {
	p := health.NewPoller(
		health.DefaultServices(c.cfg.Endpoints.Stream, c.cfg.Endpoints.Chat, c.cfg.Endpoints.TTS),
		health.WithTimeout(c.cfg.Health.Timeout),
	)
	results := p.Check(ctx)
	render.NewTerminal(out).Health(results)

	failed := 0
	for _, r := range results {
		if r.Status != health.StatusHealthy {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d services not healthy", failed, len(results))
	}
	return nil
}

// ── voices ──────────────────────────────────────────────────────────────────

func (c *cli) voicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices of the local synthesizer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := local.New(command.NewPlayer(c.cfg.Audio.PlayerCommand),
				local.WithCommand(c.cfg.Speech.Local.Command),
				local.WithVoice(c.cfg.Speech.Local.Voice),
			)
			if err != nil {
				return err
			}
			return listVoices(cmd.Context(), cmd.OutOrStdout(), p, c.cfg.Speech.Local.Voice)
		},
	}
}

// voiceLister is the part of the local synthesizer listVoices needs.
type voiceLister interface {
	Voices(ctx context.Context) ([]tts.Voice, error)
}

// listVoices prints one voice per line. The voice used for speaking is
// marked with "*": the configured one, else the first English voice.
func listVoices(ctx context.Context, out io.Writer, l voiceLister, configured string) error {
	voices, err := l.Voices(ctx)
	if err != nil {
		return err
	}
	preferred := configured
	if preferred == "" {
		for _, v := range voices {
			if v.IsEnglish() {
				preferred = v.ID
				break
			}
		}
	}
	for _, v := range voices {
		mark := " "
		if v.ID == preferred {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %-24s %-10s %s\n", mark, v.ID, v.Language, v.Name)
	}
	return nil
}

// ── Logger ──────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
