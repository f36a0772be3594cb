// ttsplay speaks text through a pluggable speech engine, one utterance at
// a time, with audio focus and adaptive gain.
//
// Usage:
//
//	ttsplay [flags] [text...]
//	ttsplay engines
//	ttsplay voices
//	ttsplay hash text...
//
// With text it speaks once and exits; without, it opens a prompt.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hammamikhairi/ttsplay/internal/config"
	"github.com/hammamikhairi/ttsplay/internal/device/otoplayer"
	"github.com/hammamikhairi/ttsplay/internal/display"
	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/focus"
	"github.com/hammamikhairi/ttsplay/internal/gain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
	"github.com/hammamikhairi/ttsplay/internal/metrics"
	"github.com/hammamikhairi/ttsplay/internal/repl"
	"github.com/hammamikhairi/ttsplay/internal/speech"
	"github.com/hammamikhairi/ttsplay/internal/storage"
	"github.com/hammamikhairi/ttsplay/internal/synth"
)

const shutdownTimeout = 5 * time.Second

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ttsplay [text...]",
		Short: "Speak text one utterance at a time",
		Long: `ttsplay plays text-to-speech through a pluggable engine, coordinating
the audio device, audio focus and an adaptive gain stage.

With text arguments it speaks once and exits. Without, it opens an
interactive prompt; type /help there for commands.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args)
		},
	}
	config.BindFlags(root.PersistentFlags())
	root.AddCommand(newEnginesCmd(), newVoicesCmd(), newHashCmd())
	return root
}

func newEnginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the registered speech engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			printEngines(cmd.OutOrStdout(), cfg.EngineName())
			return nil
		},
	}
}

func newVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices of the configured engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			log := logger.New(logger.LevelOff, nil)
			eng, info, err := synth.New(cfg.EngineName(), cfg.EngineConfig(), log)
			if err != nil {
				return err
			}
			defer eng.Shutdown()
			vs, ok := eng.(domain.VoiceSetter)
			if !ok {
				return fmt.Errorf("engine %s has no selectable voices", info.Name)
			}
			printVoices(cmd.OutOrStdout(), vs.Voices(), cfg.Voice)
			return nil
		},
	}
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash text...",
		Short: "Print the utterance id for text",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), domain.UtteranceID(strings.Join(args, " ")))
		},
	}
}

func printEngines(w io.Writer, current string) {
	for _, info := range synth.List() {
		mark := " "
		if info.Name == current {
			mark = "*"
		}
		var tags []string
		if info.BoostedGain {
			tags = append(tags, "boosted gain")
		}
		if info.RequiresNetwork {
			tags = append(tags, "network")
		}
		line := fmt.Sprintf("%s %-8s %s", mark, info.Name, info.Label)
		if len(tags) > 0 {
			line += " (" + strings.Join(tags, ", ") + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func printVoices(w io.Writer, voices []domain.Voice, current string) {
	for _, v := range voices {
		if v.ID == "" {
			continue
		}
		mark := " "
		if v.ID == current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-24s %-10s %s\n", mark, v.ID, v.Language, v.Name)
	}
}

// openLog directs logs to a file by default so the prompt stays clean.
func openLog(cfg *config.Config) (*logger.Logger, func()) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" && cfg.LogFile != "stderr" {
		if dir := filepath.Dir(cfg.LogFile); dir != "" && dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v (falling back to stderr)\n", cfg.LogFile, err)
		} else {
			out = f
			closeFn = func() { f.Close() }
		}
	}
	return logger.New(cfg.Level(), out), closeFn
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	log, closeLog := openLog(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := cfg.EngineName()
	eng, info, err := synth.New(name, cfg.EngineConfig(), log.With(name))
	if err != nil {
		return err
	}

	interactive := len(args) == 0 && display.IsInteractive()
	var ui *display.UI
	printFn := func(format string, a ...interface{}) {
		fmt.Fprintf(cmd.OutOrStdout(), format+"\n", a...)
	}
	if interactive {
		ui = display.NewUI(nil)
		printFn = ui.Printf
	}
	notifier := repl.NewNotifier(log.With("notify"), printFn, cfg.Progress)

	arb := focus.NewArbiter(log.With("arbiter"))
	history := storage.NewMemoryStore(cfg.HistorySize, log.With("history"))
	opts := []speech.SpeakerOption{
		speech.WithQueueDepth(cfg.QueueDepth),
		speech.WithAudioFocus(cfg.AudioFocus),
		speech.WithDuckSettle(cfg.DuckSettle),
		speech.WithEngineConfig(cfg.EngineConfig()),
		speech.WithHistory(history),
		speech.WithEventSink(notifier.Event),
	}
	var prom *metrics.Prometheus
	if cfg.MetricsAddr != "" {
		prom = metrics.NewPrometheus()
		opts = append(opts, speech.WithRecorder(prom))
	}

	sp := speech.New(eng, otoplayer.New(log.With("oto")), arb, log.With("speech"), opts...)
	sp.SetDucking(cfg.Ducking)
	log.Info("engine %s (%s)", info.Name, info.Label)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sp.Start(ctx)
	defer sp.Close()

	if len(args) > 0 {
		return speakOnce(ctx, sp, notifier, strings.Join(args, " "), cfg.Options())
	}

	g, gctx := errgroup.WithContext(ctx)
	if prom != nil {
		serveMetrics(gctx, g, metrics.NewServer(cfg.MetricsAddr, prom), log)
	}

	app := newApp(sp, arb, notifier, cfg.Options(), log.With("repl"))
	if !interactive {
		g.Go(func() error {
			defer cancel()
			app.run(gctx, display.ReadLines(gctx, os.Stdin))
			return nil
		})
		return g.Wait()
	}

	ui.SetStatus(func() display.Status { return status(sp) })
	fmt.Println(display.RenderBanner())
	fmt.Println(display.BannerStyle.Render("  Type text to speak it, /help for commands, /quit to exit."))
	fmt.Println()

	g.Go(func() error {
		defer cancel()
		if !ui.WaitReady(gctx) {
			return nil
		}
		app.run(gctx, ui.InputChan())
		ui.Quit()
		return nil
	})

	// Bubble Tea owns the terminal; blocks until quit.
	if err := ui.Run(); err != nil {
		log.Error("display: %v", err)
	}
	cancel()
	return g.Wait()
}

func speakOnce(ctx context.Context, sp *speech.Speaker, n *repl.Notifier, text string, opts domain.Options) error {
	if err := sp.Ready(ctx); err != nil {
		return err
	}
	n.Expect(domain.UtteranceID(text), text)
	_, err := sp.Speak(ctx, text, opts)
	return err
}

func serveMetrics(ctx context.Context, g *errgroup.Group, srv *metrics.Server, log *logger.Logger) {
	g.Go(func() error {
		log.Info("serving metrics on %s", srv.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func status(sp *speech.Speaker) display.Status {
	return display.Status{
		Engine:    sp.Engine().Name,
		Speaking:  sp.IsSpeaking(),
		PlayingID: sp.PlayingID(),
		GainDB:    gain.ToDB(sp.Gain().Current),
		Focus:     sp.Focus().State().String(),
		Queue:     sp.QueueLen(),
	}
}
