package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/focus"
	"github.com/hammamikhairi/ttsplay/internal/gain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
	"github.com/hammamikhairi/ttsplay/internal/repl"
	"github.com/hammamikhairi/ttsplay/internal/speech"
	"github.com/hammamikhairi/ttsplay/internal/synth"
)

const defaultHistoryLines = 10

// cliApp runs the interactive prompt.
type cliApp struct {
	sp       *speech.Speaker
	arb      *focus.Arbiter
	parser   *repl.Parser
	notifier *repl.Notifier
	opts     domain.Options
	log      *logger.Logger
}

func newApp(sp *speech.Speaker, arb *focus.Arbiter, n *repl.Notifier, opts domain.Options, log *logger.Logger) *cliApp {
	return &cliApp{
		sp:       sp,
		arb:      arb,
		parser:   repl.NewParser(log),
		notifier: n,
		opts:     opts,
		log:      log,
	}
}

// run reads lines until input closes, ctx ends or the user quits.
func (a *cliApp) run(ctx context.Context, input <-chan string) {
	if err := a.sp.Ready(ctx); err != nil {
		a.notifier.NotifyUrgent(fmt.Sprintf("engine %s is not ready: %v", a.sp.Engine().Name, err))
		a.notifier.Hint("switch with /engine <name>")
	}
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return
		case line, ok = <-input:
			if !ok {
				return
			}
		}

		cmd := a.parser.Parse(line)
		a.log.Debug("command: %s (arg=%q)", cmd.Type, cmd.Arg)
		if quit := a.handle(ctx, cmd); quit {
			return
		}
	}
}

// handle executes one command. Reports whether the prompt should exit.
func (a *cliApp) handle(ctx context.Context, cmd repl.Command) bool {
	switch cmd.Type {
	case repl.Say:
		a.say(ctx, cmd.Arg, a.opts)
	case repl.Stop:
		if !a.sp.Stop() {
			a.notifier.NotifyUrgent("engine refused to stop")
		}
	case repl.Engine:
		a.engine(ctx, cmd.Arg)
	case repl.Voice:
		a.voice(cmd.Arg)
	case repl.Duck:
		if on, ok := a.toggle(cmd); ok {
			a.sp.SetDucking(on)
			a.notifier.Notify("ducking " + cmd.Arg)
		}
	case repl.Focus:
		if on, ok := a.toggle(cmd); ok {
			a.sp.SetAudioFocus(on)
			a.notifier.Notify("audio focus " + cmd.Arg)
		}
	case repl.Gain:
		a.gain()
	case repl.History:
		a.history(ctx, cmd.Arg)
	case repl.Repeat:
		a.repeat(ctx, cmd.Arg)
	case repl.Hash:
		a.notifier.Notify(domain.UtteranceID(cmd.Arg))
	case repl.Preempt:
		a.preempt(cmd.Arg)
	case repl.Music:
		if on, ok := a.toggle(cmd); ok {
			a.arb.SetMusicActive(on)
			a.notifier.Notify("other audio " + map[bool]string{true: "playing", false: "silent"}[on])
		}
	case repl.Block:
		a.block(cmd.Arg)
	case repl.Status:
		a.status()
	case repl.Help:
		a.notifier.Hint(repl.Usage)
	case repl.Quit:
		a.sp.Stop()
		return true
	case repl.Unknown:
		if cmd.Arg != "" {
			a.notifier.NotifyUrgent(fmt.Sprintf("unknown command %q, try /help", cmd.Arg))
		}
	}
	return false
}

// say queues text without blocking the prompt and reports failures when
// the utterance ends.
func (a *cliApp) say(ctx context.Context, text string, opts domain.Options) {
	a.notifier.Expect(domain.UtteranceID(text), text)
	id, done, err := a.sp.SpeakAsync(ctx, text, opts)
	if err != nil {
		a.notifier.NotifyUrgent(describe(id, err))
		return
	}
	go func() {
		if err := <-done; err != nil {
			a.notifier.NotifyUrgent(describe(id, err))
		}
	}()
}

func describe(id string, err error) string {
	switch {
	case errors.Is(err, domain.ErrEngineBusy):
		return "already speaking that"
	case errors.Is(err, domain.ErrQueueFull):
		return "too many utterances queued, try /stop"
	case errors.Is(err, domain.ErrFocusDenied):
		return "audio focus denied, nothing was spoken"
	case errors.Is(err, context.Canceled):
		return id + " cancelled"
	}
	return err.Error()
}

func (a *cliApp) engine(ctx context.Context, name string) {
	if name == "" {
		current := a.sp.Engine().Name
		for _, info := range synth.List() {
			mark := "  "
			if info.Name == current {
				mark = "* "
			}
			a.notifier.Hint(mark + info.Name + "  " + info.Label)
		}
		return
	}
	if err := a.sp.SetEngine(ctx, name); err != nil {
		a.notifier.NotifyUrgent(fmt.Sprintf("switching to %s: %v", name, err))
		return
	}
	a.notifier.Notify("engine set to " + a.sp.Engine().Name)
}

func (a *cliApp) voice(id string) {
	if id == "" {
		voices := a.sp.Voices()
		if len(voices) == 0 {
			a.notifier.Hint("this engine has no selectable voices")
			return
		}
		for _, v := range voices {
			a.notifier.Hint(fmt.Sprintf("%-24s %-10s %s", v.ID, v.Language, v.Name))
		}
		return
	}
	if err := a.sp.SetVoice(id); err != nil {
		a.notifier.NotifyUrgent(err.Error())
		return
	}
	a.notifier.Notify("voice set to " + id)
}

func (a *cliApp) toggle(cmd repl.Command) (on, ok bool) {
	switch cmd.Arg {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	a.notifier.Hint(fmt.Sprintf("usage: /%s on|off", cmd.Type))
	return false, false
}

func (a *cliApp) gain() {
	g := a.sp.Gain()
	a.notifier.Notify(fmt.Sprintf("gain %+.2f dB (range %+.2f to %+.2f dB)",
		gain.ToDB(g.Current), gain.ToDB(g.Min), gain.ToDB(g.Max)))
	a.notifier.Hint(fmt.Sprintf("last utterance: peak %d, %d samples, %d clipped", g.Peak, g.Samples, g.Clipped))
}

func (a *cliApp) history(ctx context.Context, arg string) {
	n := defaultHistoryLines
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			a.notifier.Hint("usage: /history [n]")
			return
		}
		n = v
	}
	recs, err := a.sp.History().Recent(ctx, n)
	if err != nil {
		a.notifier.NotifyUrgent(err.Error())
		return
	}
	if len(recs) == 0 {
		a.notifier.Hint("nothing spoken yet")
		return
	}
	for _, r := range recs {
		line := fmt.Sprintf("%12s  %-12s %-6s %s", r.ID, r.Outcome, r.Engine, truncate(r.Text, 48))
		if r.Err != "" {
			line += "  (" + r.Err + ")"
		}
		a.notifier.Hint(line)
	}
}

func (a *cliApp) repeat(ctx context.Context, id string) {
	var rec *domain.Record
	if id == "" {
		recs, err := a.sp.History().Recent(ctx, 1)
		if err != nil || len(recs) == 0 {
			a.notifier.Hint("nothing to repeat")
			return
		}
		rec = recs[0]
	} else {
		r, err := a.sp.History().Load(ctx, id)
		if err != nil {
			a.notifier.NotifyUrgent(fmt.Sprintf("no utterance %s in the history", id))
			return
		}
		rec = r
	}
	a.say(ctx, rec.Text, rec.Options)
}

var lossKinds = map[string]domain.FocusChange{
	"":          domain.FocusLoss,
	"loss":      domain.FocusLoss,
	"transient": domain.FocusLossTransient,
	"duck":      domain.FocusLossTransientCanDuck,
}

func (a *cliApp) preempt(kind string) {
	change, ok := lossKinds[kind]
	if !ok {
		a.notifier.Hint("usage: /preempt [loss|transient|duck]")
		return
	}
	if !a.arb.Preempt(change) {
		a.notifier.Hint("no focus grant is held")
		return
	}
	a.notifier.Notify("focus preempted (" + change.String() + ")")
}

func (a *cliApp) block(arg string) {
	switch arg {
	case "failed":
		a.arb.Block(domain.FocusFailed)
	case "delayed":
		a.arb.Block(domain.FocusDelayed)
	case "off":
		a.arb.Block(domain.FocusNone)
	default:
		a.notifier.Hint("usage: /block failed|delayed|off")
		return
	}
	a.notifier.Notify("focus requests: " + arg)
}

func (a *cliApp) status() {
	st := status(a.sp)
	state := "idle"
	if st.Speaking {
		state = "speaking " + st.PlayingID
	}
	a.notifier.Notify(fmt.Sprintf("%s, engine %s, focus %s, gain %+.2f dB, %d queued",
		state, st.Engine, st.Focus, st.GainDB, st.Queue))
}

// truncate shortens a string for display.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.TrimSpace(s[:maxLen-3]) + "..."
}
