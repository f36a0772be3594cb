// Package speech plays one utterance at a time through a speech engine,
// coordinating the output device, audio focus and adaptive gain.
package speech

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/focus"
	"github.com/hammamikhairi/ttsplay/internal/gain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
	"github.com/hammamikhairi/ttsplay/internal/metrics"
	"github.com/hammamikhairi/ttsplay/internal/synth"
)

// DefaultQueueDepth is how many speak requests may wait behind the one
// being spoken.
const DefaultQueueDepth = 16

// SpeakerOption configures the Speaker.
type SpeakerOption func(*settings)

type settings struct {
	queueDepth int
	rec        metrics.Recorder
	useFocus   bool
	settle     time.Duration
	sink       func(domain.Event)
	engineCfg  synth.Config
	history    domain.HistoryStore
}

// WithQueueDepth sets the pending request capacity. Requests beyond it fail
// with ErrQueueFull.
func WithQueueDepth(n int) SpeakerOption {
	return func(s *settings) {
		s.queueDepth = n
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) SpeakerOption {
	return func(s *settings) {
		s.rec = r
	}
}

// WithAudioFocus turns audio focus management on or off.
func WithAudioFocus(enabled bool) SpeakerOption {
	return func(s *settings) {
		s.useFocus = enabled
	}
}

// WithDuckSettle sets how long to wait after a grant for other audio to
// duck. Zero disables the wait.
func WithDuckSettle(d time.Duration) SpeakerOption {
	return func(s *settings) {
		s.settle = d
	}
}

// WithEventSink receives every engine event for the playing utterance, on
// the engine's goroutine.
func WithEventSink(f func(domain.Event)) SpeakerOption {
	return func(s *settings) {
		s.sink = f
	}
}

// WithEngineConfig is passed to the registry when SetEngine builds a new
// engine.
func WithEngineConfig(cfg synth.Config) SpeakerOption {
	return func(s *settings) {
		s.engineCfg = cfg
	}
}

// WithHistory records every finished request in store.
func WithHistory(store domain.HistoryStore) SpeakerOption {
	return func(s *settings) {
		s.history = store
	}
}

type job struct {
	ctx    context.Context
	u      domain.Utterance
	queued time.Time
	reply  chan error
}

// readiness tracks one engine's Init result.
type readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newReadiness() *readiness { return &readiness{done: make(chan struct{})} }

func (r *readiness) report(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Speaker is the utterance queue controller. Speak requests are spoken in
// arrival order by a single worker goroutine; each one runs to a terminal
// state (done, stopped or failed) before the next starts.
type Speaker struct {
	log     *logger.Logger
	session *Session
	focus   *focus.Coordinator
	rec     metrics.Recorder
	cfg     synth.Config
	history domain.HistoryStore

	jobs   chan *job
	quit   chan struct{}
	exited chan struct{}

	// swapMu is held by the worker for each job and by engine or voice
	// changes, so both only happen between utterances.
	swapMu sync.Mutex

	closeOnce sync.Once

	mu      sync.RWMutex
	info    domain.EngineInfo
	ready   *readiness
	started bool
	closed  bool
}

// New creates a Speaker. Call Start before Speak.
func New(engine domain.SpeechEngine, out domain.AudioOutput, provider domain.FocusProvider, log *logger.Logger, opts ...SpeakerOption) *Speaker {
	st := settings{
		queueDepth: DefaultQueueDepth,
		rec:        metrics.Nop{},
		useFocus:   true,
		settle:     focus.DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(&st)
	}
	if st.queueDepth < 0 {
		st.queueDepth = 0
	}

	fc := focus.NewCoordinator(provider, log.With("focus"),
		focus.WithEnabled(st.useFocus),
		focus.WithSettleDelay(st.settle),
	)
	info := engineInfo(engine)
	g := gain.New(gain.DefaultFor(info.BoostedGain))

	s := &Speaker{
		log:     log,
		focus:   fc,
		rec:     st.rec,
		cfg:     st.engineCfg,
		history: st.history,
		jobs:    make(chan *job, st.queueDepth),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
		info:    info,
		ready:   newReadiness(),
	}
	s.session = newSession(engine, out, fc, g, st.rec, st.sink, log.With("session"))
	fc.OnLoss(func() { s.Stop() })
	return s
}

func engineInfo(e domain.SpeechEngine) domain.EngineInfo {
	if d, ok := e.(domain.Describer); ok {
		return d.Info()
	}
	return domain.EngineInfo{Name: fmt.Sprintf("%T", e)}
}

// Start initializes the engine and launches the worker. Non-blocking; use
// Ready to wait for the engine. The worker exits when ctx ends or Close is
// called.
func (s *Speaker) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	r := s.ready
	s.mu.Unlock()

	s.session.currentEngine().Init(s.session.Handle, r.report)
	go s.processLoop(ctx)
	s.log.Info("speaker started (engine=%s)", s.Engine().Name)
}

// Ready blocks until the engine finished initializing.
func (s *Speaker) Ready(ctx context.Context) error {
	s.mu.RLock()
	r := s.ready
	s.mu.RUnlock()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.err != nil {
		return fmt.Errorf("%w: %w", domain.ErrEngineNotReady, r.err)
	}
	return nil
}

// Speak queues text and blocks until it has been spoken, stopped or has
// failed. A stopped utterance is not an error. If ctx ends before the
// utterance starts it is skipped; if it ends while speaking, Speak returns
// ctx.Err() and playback continues.
//
// Speaking the same text that is currently playing returns ErrEngineBusy.
func (s *Speaker) Speak(ctx context.Context, text string, opts domain.Options) (string, error) {
	id, done, err := s.SpeakAsync(ctx, text, opts)
	if err != nil {
		return id, err
	}
	select {
	case err := <-done:
		return id, err
	case <-ctx.Done():
		return id, ctx.Err()
	}
}

// SpeakAsync queues text and returns without waiting. The channel receives
// the same result Speak would return once the utterance ends. Requests
// queued by one goroutine are spoken in call order.
func (s *Speaker) SpeakAsync(ctx context.Context, text string, opts domain.Options) (string, <-chan error, error) {
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}
	u := domain.NewUtterance(text, opts)

	j, err := s.enqueue(ctx, u)
	if err != nil {
		return u.ID, nil, err
	}
	return u.ID, j.reply, nil
}

func (s *Speaker) enqueue(ctx context.Context, u domain.Utterance) (*job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrClosed
	}
	if !s.isReadyLocked() {
		return nil, domain.ErrEngineNotReady
	}
	if s.session.playingID() == u.ID {
		return nil, domain.ErrEngineBusy
	}

	j := &job{ctx: ctx, u: u, queued: time.Now(), reply: make(chan error, 1)}
	select {
	case s.jobs <- j:
	default:
		return nil, domain.ErrQueueFull
	}
	s.log.Debug("speaker: queued %s (queue_len=%d): %s", u.ID, len(s.jobs), truncate(u.Text, 60))
	if s.session.IsSpeaking() {
		if p, ok := s.session.currentEngine().(domain.Prefetcher); ok {
			p.Prefetch(ctx, u)
		}
	}
	return j, nil
}

func (s *Speaker) isReadyLocked() bool {
	select {
	case <-s.ready.done:
		return s.ready.err == nil
	default:
		return false
	}
}

// Stop interrupts the current utterance and waits for it to end. Returns
// true when idle or when the engine accepted the stop. Queued requests are
// not affected.
func (s *Speaker) Stop() bool {
	return s.session.Stop()
}

// IsSpeaking reports whether an utterance is in flight.
func (s *Speaker) IsSpeaking() bool { return s.session.IsSpeaking() }

// PlayingID returns the id of the utterance being spoken, or "" when idle.
func (s *Speaker) PlayingID() string { return s.session.playingID() }

// QueueLen returns the number of requests waiting behind the current one.
func (s *Speaker) QueueLen() int { return len(s.jobs) }

// Gain returns a snapshot of the adaptive gain.
func (s *Speaker) Gain() gain.Snapshot { return s.session.Gain() }

// Hash returns the utterance id Speak would assign to text.
func (s *Speaker) Hash(text string) string { return domain.UtteranceID(text) }

// Engine returns the active engine's info.
func (s *Speaker) Engine() domain.EngineInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Focus returns the focus coordinator.
func (s *Speaker) Focus() *focus.Coordinator { return s.focus }

// SetAudioFocus toggles focus management for later utterances.
func (s *Speaker) SetAudioFocus(enabled bool) { s.focus.SetEnabled(enabled) }

// SetDucking toggles whether focus grants let other audio keep playing
// ducked.
func (s *Speaker) SetDucking(enabled bool) { s.focus.SetDucking(enabled) }

// Voices lists the engine's voices. Entries without an id are skipped.
func (s *Speaker) Voices() []domain.Voice {
	vs, ok := s.session.currentEngine().(domain.VoiceSetter)
	if !ok {
		return nil
	}
	var out []domain.Voice
	for _, v := range vs.Voices() {
		if v.ID == "" {
			s.log.Debug("speaker: skipping voice with no id (%q)", v.Name)
			continue
		}
		out = append(out, v)
	}
	return out
}

// SetVoice selects an engine voice for later utterances and resets the
// gain to the engine default. Unknown voices return ErrVoiceNotFound and
// leave everything unchanged.
func (s *Speaker) SetVoice(id string) error {
	vs, ok := s.session.currentEngine().(domain.VoiceSetter)
	if !ok {
		return fmt.Errorf("%w: engine %s has no selectable voices", domain.ErrVoiceNotFound, s.Engine().Name)
	}
	if err := vs.SetVoice(id); err != nil {
		return err
	}
	s.session.resetGain(gain.DefaultFor(s.Engine().BoostedGain))
	s.log.Info("speaker: voice set to %s", id)
	return nil
}

// SetEngine replaces the engine with the registered engine name, waits for
// it to become ready and resets the gain to its default. The current
// utterance is stopped first.
func (s *Speaker) SetEngine(ctx context.Context, name string) error {
	eng, info, err := synth.New(name, s.cfg, s.log.With(name))
	if err != nil {
		return err
	}
	return s.UseEngine(ctx, eng, info)
}

// UseEngine is SetEngine for an engine built by the caller.
func (s *Speaker) UseEngine(ctx context.Context, eng domain.SpeechEngine, info domain.EngineInfo) error {
	s.Stop()
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	r := newReadiness()
	old := s.session.swapEngine(eng)
	s.session.resetGain(gain.DefaultFor(info.BoostedGain))
	s.mu.Lock()
	s.info = info
	s.ready = r
	s.mu.Unlock()

	old.Shutdown()
	eng.Init(s.session.Handle, r.report)
	s.log.Info("speaker: engine set to %s", info.Name)
	return s.Ready(ctx)
}

// Close stops the current utterance, fails queued requests with ErrClosed
// and shuts the engine down. Safe to call more than once.
func (s *Speaker) Close() {
	s.closeOnce.Do(func() {
		started := s.shutdown()
		s.Stop()
		close(s.quit)
		if started {
			<-s.exited
		}
		s.failPending(domain.ErrClosed)
		s.session.currentEngine().Shutdown()
		s.log.Info("speaker closed")
	})
}

// shutdown refuses new requests and new utterances.
func (s *Speaker) shutdown() (started bool) {
	s.mu.Lock()
	s.closed = true
	started = s.started
	s.mu.Unlock()
	s.session.close()
	return started
}

func (s *Speaker) processLoop(ctx context.Context) {
	defer close(s.exited)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("speaker stopped")
			s.shutdown()
			s.failPending(ctx.Err())
			return
		case <-s.quit:
			return
		case j := <-s.jobs:
			s.process(j)
		}
	}
}

func (s *Speaker) process(j *job) {
	if err := j.ctx.Err(); err != nil {
		s.log.Debug("speaker: skipping %s: %v", j.u.ID, err)
		s.rec.Utterance(metrics.OutcomeSkipped, 0)
		s.remember(j, metrics.OutcomeSkipped, 0, err)
		j.reply <- err
		return
	}

	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	start := time.Now()
	s.log.Debug("speaker: speaking %s (waited=%s): %s", j.u.ID, start.Sub(j.queued).Round(time.Millisecond), truncate(j.u.Text, 60))
	outcome, err := s.session.speak(j.ctx, j.u)
	dur := time.Since(start)
	s.rec.Utterance(outcome, dur)
	if err != nil {
		s.log.Warn("speaker: %v", err)
	} else {
		s.log.Debug("speaker: %s %s", j.u.ID, outcome)
	}
	s.remember(j, outcome, dur, err)
	j.reply <- err
}

// remember saves the finished job to the history, if one is configured.
func (s *Speaker) remember(j *job, outcome string, dur time.Duration, err error) {
	if s.history == nil {
		return
	}
	now := time.Now()
	r := &domain.Record{
		ID:         j.u.ID,
		Text:       j.u.Text,
		Options:    j.u.Options,
		Engine:     s.Engine().Name,
		Outcome:    outcome,
		Waited:     now.Sub(j.queued) - dur,
		Duration:   dur,
		FinishedAt: now,
	}
	if err != nil {
		r.Err = err.Error()
	}
	if serr := s.history.Save(context.WithoutCancel(j.ctx), r); serr != nil {
		s.log.Warn("speaker: saving history for %s: %v", j.u.ID, serr)
	}
}

// History returns the history store, or nil when none is configured.
func (s *Speaker) History() domain.HistoryStore { return s.history }

func (s *Speaker) failPending(err error) {
	for {
		select {
		case j := <-s.jobs:
			j.reply <- err
		default:
			return
		}
	}
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
