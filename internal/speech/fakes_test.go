package speech

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
	"github.com/hammamikhairi/ttsplay/internal/metrics"
)

func quietLog() *logger.Logger { return logger.New(logger.LevelOff, nil) }

// fakeEngine plays back a fixed list of audio chunks for every utterance.
// By default it runs on its own goroutine and finishes with Done.
type fakeEngine struct {
	info     domain.EngineInfo
	initErr  error
	synthErr error
	voices   []domain.Voice

	mu       sync.Mutex
	listener func(domain.Event)
	chunks   [][]byte
	rate     int
	hold     bool          // keep playing until stopped
	inline   bool          // deliver events from inside Synthesize
	failWith error         // finish with Error instead of Done
	gate     chan struct{} // wait for this before Done
	active   chan struct{}
	spoken   []domain.Utterance
	stops    int
	shutdown int
	voice    string
	fetched  []string // prefetched utterance ids
	wg       sync.WaitGroup
}

var (
	_ domain.SpeechEngine = (*fakeEngine)(nil)
	_ domain.VoiceSetter  = (*fakeEngine)(nil)
	_ domain.Describer    = (*fakeEngine)(nil)
	_ domain.Prefetcher   = (*fakeEngine)(nil)
)

func newFakeEngine(chunks ...[]byte) *fakeEngine {
	return &fakeEngine{
		info:   domain.EngineInfo{Name: "fake"},
		chunks: chunks,
		rate:   24000,
	}
}

type runConfig struct {
	chunks   [][]byte
	rate     int
	hold     bool
	failWith error
	gate     chan struct{}
}

func (e *fakeEngine) Init(listener func(domain.Event), onReady func(error)) {
	e.mu.Lock()
	e.listener = listener
	e.mu.Unlock()
	onReady(e.initErr)
}

func (e *fakeEngine) Synthesize(u domain.Utterance) error {
	if e.synthErr != nil {
		return e.synthErr
	}
	e.mu.Lock()
	e.spoken = append(e.spoken, u)
	stop := make(chan struct{})
	e.active = stop
	emit := e.listener
	cfg := runConfig{chunks: e.chunks, rate: e.rate, hold: e.hold, failWith: e.failWith, gate: e.gate}
	inline := e.inline
	e.wg.Add(1)
	e.mu.Unlock()

	if inline {
		e.run(u, emit, stop, cfg)
		return nil
	}
	go e.run(u, emit, stop, cfg)
	return nil
}

func (e *fakeEngine) run(u domain.Utterance, emit func(domain.Event), stop chan struct{}, cfg runConfig) {
	defer e.wg.Done()
	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}
	finish := func(ev domain.Event) {
		e.mu.Lock()
		if e.active == stop {
			e.active = nil
		}
		e.mu.Unlock()
		ev.UtteranceID = u.ID
		emit(ev)
	}
	interrupted := domain.Event{Kind: domain.EventStop, Interrupted: true}

	emit(domain.Event{Kind: domain.EventBeginSynthesis, UtteranceID: u.ID, SampleRate: cfg.rate, Encoding: domain.EncodingPCM16, Channels: 1})
	emit(domain.Event{Kind: domain.EventStart, UtteranceID: u.ID})
	for _, c := range cfg.chunks {
		if stopped() {
			finish(interrupted)
			return
		}
		emit(domain.Event{Kind: domain.EventAudio, UtteranceID: u.ID, Audio: append([]byte(nil), c...)})
	}
	switch {
	case cfg.failWith != nil:
		finish(domain.Event{Kind: domain.EventError, Err: cfg.failWith})
		return
	case cfg.hold:
		<-stop
		finish(interrupted)
		return
	case cfg.gate != nil:
		select {
		case <-cfg.gate:
		case <-stop:
			finish(interrupted)
			return
		}
	}
	if stopped() {
		finish(interrupted)
		return
	}
	finish(domain.Event{Kind: domain.EventDone})
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	if e.active != nil {
		close(e.active)
		e.active = nil
	}
	return nil
}

func (e *fakeEngine) Shutdown() {
	e.Stop()
	e.wg.Wait()
	e.mu.Lock()
	e.shutdown++
	e.mu.Unlock()
}

func (e *fakeEngine) Info() domain.EngineInfo { return e.info }

func (e *fakeEngine) Voices() []domain.Voice { return e.voices }

func (e *fakeEngine) SetVoice(id string) error {
	for _, v := range e.voices {
		if v.ID != "" && v.ID == id {
			e.mu.Lock()
			e.voice = id
			e.mu.Unlock()
			return nil
		}
	}
	return domain.ErrVoiceNotFound
}

func (e *fakeEngine) Prefetch(_ context.Context, us ...domain.Utterance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range us {
		e.fetched = append(e.fetched, u.ID)
	}
}

func (e *fakeEngine) prefetched() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.fetched...)
}

func (e *fakeEngine) setHold(hold bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hold = hold
}

func (e *fakeEngine) setGate(g chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = g
}

func (e *fakeEngine) spokenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.spoken)
}

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

// fakeOutput records every track it opens.
type fakeOutput struct {
	mu        sync.Mutex
	openErr   error
	failWrite bool
	open      int
	maxOpen   int
	opens     int
	releases  int
	doubles   int
	formats   []domain.Format
	written   []byte
	latest    int // bytes written to the most recently opened track
}

func (o *fakeOutput) Open(f domain.Format) (domain.Track, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.opens++
	o.open++
	o.maxOpen = max(o.maxOpen, o.open)
	o.formats = append(o.formats, f)
	o.latest = 0
	return &fakeTrack{out: o}, nil
}

func (o *fakeOutput) bytesWritten() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.written)
}

// playing reports whether the n-th track is open and has received audio.
func (o *fakeOutput) playing(n int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens >= n && o.open == 1 && o.latest > 0
}

func (o *fakeOutput) stats() (opens, releases, open, maxOpen, doubles int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens, o.releases, o.open, o.maxOpen, o.doubles
}

type fakeTrack struct {
	out      *fakeOutput
	released bool
}

func (t *fakeTrack) Write(p []byte) (int, error) {
	t.out.mu.Lock()
	defer t.out.mu.Unlock()
	if t.out.failWrite {
		return 0, errors.New("underrun")
	}
	t.out.written = append(t.out.written, p...)
	t.out.latest += len(p)
	return len(p), nil
}

func (t *fakeTrack) Stop() error { return nil }

func (t *fakeTrack) Release() error {
	t.out.mu.Lock()
	defer t.out.mu.Unlock()
	if t.released {
		t.out.doubles++
		return nil
	}
	t.released = true
	t.out.open--
	t.out.releases++
	return nil
}

// countingRecorder counts outcomes and failures.
type countingRecorder struct {
	metrics.Nop

	mu       sync.Mutex
	outcomes map[string]int
	failures map[string]int
	stops    int
	denials  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: map[string]int{}, failures: map[string]int{}}
}

func (r *countingRecorder) Utterance(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *countingRecorder) DeviceFailure(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[stage]++
}

func (r *countingRecorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *countingRecorder) FocusDenied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denials++
}

func (r *countingRecorder) outcome(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[name]
}

func (r *countingRecorder) failure(stage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[stage]
}
