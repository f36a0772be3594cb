package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hammamikhairi/ttsplay/internal/device"
	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/focus"
	"github.com/hammamikhairi/ttsplay/internal/gain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
	"github.com/hammamikhairi/ttsplay/internal/metrics"
)

// Session is the playback state of the single active utterance:
//
//	IDLE -> SPEAKING -> IDLE
//
// with a STOP_REQUESTED overlay while speaking. One mutex guards all state;
// idleCond wakes the worker when the utterance ends and stoppedCond wakes
// stop callers once the worker has observed the stop.
//
// Engine methods are never called with mu held, so engines may deliver
// events synchronously from Synthesize or Stop.
type Session struct {
	log   *logger.Logger
	focus *focus.Coordinator
	rec   metrics.Recorder
	sink  func(domain.Event)

	mu            sync.Mutex
	idleCond      *sync.Cond
	stoppedCond   *sync.Cond
	engine        domain.SpeechEngine
	device        *device.Manager
	gain          *gain.Engine
	idle          bool
	stopRequested bool
	aborted       bool // a device failure already asked the engine to stop
	terminated    bool // a terminal event has been handled
	closed        bool
	playing       domain.Utterance
	draining      domain.Track
	cancel        context.CancelFunc
	result        outcome
}

// outcome is how an utterance ended.
type outcome struct {
	kind domain.EventKind // EventDone, EventError or EventStop
	err  error
}

func newSession(engine domain.SpeechEngine, out domain.AudioOutput, fc *focus.Coordinator, g *gain.Engine, rec metrics.Recorder, sink func(domain.Event), log *logger.Logger) *Session {
	s := &Session{
		log:    log,
		focus:  fc,
		rec:    rec,
		sink:   sink,
		engine: engine,
		device: device.NewManager(out, log),
		gain:   g,
		idle:   true,
	}
	s.idleCond = sync.NewCond(&s.mu)
	s.stoppedCond = sync.NewCond(&s.mu)
	return s
}

// Handle is the engine listener. It is the only place engine events change
// session state.
func (s *Session) Handle(ev domain.Event) {
	s.mu.Lock()
	if s.idle || s.terminated || ev.UtteranceID != s.playing.ID {
		s.mu.Unlock()
		s.log.Debug("session: dropping %s for %s", ev.Kind, ev.UtteranceID)
		return
	}

	var abort bool
	switch ev.Kind {
	case domain.EventBeginSynthesis:
		if s.stopRequested || s.aborted {
			s.mu.Unlock()
			return
		}
		if err := s.openDevice(ev); err != nil {
			s.rec.DeviceFailure("open")
			abort = s.failLocked(err)
		}
	case domain.EventAudio:
		if s.stopRequested || s.aborted {
			s.mu.Unlock()
			return
		}
		if !s.device.IsOpen() {
			s.rec.DeviceFailure("write")
			abort = s.failLocked(fmt.Errorf("%w: audio before device open", domain.ErrDeviceWrite))
			break
		}
		s.gain.Process(ev.Audio)
		if err := s.device.Write(ev.Audio); err != nil {
			s.rec.DeviceFailure("write")
			abort = s.failLocked(err)
		}
	case domain.EventStart, domain.EventRange:
	case domain.EventDone, domain.EventError, domain.EventStop:
		s.finishLocked(ev)
		s.emit(ev)
		return
	}
	engine := s.engine
	s.mu.Unlock()

	if abort {
		if err := engine.Stop(); err != nil {
			s.log.Warn("session: engine refused abort: %v", err)
		}
	}
	s.emit(ev)
}

func (s *Session) emit(ev domain.Event) {
	if s.sink != nil {
		s.sink(ev)
	}
}

func (s *Session) openDevice(ev domain.Event) error {
	ch := ev.Channels
	if ch <= 0 {
		ch = 1
	}
	return s.device.Open(domain.Format{
		SampleRate: ev.SampleRate,
		Channels:   ch,
		Encoding:   ev.Encoding,
		BufferSize: s.device.BufferSize(ev.SampleRate, ch, ev.Encoding),
		Usage:      s.playing.Options.Usage(),
		Route:      s.playing.Options.Route(),
	})
}

// failLocked records the first failure of the utterance and closes the
// device. Reports whether the engine should be asked to stop.
func (s *Session) failLocked(err error) bool {
	s.log.Error("session: %s: %v", s.playing.ID, err)
	if s.result.err == nil {
		s.result.err = err
	}
	if cerr := s.device.Close(); cerr != nil {
		s.log.Warn("session: closing device: %v", cerr)
	}
	s.aborted = true
	return true
}

// finishLocked runs terminal cleanup. Called with mu held; returns with mu
// released. The track is drained outside the lock on natural completion so
// Stop can interrupt the drain.
func (s *Session) finishLocked(ev domain.Event) {
	s.terminated = true
	s.result.kind = ev.Kind
	if ev.Kind == domain.EventError && s.result.err == nil {
		s.result.err = synthesisError(ev.Err)
	}
	natural := ev.Kind == domain.EventDone && !s.aborted && !s.stopRequested
	track := s.device.Detach()
	if natural {
		s.draining = track
	}
	s.mu.Unlock()

	if track != nil {
		var err error
		if natural {
			err = device.Finish(track)
		} else {
			err = device.Release(track)
		}
		if err != nil {
			s.log.Warn("session: releasing track: %v", err)
		}
	}
	if err := s.focus.Abandon(); err != nil {
		s.log.Warn("session: abandoning focus: %v", err)
	}

	s.mu.Lock()
	s.draining = nil
	s.idle = true
	s.idleCond.Broadcast()
	s.mu.Unlock()
	s.log.Debug("session: %s finished (%s)", ev.UtteranceID, ev.Kind)
}

func synthesisError(err error) error {
	switch {
	case err == nil:
		return domain.ErrSynthesis
	case errors.Is(err, domain.ErrSynthesis):
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrSynthesis, err)
}

// Stop interrupts the current utterance and blocks until the worker has
// observed it. It returns true when idle or when the engine accepted the
// stop. Concurrent callers all wait.
func (s *Session) Stop() bool {
	s.mu.Lock()
	if s.idle {
		s.mu.Unlock()
		return true
	}
	first := !s.stopRequested
	if first {
		s.stopRequested = true
		if err := s.device.Close(); err != nil {
			s.log.Warn("session: closing device: %v", err)
		}
		if s.draining != nil {
			// The finisher releases it.
			if err := s.draining.Stop(); err != nil {
				s.log.Warn("session: interrupting drain: %v", err)
			}
		}
		if s.cancel != nil {
			s.cancel()
		}
	}
	engine := s.engine
	id := s.playing.ID
	s.mu.Unlock()

	accepted := true
	if first {
		s.log.Info("session: stopping %s", id)
		s.rec.Stop()
		if err := s.focus.Abandon(); err != nil {
			s.log.Warn("session: abandoning focus: %v", err)
		}
		if err := engine.Stop(); err != nil {
			s.log.Warn("session: engine refused stop: %v", err)
			accepted = false
		}
	}

	s.mu.Lock()
	for s.stopRequested {
		s.stoppedCond.Wait()
	}
	s.mu.Unlock()
	return accepted
}

// speak runs one utterance to its terminal state on the calling (worker)
// goroutine. A stopped utterance returns OutcomeStopped and no error.
func (s *Session) speak(ctx context.Context, u domain.Utterance) (string, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return metrics.OutcomeSkipped, domain.ErrClosed
	}
	s.idle = false
	s.stopRequested = false
	s.aborted = false
	s.terminated = false
	s.playing = u
	s.result = outcome{}
	s.cancel = cancel
	s.gain.BeginUtterance()
	engine := s.engine
	s.mu.Unlock()

	if _, err := s.focus.Request(ctx, u.Options.Usage()); err != nil {
		if s.settle() {
			return metrics.OutcomeStopped, nil
		}
		s.rec.FocusDenied()
		return metrics.OutcomeFocusDenied, fmt.Errorf("speaking %s: %w", u.ID, err)
	}

	s.mu.Lock()
	stopped := s.stopRequested
	s.mu.Unlock()
	if stopped {
		// Stop arrived while focus was being requested.
		if err := s.focus.Abandon(); err != nil {
			s.log.Warn("session: abandoning focus: %v", err)
		}
		s.settle()
		return metrics.OutcomeStopped, nil
	}

	if err := engine.Synthesize(u); err != nil {
		if aerr := s.focus.Abandon(); aerr != nil {
			s.log.Warn("session: abandoning focus: %v", aerr)
		}
		if s.settle() {
			return metrics.OutcomeStopped, nil
		}
		return metrics.OutcomeError, fmt.Errorf("speaking %s: %w", u.ID, synthesisError(err))
	}

	s.mu.Lock()
	if s.stopRequested && !s.idle {
		// Stop raced the start of synthesis; make sure the engine sees it.
		s.mu.Unlock()
		if err := engine.Stop(); err != nil {
			s.log.Warn("session: engine refused stop: %v", err)
		}
		s.mu.Lock()
	}
	for !s.idle {
		s.idleCond.Wait()
	}
	s.cancel = nil
	res := s.result
	if s.stopRequested {
		s.stopRequested = false
		s.stoppedCond.Broadcast()
		s.mu.Unlock()
		return metrics.OutcomeStopped, nil
	}
	snap := s.gain.Snapshot()
	if res.kind == domain.EventDone && res.err == nil {
		if s.gain.Recalibrate() {
			s.log.Debug("session: gain recalibrated to %.2f dB (peak %d)", gain.ToDB(s.gain.Current()), snap.Peak)
		}
	}
	db := gain.ToDB(s.gain.Current())
	s.mu.Unlock()

	s.rec.Clipped(int(snap.Clipped))
	s.rec.Gain(db)

	switch {
	case errors.Is(res.err, domain.ErrDeviceAllocation), errors.Is(res.err, domain.ErrDeviceWrite):
		return metrics.OutcomeDevice, fmt.Errorf("speaking %s: %w", u.ID, res.err)
	case res.err != nil:
		return metrics.OutcomeError, fmt.Errorf("speaking %s: %w", u.ID, res.err)
	case res.kind == domain.EventStop:
		// The engine stopped on its own.
		return metrics.OutcomeStopped, nil
	}
	return metrics.OutcomeDone, nil
}

// settle marks the session idle when an utterance ends before synthesis
// started, completing any stop that arrived meanwhile. Reports whether a
// stop was pending.
func (s *Session) settle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = true
	s.cancel = nil
	s.idleCond.Broadcast()
	if !s.stopRequested {
		return false
	}
	s.stopRequested = false
	s.stoppedCond.Broadcast()
	return true
}

// close makes later speak calls fail with ErrClosed.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// IsSpeaking reports whether an utterance is in flight.
func (s *Session) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.idle
}

// playingID returns the id of the in-flight utterance, or "" when idle.
func (s *Session) playingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle {
		return ""
	}
	return s.playing.ID
}

// Gain returns a snapshot of the gain state.
func (s *Session) Gain() gain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain.Snapshot()
}

func (s *Session) resetGain(initial int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain.Reset(initial)
}

// swapEngine replaces the engine. The caller guarantees no utterance is in
// flight.
func (s *Session) swapEngine(e domain.SpeechEngine) domain.SpeechEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.engine
	s.engine = e
	return old
}

func (s *Session) currentEngine() domain.SpeechEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// deviceOpens returns how many tracks the session has opened.
func (s *Session) deviceOpens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device.Opens()
}
