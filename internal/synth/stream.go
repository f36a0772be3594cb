package synth

import (
	"context"
	"sync"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// defaultChunkBytes is ~85ms of 24kHz mono PCM16.
const defaultChunkBytes = 4096

// clip is a rendered utterance: mono or interleaved PCM16 little-endian.
type clip struct {
	pcm        []byte
	sampleRate int
	channels   int
	marks      []mark
}

// mark is a word boundary: text offsets [start,end) reached at frame.
type mark struct {
	start, end, frame int
}

// renderFunc produces the full audio for an utterance. It runs on the
// streamer goroutine and should return early when ctx is cancelled.
type renderFunc func(ctx context.Context, u domain.Utterance) (clip, error)

// streamer turns a blocking renderer into the asynchronous event stream a
// domain.SpeechEngine delivers. One utterance runs at a time.
type streamer struct {
	log        *logger.Logger
	render     renderFunc
	chunkBytes int

	mu       sync.Mutex
	listener func(domain.Event)
	cancel   context.CancelFunc
	done     chan struct{}
}

func newStreamer(log *logger.Logger, render renderFunc) *streamer {
	return &streamer{log: log, render: render, chunkBytes: defaultChunkBytes}
}

func (s *streamer) setListener(l func(domain.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// start begins streaming u. Returns ErrEngineNotReady before a listener is
// set and ErrEngineBusy while another utterance is in flight.
func (s *streamer) start(u domain.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return domain.ErrEngineNotReady
	}
	if s.cancel != nil {
		return domain.ErrEngineBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, u, s.listener, s.done)
	return nil
}

// stop cancels the in-flight utterance, if any. The Stop event follows
// asynchronously.
func (s *streamer) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// shutdown stops and waits for the streaming goroutine to exit.
func (s *streamer) shutdown() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.listener = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// release clears the in-flight slot. It runs before the terminal event so
// a listener that starts the next utterance on it is not refused.
func (s *streamer) release() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

func (s *streamer) run(ctx context.Context, u domain.Utterance, emit func(domain.Event), done chan struct{}) {
	defer close(done)

	terminal := func(ev domain.Event) {
		ev.UtteranceID = u.ID
		s.release()
		emit(ev)
	}
	stopped := func() { terminal(domain.Event{Kind: domain.EventStop, Interrupted: true}) }

	c, err := s.render(ctx, u)
	if ctx.Err() != nil {
		stopped()
		return
	}
	if err != nil {
		s.log.Warn("synth: %s failed: %v", u.ID, err)
		terminal(domain.Event{Kind: domain.EventError, Err: err})
		return
	}
	if c.channels <= 0 {
		c.channels = 1
	}

	emit(domain.Event{
		Kind:        domain.EventBeginSynthesis,
		UtteranceID: u.ID,
		SampleRate:  c.sampleRate,
		Encoding:    domain.EncodingPCM16,
		Channels:    c.channels,
	})
	emit(domain.Event{Kind: domain.EventStart, UtteranceID: u.ID})

	frameBytes := 2 * c.channels
	chunk := s.chunkBytes - s.chunkBytes%frameBytes
	if chunk <= 0 {
		chunk = frameBytes
	}

	marks := c.marks
	for off := 0; off < len(c.pcm); off += chunk {
		if ctx.Err() != nil {
			stopped()
			return
		}
		end := min(off+chunk, len(c.pcm))
		for len(marks) > 0 && marks[0].frame*frameBytes < end {
			m := marks[0]
			marks = marks[1:]
			emit(domain.Event{Kind: domain.EventRange, UtteranceID: u.ID, Start: m.start, End: m.end, Frame: m.frame})
		}
		// Listeners transform audio in place.
		buf := make([]byte, end-off)
		copy(buf, c.pcm[off:end])
		emit(domain.Event{Kind: domain.EventAudio, UtteranceID: u.ID, Audio: buf})
	}
	if ctx.Err() != nil {
		stopped()
		return
	}
	terminal(domain.Event{Kind: domain.EventDone})
}
