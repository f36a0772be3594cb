// Package otoplayer is the oto-backed audio output used outside tests.
package otoplayer

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// Compile-time interface checks.
var (
	_ domain.AudioOutput = (*Output)(nil)
	_ domain.BufferSizer = (*Output)(nil)
	_ domain.Track       = (*otoTrack)(nil)
	_ domain.Drainer     = (*otoTrack)(nil)
)

var errTrackStopped = errors.New("track stopped")

// Output plays 16-bit mono PCM through the system default device via
// oto. oto allows one context per process and fixes its sample rate at
// creation, so the context is created on the first Open and later opens
// must use the same rate.
type Output struct {
	log      *logger.Logger
	channels int

	mu   sync.Mutex
	ctx  *oto.Context
	rate int
}

// New creates an oto-backed output. The audio context is not
// created until the first track is opened.
func New(log *logger.Logger) *Output {
	return &Output{log: log, channels: 1}
}

// MinBufferSize returns 100ms worth of 16-bit samples.
func (o *Output) MinBufferSize(sampleRate, channels int, enc domain.Encoding) (int, error) {
	if sampleRate <= 0 || channels <= 0 {
		return 0, fmt.Errorf("bad format: rate=%d channels=%d", sampleRate, channels)
	}
	if enc != domain.EncodingPCM16 {
		return 0, fmt.Errorf("unsupported encoding %s", enc)
	}
	return sampleRate / 10 * channels * 2, nil
}

func (o *Output) context(f domain.Format) (*oto.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx != nil {
		if f.SampleRate != o.rate {
			return nil, fmt.Errorf("audio context runs at %d Hz, track wants %d Hz", o.rate, f.SampleRate)
		}
		return o.ctx, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: o.channels,
		Format:       oto.FormatSignedInt16LE,
	}
	if f.BufferSize > 0 {
		bytesPerSec := f.SampleRate * o.channels * 2
		op.BufferSize = time.Duration(f.BufferSize) * time.Second / time.Duration(bytesPerSec)
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan

	o.ctx = ctx
	o.rate = f.SampleRate
	o.log.Debug("audio context initialized (rate=%d, channels=%d, buffer=%s)", f.SampleRate, o.channels, op.BufferSize)
	return ctx, nil
}

// Open starts a streaming player fed through a pipe.
func (o *Output) Open(f domain.Format) (domain.Track, error) {
	if f.Encoding != domain.EncodingPCM16 {
		return nil, fmt.Errorf("unsupported encoding %s", f.Encoding)
	}
	if f.Channels != o.channels {
		return nil, fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	if f.Route == domain.RouteSpeaker {
		// oto only exposes the system default device.
		o.log.Debug("audio output: speaker route requested, using system default device")
	}

	ctx, err := o.context(f)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	player.Play()

	return &otoTrack{player: player, pr: pr, pw: pw, log: o.log}, nil
}

type otoTrack struct {
	player *oto.Player
	pr     *io.PipeReader
	pw     *io.PipeWriter
	log    *logger.Logger

	stopOnce    sync.Once
	releaseOnce sync.Once
}

// Write blocks until the player has pulled p from the pipe.
func (t *otoTrack) Write(p []byte) (int, error) {
	return t.pw.Write(p)
}

// Drain closes the input and waits for playback of what was written.
func (t *otoTrack) Drain() error {
	if err := t.pw.Close(); err != nil {
		return err
	}
	for t.player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Stop interrupts playback. Pending writes fail.
func (t *otoTrack) Stop() error {
	t.stopOnce.Do(func() {
		t.player.Pause()
		t.pw.CloseWithError(errTrackStopped)
		t.log.Debug("audio output: track stopped")
	})
	return nil
}

// Release frees the player.
func (t *otoTrack) Release() error {
	var err error
	t.releaseOnce.Do(func() {
		err = errors.Join(t.player.Close(), t.pr.Close())
	})
	return err
}
