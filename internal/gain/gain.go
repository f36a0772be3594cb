// Package gain implements the adaptive output gain applied to synthesized
// speech before it reaches the audio device.
//
// Gains and widened samples are Q8.24 fixed point: the real value is the
// integer divided by 2^24. Each 16-bit sample is widened by 9 bits into the
// same domain, multiplied, narrowed back and saturated. After every fully
// spoken utterance the gain is recalibrated from the loudest source sample
// so quiet voices are lifted and loud ones are pulled back under the clip
// margin.
package gain

import (
	"encoding/binary"
	"math"
)

// FracBits is the number of fractional bits of the fixed-point format.
const FracBits = 24

// Unity is a gain of 1.0 (0 dB).
const Unity int64 = 1 << FracBits

// widenShift moves a Q0.15 sample into Q8.24.
const widenShift = FracBits - 15

// Tuned constants. They are empirical; keep them as they are.
var (
	// ClipMargin is -0.5 dB (10^(-0.5/20)).
	ClipMargin = fromFloat(0.9441)
	// MaxGain is +9 dB (10^(9/20)).
	MaxGain = fromFloat(2.8184)
	// MinGain is 0 dB.
	MinGain = Unity
	// BoostedDefault is +4.5 dB (10^(4.5/20)), the starting gain for engines
	// known to synthesize quietly.
	BoostedDefault = fromFloat(1.6788)
)

func fromFloat(f float64) int64 {
	return int64(f * float64(Unity))
}

// ToFloat converts a Q8.24 value to its real value.
func ToFloat(v int64) float64 {
	return float64(v) / float64(Unity)
}

// ToDB converts a Q8.24 gain to decibels.
func ToDB(v int64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(ToFloat(v))
}

// DefaultFor returns the starting gain for an engine.
func DefaultFor(boosted bool) int64 {
	if boosted {
		return BoostedDefault
	}
	return Unity
}

// Snapshot is a point-in-time copy of the gain state.
type Snapshot struct {
	Current int64
	Min     int64
	Max     int64
	Peak    int64
	Samples int64 // samples processed in the current utterance
	Clipped int64 // of those, saturated
}

// DB returns the current gain in decibels.
func (s Snapshot) DB() float64 { return ToDB(s.Current) }

// Engine holds the gain state. It is not safe for concurrent use; the
// playback session guards it with its own lock.
type Engine struct {
	current int64
	min     int64
	max     int64
	margin  int64
	peak    int64
	samples int64
	clipped int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithBounds overrides the gain clamp range.
func WithBounds(lo, hi int64) Option {
	return func(e *Engine) {
		e.min = lo
		e.max = hi
	}
}

// WithClipMargin overrides the headroom factor used by Recalibrate.
func WithClipMargin(m int64) Option {
	return func(e *Engine) {
		e.margin = m
	}
}

// New creates a gain engine starting at initial.
func New(initial int64, opts ...Option) *Engine {
	e := &Engine{
		current: initial,
		min:     MinGain,
		max:     MaxGain,
		margin:  ClipMargin,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reset sets the gain back to an engine default and clears the peak. Used
// when the synthesis engine or voice changes.
func (e *Engine) Reset(initial int64) {
	e.current = initial
	e.BeginUtterance()
}

// BeginUtterance clears the per-utterance peak and counters.
func (e *Engine) BeginUtterance() {
	e.peak = 0
	e.samples = 0
	e.clipped = 0
}

// Process applies the current gain in place to little-endian signed 16-bit
// samples. A trailing odd byte is left untouched.
func (e *Engine) Process(buf []byte) {
	for i := 0; i+1 < len(buf); i += 2 {
		wide := int64(int16(binary.LittleEndian.Uint16(buf[i:]))) << widenShift

		mag := wide
		if mag < 0 {
			mag = -mag
		}
		if mag > e.peak {
			e.peak = mag
		}

		out := ((wide * e.current) >> FracBits) >> widenShift
		if out > math.MaxInt16 {
			out = math.MaxInt16
			e.clipped++
		} else if out < math.MinInt16 {
			out = math.MinInt16
			e.clipped++
		}
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(out)))
	}
	e.samples += int64(len(buf) / 2)
}

// Recalibrate recomputes the gain from the utterance peak so the loudest
// sample lands on the clip margin, clamped to the configured bounds. With
// no signal observed the gain is left alone. Reports whether it changed.
func (e *Engine) Recalibrate() bool {
	if e.peak == 0 {
		return false
	}
	denom := (e.peak * e.margin) >> FracBits
	if denom <= 0 {
		return false
	}
	g := Unity * Unity / denom
	if g > e.max {
		g = e.max
	} else if g < e.min {
		g = e.min
	}
	changed := g != e.current
	e.current = g
	return changed
}

// Current returns the current gain.
func (e *Engine) Current() int64 { return e.current }

// Snapshot copies the state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Current: e.current,
		Min:     e.min,
		Max:     e.max,
		Peak:    e.peak,
		Samples: e.samples,
		Clipped: e.clipped,
	}
}
