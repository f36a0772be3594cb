package gain

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(samples ...int16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

func samples(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return out
}

func TestConstants(t *testing.T) {
	assert.Equal(t, int64(15839369), ClipMargin)
	assert.Equal(t, int64(47284905), MaxGain)
	assert.Equal(t, int64(28165590), BoostedDefault)
	assert.Equal(t, Unity, MinGain)
	assert.Equal(t, Unity, DefaultFor(false))
	assert.Equal(t, BoostedDefault, DefaultFor(true))
}

func TestProcessUnityIsIdentity(t *testing.T) {
	e := New(Unity)
	in := []int16{0, 1, -1, 1000, -1000, math.MaxInt16, math.MinInt16}
	buf := pcm(in...)
	e.Process(buf)
	assert.Equal(t, in, samples(buf))
	assert.Zero(t, e.Snapshot().Clipped)
	assert.Equal(t, int64(len(in)), e.Snapshot().Samples)
}

func TestProcessBoosted(t *testing.T) {
	e := New(BoostedDefault)
	buf := pcm(1000, -1000)
	e.Process(buf)
	// arithmetic shifts round toward negative infinity
	assert.Equal(t, []int16{1678, -1679}, samples(buf))
}

func TestProcessSaturates(t *testing.T) {
	tests := []struct {
		name string
		in   int16
		want int16
	}{
		{"positive overflow", 20000, math.MaxInt16},
		{"negative overflow", -20000, math.MinInt16},
		{"full scale positive", math.MaxInt16, math.MaxInt16},
		{"full scale negative", math.MinInt16, math.MinInt16},
		{"in range", 10000, 20000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(2 * Unity)
			buf := pcm(tt.in)
			e.Process(buf)
			assert.Equal(t, tt.want, samples(buf)[0])
		})
	}
}

func TestProcessCountsClipped(t *testing.T) {
	e := New(2 * Unity)
	e.Process(pcm(20000, 100, -30000))
	snap := e.Snapshot()
	assert.Equal(t, int64(3), snap.Samples)
	assert.Equal(t, int64(2), snap.Clipped)
}

func TestProcessOddTrailingByte(t *testing.T) {
	e := New(2 * Unity)
	buf := append(pcm(100), 0x7f)
	e.Process(buf)
	assert.Equal(t, byte(0x7f), buf[2])
	assert.Equal(t, int16(200), samples(buf[:2])[0])
}

func TestPeakTrackedBeforeGain(t *testing.T) {
	e := New(2 * Unity)
	e.Process(pcm(100, -16384, 200))
	assert.Equal(t, int64(16384)<<widenShift, e.Snapshot().Peak)
}

func TestRecalibrate(t *testing.T) {
	tests := []struct {
		name string
		peak int16
		want int64
	}{
		{"half scale", 16384, 35541187},
		{"near full scale", math.MaxInt16, 17771135},
		{"quiet voice clamps to max", 1000, MaxGain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(BoostedDefault)
			e.Process(pcm(tt.peak))
			require.True(t, e.Recalibrate())
			assert.Equal(t, tt.want, e.Current())
			assert.GreaterOrEqual(t, e.Current(), MinGain)
			assert.LessOrEqual(t, e.Current(), MaxGain)
		})
	}
}

func TestRecalibrateClampsToMin(t *testing.T) {
	e := New(Unity, WithBounds(2*Unity, 3*Unity))
	e.Process(pcm(math.MaxInt16))
	e.Recalibrate()
	assert.Equal(t, 2*Unity, e.Current())
}

func TestRecalibrateWithoutSignalKeepsGain(t *testing.T) {
	e := New(BoostedDefault)
	e.Process(pcm(0, 0, 0))
	assert.False(t, e.Recalibrate())
	assert.Equal(t, BoostedDefault, e.Current())

	e2 := New(Unity)
	assert.False(t, e2.Recalibrate())
	assert.Equal(t, Unity, e2.Current())
}

func TestBeginUtteranceResetsPeak(t *testing.T) {
	e := New(Unity)
	e.Process(pcm(30000))
	e.BeginUtterance()
	snap := e.Snapshot()
	assert.Zero(t, snap.Peak)
	assert.Zero(t, snap.Samples)
	assert.Equal(t, Unity, snap.Current)
}

func TestReset(t *testing.T) {
	e := New(Unity)
	e.Process(pcm(500))
	e.Recalibrate()
	e.Reset(BoostedDefault)
	assert.Equal(t, BoostedDefault, e.Current())
	assert.Zero(t, e.Snapshot().Peak)
}

func TestToDB(t *testing.T) {
	assert.InDelta(t, 0.0, ToDB(Unity), 1e-9)
	assert.InDelta(t, 4.5, ToDB(BoostedDefault), 0.01)
	assert.InDelta(t, 9.0, ToDB(MaxGain), 0.01)
	assert.True(t, math.IsInf(ToDB(0), -1))
}
