package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// fakeTrack accepts at most chunk bytes per Write.
type fakeTrack struct {
	chunk    int
	failAt   int // fail the nth write (1-based), 0 = never
	zeroAt   int // return 0 bytes on the nth write
	writes   int
	data     bytes.Buffer
	stops    int
	releases int
	drains   int
}

func (f *fakeTrack) Write(p []byte) (int, error) {
	f.writes++
	if f.failAt == f.writes {
		return 0, errors.New("underrun")
	}
	if f.zeroAt == f.writes {
		return 0, nil
	}
	n := len(p)
	if f.chunk > 0 && n > f.chunk {
		n = f.chunk
	}
	f.data.Write(p[:n])
	return n, nil
}

func (f *fakeTrack) Stop() error    { f.stops++; return nil }
func (f *fakeTrack) Release() error { f.releases++; return nil }

type drainTrack struct{ fakeTrack }

func (d *drainTrack) Drain() error { d.drains++; return nil }

type fakeOutput struct {
	track   domain.Track
	err     error
	minSize int
	sizeErr error
	opened  []domain.Format
}

func (o *fakeOutput) Open(f domain.Format) (domain.Track, error) {
	o.opened = append(o.opened, f)
	if o.err != nil {
		return nil, o.err
	}
	return o.track, nil
}

type sizedOutput struct{ fakeOutput }

func (o *sizedOutput) MinBufferSize(int, int, domain.Encoding) (int, error) {
	return o.minSize, o.sizeErr
}

func quietLog() *logger.Logger { return logger.New(logger.LevelOff, nil) }

func TestWriteRetriesPartialWrites(t *testing.T) {
	tr := &fakeTrack{chunk: 3}
	m := NewManager(&fakeOutput{track: tr}, quietLog())
	require.NoError(t, m.Open(domain.Format{SampleRate: 16000, Channels: 1}))

	payload := []byte("0123456789")
	require.NoError(t, m.Write(payload))
	assert.Equal(t, payload, tr.data.Bytes())
	assert.Equal(t, 4, tr.writes)
}

func TestWriteFailures(t *testing.T) {
	tests := []struct {
		name  string
		track *fakeTrack
	}{
		{"error", &fakeTrack{chunk: 2, failAt: 2}},
		{"no progress", &fakeTrack{chunk: 2, zeroAt: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(&fakeOutput{track: tt.track}, quietLog())
			require.NoError(t, m.Open(domain.Format{SampleRate: 16000, Channels: 1}))
			err := m.Write([]byte("abcdefgh"))
			assert.ErrorIs(t, err, domain.ErrDeviceWrite)
		})
	}
}

func TestWriteWithoutTrack(t *testing.T) {
	m := NewManager(&fakeOutput{}, quietLog())
	assert.ErrorIs(t, m.Write([]byte{1, 2}), domain.ErrDeviceWrite)
}

func TestOpenFailures(t *testing.T) {
	m := NewManager(&fakeOutput{err: errors.New("busy")}, quietLog())
	assert.ErrorIs(t, m.Open(domain.Format{}), domain.ErrDeviceAllocation)
	assert.False(t, m.IsOpen())

	m = NewManager(&fakeOutput{}, quietLog())
	assert.ErrorIs(t, m.Open(domain.Format{}), domain.ErrDeviceAllocation, "nil track")
}

func TestOpenTwiceRejected(t *testing.T) {
	out := &fakeOutput{track: &fakeTrack{}}
	m := NewManager(out, quietLog())
	require.NoError(t, m.Open(domain.Format{}))
	assert.ErrorIs(t, m.Open(domain.Format{}), domain.ErrDeviceAllocation)
	assert.Len(t, out.opened, 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := &fakeTrack{}
	m := NewManager(&fakeOutput{track: tr}, quietLog())
	require.NoError(t, m.Open(domain.Format{}))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, 1, tr.stops)
	assert.Equal(t, 1, tr.releases)
	assert.False(t, m.IsOpen())
}

func TestFinishDrains(t *testing.T) {
	tr := &drainTrack{}
	m := NewManager(&fakeOutput{track: tr}, quietLog())
	require.NoError(t, m.Open(domain.Format{}))
	require.NoError(t, m.Finish())
	assert.Equal(t, 1, tr.drains)
	assert.Equal(t, 1, tr.releases)

	// Non-draining tracks are simply closed.
	plain := &fakeTrack{}
	m = NewManager(&fakeOutput{track: plain}, quietLog())
	require.NoError(t, m.Open(domain.Format{}))
	require.NoError(t, m.Finish())
	assert.Equal(t, 1, plain.releases)
}

func TestBufferSize(t *testing.T) {
	tests := []struct {
		name string
		out  domain.AudioOutput
		want int
	}{
		{"no sizer", &fakeOutput{}, FallbackBufferSize},
		{"sizer", &sizedOutput{fakeOutput{minSize: 1920}}, 1920},
		{"sizer error", &sizedOutput{fakeOutput{minSize: 1920, sizeErr: errors.New("bad value")}}, FallbackBufferSize},
		{"sizer zero", &sizedOutput{fakeOutput{minSize: 0}}, FallbackBufferSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.out, quietLog())
			assert.Equal(t, tt.want, m.BufferSize(22050, 1, domain.EncodingPCM16))
		})
	}
}

func TestOpenFillsBufferSize(t *testing.T) {
	out := &sizedOutput{fakeOutput{track: &fakeTrack{}, minSize: 800}}
	m := NewManager(out, quietLog())
	require.NoError(t, m.Open(domain.Format{SampleRate: 8000, Channels: 1}))
	require.Len(t, out.opened, 1)
	assert.Equal(t, 800, out.opened[0].BufferSize)
	assert.Equal(t, 1, m.Opens())
}
