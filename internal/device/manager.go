// Package device manages the single audio output track used by the
// current utterance.
package device

import (
	"errors"
	"fmt"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// FallbackBufferSize is used when the output cannot report a minimum buffer
// size for the requested format.
const FallbackBufferSize = 4096

// Manager owns at most one open Track. It is not safe for concurrent use;
// the playback session serializes access.
type Manager struct {
	out   domain.AudioOutput
	log   *logger.Logger
	track domain.Track
	opens int
}

// NewManager creates a device manager on top of an output.
func NewManager(out domain.AudioOutput, log *logger.Logger) *Manager {
	return &Manager{out: out, log: log}
}

// BufferSize returns the buffer size to open a track with: the output's
// minimum if it can report one, FallbackBufferSize otherwise.
func (m *Manager) BufferSize(sampleRate, channels int, enc domain.Encoding) int {
	if bs, ok := m.out.(domain.BufferSizer); ok {
		n, err := bs.MinBufferSize(sampleRate, channels, enc)
		if err == nil && n > 0 {
			return n
		}
		m.log.Debug("device: min buffer size unavailable (n=%d, err=%v), using %d", n, err, FallbackBufferSize)
	}
	return FallbackBufferSize
}

// Open opens a track for f. Fails if one is already open.
func (m *Manager) Open(f domain.Format) error {
	if m.track != nil {
		return fmt.Errorf("%w: a track is already open", domain.ErrDeviceAllocation)
	}
	if f.BufferSize <= 0 {
		f.BufferSize = m.BufferSize(f.SampleRate, f.Channels, f.Encoding)
	}
	t, err := m.out.Open(f)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeviceAllocation, err)
	}
	if t == nil {
		return fmt.Errorf("%w: output returned no track", domain.ErrDeviceAllocation)
	}
	m.track = t
	m.opens++
	m.log.Debug("device: opened track (rate=%d, channels=%d, buffer=%d, usage=%s, route=%s)",
		f.SampleRate, f.Channels, f.BufferSize, f.Usage, f.Route)
	return nil
}

// IsOpen reports whether a track is open.
func (m *Manager) IsOpen() bool { return m.track != nil }

// Opens returns how many tracks have been opened over the manager's life.
func (m *Manager) Opens() int { return m.opens }

// Write writes the whole buffer, retrying partial writes. A write that
// makes no progress or returns an error fails with ErrDeviceWrite.
func (m *Manager) Write(buf []byte) error {
	if m.track == nil {
		return fmt.Errorf("%w: no open track", domain.ErrDeviceWrite)
	}
	for off := 0; off < len(buf); {
		n, err := m.track.Write(buf[off:])
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDeviceWrite, err)
		}
		if n <= 0 {
			return fmt.Errorf("%w: wrote %d of %d bytes", domain.ErrDeviceWrite, off, len(buf))
		}
		off += n
	}
	return nil
}

// Detach hands the open track to the caller and leaves the manager empty.
// Used to drain a finished track without holding the session lock.
func (m *Manager) Detach() domain.Track {
	t := m.track
	m.track = nil
	return t
}

// Close stops and releases the open track. Safe to call repeatedly; only
// the first call after Open has an effect.
func (m *Manager) Close() error {
	t := m.Detach()
	if t == nil {
		return nil
	}
	m.log.Debug("device: closing track")
	return Release(t)
}

// Finish drains the open track when supported, then closes it.
func (m *Manager) Finish() error {
	t := m.Detach()
	if t == nil {
		return nil
	}
	return Finish(t)
}

// Finish drains t when it supports draining, then stops and releases it.
func Finish(t domain.Track) error {
	var drainErr error
	if d, ok := t.(domain.Drainer); ok {
		drainErr = d.Drain()
	}
	return errors.Join(drainErr, Release(t))
}

// Release stops and releases t, joining both errors.
func Release(t domain.Track) error {
	return errors.Join(t.Stop(), t.Release())
}
