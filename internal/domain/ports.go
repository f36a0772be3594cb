package domain

import "context"

// SpeechEngine is an asynchronous synthesizer. Init registers the listener
// that receives every engine event and reports readiness once through
// onReady. Synthesize only starts work: progress and the terminal outcome
// arrive later as events on the listener, from goroutines the engine picks.
//
// Implementations may deliver events synchronously from inside Synthesize
// or Stop; callers never hold locks across those calls.
type SpeechEngine interface {
	Init(listener func(Event), onReady func(error))
	Synthesize(u Utterance) error
	Stop() error
	Shutdown()
}

// EngineInfo describes a registered engine.
type EngineInfo struct {
	Name  string
	Label string
	// BoostedGain selects the +4.5 dB starting gain instead of unity.
	BoostedGain bool
	// RequiresNetwork is informational, for listings.
	RequiresNetwork bool
}

// Describer is implemented by engines that can report their EngineInfo.
type Describer interface {
	Info() EngineInfo
}

// Voice is one selectable engine voice.
type Voice struct {
	ID       string
	Name     string
	Language string
}

// VoiceSetter is implemented by engines that support voice selection.
// SetVoice returns ErrVoiceNotFound for unknown ids.
type VoiceSetter interface {
	Voices() []Voice
	SetVoice(id string) error
}

// Prefetcher is implemented by engines that can prepare audio ahead of
// Synthesize. Prefetch must not block.
type Prefetcher interface {
	Prefetch(ctx context.Context, us ...Utterance)
}

// AudioOutput opens playback tracks. One Track is open per utterance.
type AudioOutput interface {
	Open(f Format) (Track, error)
}

// Track is one open output stream. Write may accept fewer bytes than given;
// callers retry the remainder.
type Track interface {
	Write(p []byte) (int, error)
	Stop() error
	Release() error
}

// BufferSizer is implemented by outputs that can report a minimum buffer
// size for a format. A non-positive size or an error means unknown.
type BufferSizer interface {
	MinBufferSize(sampleRate, channels int, enc Encoding) (int, error)
}

// Drainer is implemented by tracks that can block until queued audio has
// been played out.
type Drainer interface {
	Drain() error
}

// FocusProvider is the platform audio-focus service. Request may call
// onChange later, from any goroutine, when the grant changes.
type FocusProvider interface {
	Request(req FocusRequest, onChange func(FocusChange)) (FocusState, error)
	Abandon() error
}

// MusicActivity is implemented by focus providers that know whether other
// audio is currently playing.
type MusicActivity interface {
	MusicActive() bool
}
