package domain

// EventKind tags an engine Event.
type EventKind int

const (
	EventBeginSynthesis EventKind = iota
	EventStart
	EventAudio
	EventRange
	EventDone
	EventError
	EventStop
)

// String returns the event name used by listeners.
func (k EventKind) String() string {
	switch k {
	case EventBeginSynthesis:
		return "tts-begin"
	case EventStart:
		return "tts-start"
	case EventAudio:
		return "tts-audio"
	case EventRange:
		return "tts-progress"
	case EventDone:
		return "tts-finish"
	case EventError:
		return "tts-error"
	case EventStop:
		return "tts-cancel"
	default:
		return "tts-unknown"
	}
}

// Terminal reports whether the kind ends an utterance.
func (k EventKind) Terminal() bool {
	return k == EventDone || k == EventError || k == EventStop
}

// Event is one engine callback. The grammar per utterance is
//
//	BeginSynthesis? Start Audio* (Done | Error | Stop)
//
// with Range events interleaved anywhere before the terminal one.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind        EventKind
	UtteranceID string

	// BeginSynthesis
	SampleRate int
	Encoding   Encoding
	Channels   int

	// Audio
	Audio []byte

	// Range
	Start, End, Frame int

	// Error
	Err error

	// Stop
	Interrupted bool
}
