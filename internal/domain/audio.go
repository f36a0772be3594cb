package domain

// Encoding is the sample encoding an engine reports at BeginSynthesis.
type Encoding int

const (
	EncodingPCM16 Encoding = iota
	EncodingPCM8
	EncodingFloat
)

// String returns a human-readable encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingPCM16:
		return "pcm16"
	case EncodingPCM8:
		return "pcm8"
	case EncodingFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Usage classifies what the played audio is for. It drives both the
// output stream attributes and the focus request.
type Usage int

const (
	UsageMedia Usage = iota
	UsageNavigation
)

// String returns a human-readable usage.
func (u Usage) String() string {
	switch u {
	case UsageMedia:
		return "media"
	case UsageNavigation:
		return "navigation"
	default:
		return "unknown"
	}
}

// Route is the output route preference for one utterance.
type Route int

const (
	RouteDefault Route = iota
	RouteSpeaker
)

// String returns a human-readable route.
func (r Route) String() string {
	if r == RouteSpeaker {
		return "speaker"
	}
	return "default"
}

// Format describes the stream a Track is opened for. Output is always
// 16-bit mono PCM; Encoding is what the engine reported.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
	BufferSize int // bytes
	Usage      Usage
	Route      Route
}
