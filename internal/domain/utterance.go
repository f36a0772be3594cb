package domain

import (
	"fmt"
	"strconv"
	"unicode/utf16"
)

// Options are the per-utterance playback settings.
type Options struct {
	ForcePhoneSpeakerRoute bool
	IsNavigationAudio      bool
	Volume                 float64 // 0.0 – 1.0
	Pan                    float64 // -1.0 (left) – 1.0 (right)
}

// DefaultOptions returns full volume, centered, default route, media usage.
func DefaultOptions() Options {
	return Options{Volume: 1.0}
}

// Validate reports ErrInvalidOptions for out-of-range volume or pan.
func (o Options) Validate() error {
	if o.Volume < 0 || o.Volume > 1 {
		return fmt.Errorf("%w: volume %.2f outside [0, 1]", ErrInvalidOptions, o.Volume)
	}
	if o.Pan < -1 || o.Pan > 1 {
		return fmt.Errorf("%w: pan %.2f outside [-1, 1]", ErrInvalidOptions, o.Pan)
	}
	return nil
}

// Usage returns the audio usage implied by the options.
func (o Options) Usage() Usage {
	if o.IsNavigationAudio {
		return UsageNavigation
	}
	return UsageMedia
}

// Route returns the output route preference implied by the options.
func (o Options) Route() Route {
	if o.ForcePhoneSpeakerRoute {
		return RouteSpeaker
	}
	return RouteDefault
}

// OptionsFromMap builds Options from a loosely typed key/value set. Unknown
// keys are ignored. Numbers may be any Go numeric type.
func OptionsFromMap(m map[string]any) (Options, error) {
	o := DefaultOptions()
	for k, v := range m {
		var err error
		switch k {
		case "forcePhoneSpeakerRoute":
			o.ForcePhoneSpeakerRoute, err = asBool(k, v)
		case "isNavigationAudio":
			o.IsNavigationAudio, err = asBool(k, v)
		case "volume":
			o.Volume, err = asFloat(k, v)
		case "pan":
			o.Pan, err = asFloat(k, v)
		}
		if err != nil {
			return Options{}, err
		}
	}
	return o, o.Validate()
}

func asBool(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a bool, got %T", ErrInvalidOptions, key, v)
	}
	return b, nil
}

func asFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidOptions, key, v)
}

// Utterance is one accepted speak request.
type Utterance struct {
	ID      string
	Text    string
	Options Options
}

// NewUtterance builds an utterance with its deterministic id.
func NewUtterance(text string, opts Options) Utterance {
	return Utterance{ID: UtteranceID(text), Text: text, Options: opts}
}

// UtteranceID hashes text into a stable id: the 31-multiplier polynomial
// hash over UTF-16 code units, wrapped to int32, in signed decimal.
func UtteranceID(text string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(text)) {
		h = 31*h + int32(c)
	}
	return strconv.FormatInt(int64(h), 10)
}
