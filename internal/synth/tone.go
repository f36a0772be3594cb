package synth

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unicode"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// ToneName is the registry name of the offline tone engine.
const ToneName = "tone"

// Tone timing, per word.
const (
	toneSampleRate = 24000
	toneWordMillis = 120
	toneGapMillis  = 40
	toneAmplitude  = 0.25 // of full scale, before volume
)

var toneVoices = []domain.Voice{
	{ID: "low", Name: "Low tone", Language: "und"},
	{ID: "mid", Name: "Mid tone", Language: "und"},
	{ID: "high", Name: "High tone", Language: "und"},
}

var toneBase = map[string]float64{"low": 220, "mid": 440, "high": 660}

func init() {
	Register(domain.EngineInfo{
		Name:  ToneName,
		Label: "Offline tone generator",
	}, func(cfg Config, log *logger.Logger) (domain.SpeechEngine, error) {
		return NewTone(cfg, log)
	})
}

var (
	_ domain.SpeechEngine = (*Tone)(nil)
	_ domain.VoiceSetter  = (*Tone)(nil)
	_ domain.Describer    = (*Tone)(nil)
)

// Tone renders one short beep per word. It needs no network or voice data
// and is what the player falls back to offline.
type Tone struct {
	log        *logger.Logger
	stream     *streamer
	sampleRate int

	mu    sync.Mutex
	voice string
}

// NewTone creates a tone engine. cfg.Voice selects the pitch (low, mid,
// high); empty means mid.
func NewTone(cfg Config, log *logger.Logger) (*Tone, error) {
	t := &Tone{log: log, sampleRate: toneSampleRate, voice: "mid"}
	if cfg.SampleRate > 0 {
		t.sampleRate = cfg.SampleRate
	}
	if cfg.Voice != "" {
		if err := t.SetVoice(cfg.Voice); err != nil {
			return nil, err
		}
	}
	t.stream = newStreamer(log, t.render)
	return t, nil
}

// Info implements domain.Describer.
func (t *Tone) Info() domain.EngineInfo {
	info, _ := Lookup(ToneName)
	return info
}

// Init is immediately ready.
func (t *Tone) Init(listener func(domain.Event), onReady func(error)) {
	t.stream.setListener(listener)
	if onReady != nil {
		onReady(nil)
	}
}

func (t *Tone) Synthesize(u domain.Utterance) error { return t.stream.start(u) }

func (t *Tone) Stop() error {
	t.stream.stop()
	return nil
}

func (t *Tone) Shutdown() { t.stream.shutdown() }

func (t *Tone) Voices() []domain.Voice {
	out := make([]domain.Voice, len(toneVoices))
	copy(out, toneVoices)
	return out
}

func (t *Tone) SetVoice(id string) error {
	if _, ok := toneBase[id]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrVoiceNotFound, id)
	}
	t.mu.Lock()
	t.voice = id
	t.mu.Unlock()
	return nil
}

func (t *Tone) render(ctx context.Context, u domain.Utterance) (clip, error) {
	t.mu.Lock()
	base := toneBase[t.voice]
	t.mu.Unlock()

	words := wordSpans(u.Text)
	if len(words) == 0 {
		return clip{}, StatusInvalidRequest.Err()
	}

	wordFrames := t.sampleRate * toneWordMillis / 1000
	gapFrames := t.sampleRate * toneGapMillis / 1000
	amp := toneAmplitude * u.Options.Volume * math.MaxInt16

	pcm := make([]byte, 0, len(words)*(wordFrames+gapFrames)*2)
	marks := make([]mark, 0, len(words))
	frame := 0
	for i, w := range words {
		if ctx.Err() != nil {
			return clip{}, ctx.Err()
		}
		marks = append(marks, mark{start: w[0], end: w[1], frame: frame})
		// Walk a small scale so consecutive words are distinguishable.
		freq := base * math.Pow(2, float64(i%5)/12)
		for n := 0; n < wordFrames; n++ {
			env := envelope(n, wordFrames)
			v := amp * env * math.Sin(2*math.Pi*freq*float64(n)/float64(t.sampleRate))
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(v)))
		}
		pcm = append(pcm, make([]byte, gapFrames*2)...)
		frame += wordFrames + gapFrames
	}
	t.log.Debug("tone: rendered %d words, %d bytes", len(words), len(pcm))
	return clip{pcm: pcm, sampleRate: t.sampleRate, channels: 1, marks: marks}, nil
}

// envelope is a linear 5ms attack and release to avoid clicks.
func envelope(n, total int) float64 {
	ramp := toneSampleRate / 200
	switch {
	case n < ramp:
		return float64(n) / float64(ramp)
	case total-n < ramp:
		return float64(total-n) / float64(ramp)
	}
	return 1
}

// wordSpans returns [start,end) byte offsets of the words in s.
func wordSpans(s string) [][2]int {
	var spans [][2]int
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, [2]int{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(s)})
	}
	return spans
}
