package synth

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// AzureName is the registry name of the Azure engine.
const AzureName = "azure"

// DefaultVoice is the Azure neural voice used when none is configured.
// Full list: https://learn.microsoft.com/en-us/azure/ai-services/speech-service/language-support
const DefaultVoice = "en-US-AvaNeural"

// DefaultAudioFormat is requested from Azure and matches what the player
// expects.
const DefaultAudioFormat = "riff-24khz-16bit-mono-pcm"

// defaultRequestsPerSecond keeps bursts of short utterances under the
// free-tier request quota.
const defaultRequestsPerSecond = 3

var azureVoices = []domain.Voice{
	{ID: "en-US-AvaNeural", Name: "Ava", Language: "en-US"},
	{ID: "en-US-AndrewNeural", Name: "Andrew", Language: "en-US"},
	{ID: "en-US-EmmaNeural", Name: "Emma", Language: "en-US"},
	{ID: "en-US-BrianNeural", Name: "Brian", Language: "en-US"},
	{ID: "en-GB-SoniaNeural", Name: "Sonia", Language: "en-GB"},
	{ID: "en-GB-RyanNeural", Name: "Ryan", Language: "en-GB"},
	{ID: "fr-FR-DeniseNeural", Name: "Denise", Language: "fr-FR"},
	{ID: "de-DE-KatjaNeural", Name: "Katja", Language: "de-DE"},
}

func init() {
	Register(domain.EngineInfo{
		Name:            AzureName,
		Label:           "Azure Cognitive Services neural TTS",
		BoostedGain:     true,
		RequiresNetwork: true,
	}, func(cfg Config, log *logger.Logger) (domain.SpeechEngine, error) {
		return NewAzure(cfg, log), nil
	})
}

// AzureOption configures the Azure TTS client.
type AzureOption func(*AzureClient)

// WithVoice sets the TTS voice.
func WithVoice(voice string) AzureOption {
	return func(c *AzureClient) {
		c.voice = voice
	}
}

// WithAudioFormat sets the audio output format.
func WithAudioFormat(format string) AzureOption {
	return func(c *AzureClient) {
		c.format = format
	}
}

// WithHTTPTimeout sets the HTTP client timeout for TTS requests.
func WithHTTPTimeout(d time.Duration) AzureOption {
	return func(c *AzureClient) {
		c.httpClient.Timeout = d
	}
}

// WithEndpoint overrides the regional endpoint URL.
func WithEndpoint(url string) AzureOption {
	return func(c *AzureClient) {
		c.endpoint = url
	}
}

// AzureClient handles text-to-speech synthesis via Azure Cognitive Services.
type AzureClient struct {
	subscriptionKey string
	endpoint        string
	format          string
	httpClient      *http.Client
	log             *logger.Logger

	mu    sync.RWMutex
	voice string
}

// NewAzureClient creates an Azure TTS client with the given credentials.
func NewAzureClient(key, region string, log *logger.Logger, opts ...AzureOption) *AzureClient {
	c := &AzureClient{
		subscriptionKey: key,
		endpoint:        fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
		voice:           DefaultVoice,
		format:          DefaultAudioFormat,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Voice returns the configured voice name.
func (c *AzureClient) Voice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voice
}

func (c *AzureClient) setVoice(v string) {
	c.mu.Lock()
	c.voice = v
	c.mu.Unlock()
}

// Synthesize converts text to speech audio data (WAV bytes). Failures are
// StatusErrors.
func (c *AzureClient) Synthesize(ctx context.Context, text string, volume float64) ([]byte, error) {
	voice := c.Voice()
	ssml := buildSSML(voice, text, volume)
	c.log.Debug("azure tts: synthesizing %d chars with voice %s", len(text), voice)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, wrapStatus(StatusInvalidRequest, err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", c.format)
	req.Header.Set("User-Agent", "ttsplay/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapStatus(StatusFromError(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, wrapStatus(StatusFromHTTP(resp.StatusCode),
			fmt.Errorf("azure tts error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapStatus(StatusFromError(err), fmt.Errorf("reading audio data: %w", err))
	}
	c.log.Debug("azure tts: got %d bytes of audio", len(audio))
	return audio, nil
}

// buildSSML creates SSML markup for the synthesis request. Volume is the
// 0..1 utterance volume mapped onto prosody's 0..100 scale.
func buildSSML(voice, text string, volume float64) string {
	var esc bytes.Buffer
	_ = xml.EscapeText(&esc, []byte(text))
	lang := "en-US"
	if parts := strings.SplitN(voice, "-", 3); len(parts) == 3 {
		lang = parts[0] + "-" + parts[1]
	}
	body := esc.String()
	if volume < 1 {
		body = fmt.Sprintf("<prosody volume='%.0f'>%s</prosody>", volume*100, body)
	}
	return fmt.Sprintf(
		`<speak version='1.0' xml:lang='%s'><voice xml:lang='%s' name='%s'>%s</voice></speak>`,
		lang, lang, voice, body,
	)
}

var (
	_ domain.SpeechEngine = (*Azure)(nil)
	_ domain.VoiceSetter  = (*Azure)(nil)
	_ domain.Describer    = (*Azure)(nil)
	_ domain.Prefetcher   = (*Azure)(nil)
)

// Azure adapts AzureClient to domain.SpeechEngine. Responses are cached,
// requests are rate limited, and audio is streamed to the listener in
// chunks.
type Azure struct {
	client  *AzureClient
	cache   *AudioCache
	limiter *rate.Limiter
	log     *logger.Logger
	stream  *streamer
	ready   error

	// inflight collapses concurrent requests for the same audio.
	inflight singleflight.Group
}

// NewAzure builds the engine from cfg. Missing credentials are reported
// through Init's onReady rather than here.
func NewAzure(cfg Config, log *logger.Logger, opts ...AzureOption) *Azure {
	if cfg.Voice != "" {
		opts = append([]AzureOption{WithVoice(cfg.Voice)}, opts...)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	a := &Azure{
		client:  NewAzureClient(cfg.AzureKey, cfg.AzureRegion, log, opts...),
		cache:   NewAudioCache(cfg.CacheDir, cfg.DiskCache, log),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}
	if cfg.AzureKey == "" || cfg.AzureRegion == "" {
		a.ready = errors.New("azure: AZURE_SPEECH_KEY and AZURE_SPEECH_REGION must be set")
	}
	a.stream = newStreamer(log, a.render)
	return a
}

// Info implements domain.Describer.
func (a *Azure) Info() domain.EngineInfo {
	info, _ := Lookup(AzureName)
	return info
}

// Cache returns the engine's audio cache.
func (a *Azure) Cache() *AudioCache { return a.cache }

func (a *Azure) Init(listener func(domain.Event), onReady func(error)) {
	if a.ready == nil {
		a.stream.setListener(listener)
	}
	if onReady != nil {
		onReady(a.ready)
	}
}

func (a *Azure) Synthesize(u domain.Utterance) error { return a.stream.start(u) }

func (a *Azure) Stop() error {
	a.stream.stop()
	return nil
}

func (a *Azure) Shutdown() { a.stream.shutdown() }

func (a *Azure) Voices() []domain.Voice {
	out := make([]domain.Voice, len(azureVoices))
	copy(out, azureVoices)
	return out
}

func (a *Azure) SetVoice(id string) error {
	for _, v := range azureVoices {
		if v.ID == id {
			a.client.setVoice(id)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", domain.ErrVoiceNotFound, id)
}

// Prefetch fetches the audio for us into the cache in the background.
// Utterances already cached are skipped.
func (a *Azure) Prefetch(ctx context.Context, us ...domain.Utterance) {
	voice := a.client.Voice()
	for _, u := range us {
		variant := cacheVariant(voice, u.Options.Volume)
		if strings.TrimSpace(u.Text) == "" || a.cache.Has(variant, u.Text) {
			continue
		}
		go func(u domain.Utterance) {
			if _, err := a.fetch(ctx, variant, u.Text, u.Options.Volume); err != nil {
				a.log.Warn("prefetch %s: %v", u.ID, err)
			}
		}(u)
	}
}

func (a *Azure) render(ctx context.Context, u domain.Utterance) (clip, error) {
	if strings.TrimSpace(u.Text) == "" {
		return clip{}, StatusInvalidRequest.Err()
	}
	variant := cacheVariant(a.client.Voice(), u.Options.Volume)
	wav, err := a.fetch(ctx, variant, u.Text, u.Options.Volume)
	if err != nil {
		return clip{}, err
	}
	info, err := parseWAV(wav)
	if err != nil {
		return clip{}, wrapStatus(StatusSynthesis, err)
	}
	return clip{pcm: info.pcm, sampleRate: info.sampleRate, channels: info.channels}, nil
}

// fetch returns the WAV for text, from the cache or from the service.
// Concurrent fetches of the same audio share one request, which runs
// under the first caller's ctx. A waiter whose shared request was
// cancelled by someone else tries again.
func (a *Azure) fetch(ctx context.Context, variant, text string, volume float64) ([]byte, error) {
	for {
		if wav, ok := a.cache.Get(variant, text); ok {
			return wav, nil
		}
		ch := a.inflight.DoChan(cacheKey(variant, text), func() (interface{}, error) {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
			}
			wav, err := a.client.Synthesize(ctx, text, volume)
			if err != nil {
				return nil, err
			}
			a.cache.Put(variant, text, wav)
			return wav, nil
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		switch {
		case res.Err == nil:
			return res.Val.([]byte), nil
		case res.Shared && ctx.Err() == nil && isCancellation(res.Err):
			continue
		default:
			return nil, res.Err
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func cacheVariant(voice string, volume float64) string {
	return fmt.Sprintf("%s@%.2f", voice, volume)
}
