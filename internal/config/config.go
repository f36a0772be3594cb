// Package config loads ttsplay settings from defaults, an optional TOML
// file, TTSPLAY_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/focus"
	"github.com/hammamikhairi/ttsplay/internal/logger"
	"github.com/hammamikhairi/ttsplay/internal/speech"
	"github.com/hammamikhairi/ttsplay/internal/storage"
	"github.com/hammamikhairi/ttsplay/internal/synth"
)

// EngineAuto picks azure when credentials are present, tone otherwise.
const EngineAuto = "auto"

// EnvPrefix prefixes every environment override (TTSPLAY_ENGINE, ...).
const EnvPrefix = "TTSPLAY"

// Config is the resolved application configuration.
type Config struct {
	Engine            string        `mapstructure:"engine"`
	Voice             string        `mapstructure:"voice"`
	SampleRate        int           `mapstructure:"sample_rate"`
	Volume            float64       `mapstructure:"volume"`
	Pan               float64       `mapstructure:"pan"`
	Navigation        bool          `mapstructure:"navigation"`
	SpeakerRoute      bool          `mapstructure:"speaker_route"`
	AudioFocus        bool          `mapstructure:"audio_focus"`
	Ducking           bool          `mapstructure:"ducking"`
	DuckSettle        time.Duration `mapstructure:"duck_settle"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	HistorySize       int           `mapstructure:"history_size"`
	CacheDir          string        `mapstructure:"cache_dir"`
	DiskCache         bool          `mapstructure:"disk_cache"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MetricsAddr       string        `mapstructure:"metrics_addr"`
	Progress          bool          `mapstructure:"progress"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFile           string        `mapstructure:"log_file"`

	Azure AzureCredentials `mapstructure:"-"`
}

// AzureCredentials are read from the environment only, never from the
// config file.
type AzureCredentials struct {
	Key    string `env:"AZURE_SPEECH_KEY"`
	Region string `env:"AZURE_SPEECH_REGION"`
}

// Complete reports whether both key and region are set.
func (c AzureCredentials) Complete() bool { return c.Key != "" && c.Region != "" }

// flag name -> config key
var flagKeys = map[string]string{
	"engine":              "engine",
	"voice":               "voice",
	"sample-rate":         "sample_rate",
	"volume":              "volume",
	"pan":                 "pan",
	"navigation":          "navigation",
	"speaker-route":       "speaker_route",
	"audio-focus":         "audio_focus",
	"ducking":             "ducking",
	"duck-settle":         "duck_settle",
	"queue-depth":         "queue_depth",
	"history-size":        "history_size",
	"cache-dir":           "cache_dir",
	"disk-cache":          "disk_cache",
	"requests-per-second": "requests_per_second",
	"metrics-addr":        "metrics_addr",
	"progress":            "progress",
	"log-level":           "log_level",
	"log-file":            "log_file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine", EngineAuto)
	v.SetDefault("voice", "")
	v.SetDefault("sample_rate", 0)
	v.SetDefault("volume", 1.0)
	v.SetDefault("pan", 0.0)
	v.SetDefault("navigation", false)
	v.SetDefault("speaker_route", false)
	v.SetDefault("audio_focus", true)
	v.SetDefault("ducking", true)
	v.SetDefault("duck_settle", focus.DefaultSettleDelay)
	v.SetDefault("queue_depth", speech.DefaultQueueDepth)
	v.SetDefault("history_size", storage.DefaultCapacity)
	v.SetDefault("cache_dir", ".ttsplay-cache")
	v.SetDefault("disk_cache", true)
	v.SetDefault("requests_per_second", 0.0)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("progress", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", ".ttsplay-logs/ttsplay.log")
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Path to config file")
	fs.StringP("engine", "e", EngineAuto, "Speech engine ("+strings.Join(synth.Names(), ", ")+" or auto)")
	fs.StringP("voice", "v", "", "Engine voice id")
	fs.Int("sample-rate", 0, "Tone engine sample rate in Hz (0 for the engine default)")
	fs.Float64("volume", 1.0, "Utterance volume (0.0-1.0)")
	fs.Float64("pan", 0.0, "Stereo pan (-1.0-1.0)")
	fs.Bool("navigation", false, "Play as navigation audio instead of media")
	fs.Bool("speaker-route", false, "Prefer the built-in speaker route")
	fs.Bool("audio-focus", true, "Request audio focus before speaking")
	fs.Bool("ducking", true, "Let other audio keep playing ducked")
	fs.Duration("duck-settle", focus.DefaultSettleDelay, "Wait after a grant for other audio to duck")
	fs.Int("queue-depth", speech.DefaultQueueDepth, "Speak requests that may wait behind the current one")
	fs.Int("history-size", storage.DefaultCapacity, "Utterances kept for /history and /repeat")
	fs.String("cache-dir", ".ttsplay-cache", "Directory for the synthesized audio cache")
	fs.Bool("disk-cache", true, "Persist synthesized audio to the cache directory")
	fs.Float64("requests-per-second", 0, "Azure request rate limit (0 for the engine default)")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	fs.Bool("progress", false, "Print word progress while speaking")
	fs.StringP("log-level", "l", "info", "Log level (off, info, debug)")
	fs.String("log-file", ".ttsplay-logs/ttsplay.log", "Log file path (\"stderr\" to log to the console)")
}

// Load resolves the configuration. fs must have been set up with
// BindFlags and parsed; only flags the user changed override the file and
// the environment.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("binding flag %s: %w", name, err)
		}
	}

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ttsplay")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "ttsplay"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	creds, err := env.ParseAs[AzureCredentials]()
	if err != nil {
		return nil, fmt.Errorf("failed to read azure credentials: %w", err)
	}
	cfg.Azure = creds

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := c.Options().Validate(); err != nil {
		return err
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("queue_depth must not be negative, got %d", c.QueueDepth)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative, got %v", c.RequestsPerSecond)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// EngineName resolves EngineAuto to a registered engine name.
func (c *Config) EngineName() string {
	if c.Engine != "" && c.Engine != EngineAuto {
		return c.Engine
	}
	if c.Azure.Complete() {
		return synth.AzureName
	}
	return synth.ToneName
}

// Options returns the per-utterance options.
func (c *Config) Options() domain.Options {
	return domain.Options{
		ForcePhoneSpeakerRoute: c.SpeakerRoute,
		IsNavigationAudio:      c.Navigation,
		Volume:                 c.Volume,
		Pan:                    c.Pan,
	}
}

// EngineConfig returns the registry configuration for engines.
func (c *Config) EngineConfig() synth.Config {
	return synth.Config{
		Voice:             c.Voice,
		SampleRate:        c.SampleRate,
		CacheDir:          c.CacheDir,
		DiskCache:         c.DiskCache,
		AzureKey:          c.Azure.Key,
		AzureRegion:       c.Azure.Region,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// Level returns the parsed log level.
func (c *Config) Level() logger.Level {
	l, _ := logger.ParseLevel(c.LogLevel)
	return l
}
