package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
	"github.com/hammamikhairi/ttsplay/internal/synth"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("ttsplay", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

// isolate runs the test in an empty directory with no credentials set.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("AZURE_SPEECH_KEY", "")
	t.Setenv("AZURE_SPEECH_REGION", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(flags(t))
	require.NoError(t, err)

	assert.Equal(t, EngineAuto, cfg.Engine)
	assert.Equal(t, synth.ToneName, cfg.EngineName())
	assert.Equal(t, 1.0, cfg.Volume)
	assert.True(t, cfg.AudioFocus)
	assert.True(t, cfg.Ducking)
	assert.Equal(t, 450*time.Millisecond, cfg.DuckSettle)
	assert.Equal(t, 16, cfg.QueueDepth)
	assert.Equal(t, logger.LevelNormal, cfg.Level())
	assert.Equal(t, domain.DefaultOptions(), cfg.Options())
}

func TestLoadFlagsOverride(t *testing.T) {
	isolate(t)
	cfg, err := Load(flags(t,
		"--engine", "tone",
		"--volume", "0.5",
		"--navigation",
		"--speaker-route",
		"--duck-settle", "1s",
		"--queue-depth", "2",
		"-l", "debug",
	))
	require.NoError(t, err)

	assert.Equal(t, "tone", cfg.EngineName())
	assert.Equal(t, time.Second, cfg.DuckSettle)
	assert.Equal(t, 2, cfg.QueueDepth)
	assert.Equal(t, logger.LevelVerbose, cfg.Level())

	opts := cfg.Options()
	assert.Equal(t, 0.5, opts.Volume)
	assert.Equal(t, domain.UsageNavigation, opts.Usage())
	assert.Equal(t, domain.RouteSpeaker, opts.Route())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine = "tone"
voice = "high"
pan = -0.25
queue_depth = 4
`), 0o644))
	t.Setenv("TTSPLAY_QUEUE_DEPTH", "8")

	cfg, err := Load(flags(t, "--config", path, "--voice", "low"))
	require.NoError(t, err)

	assert.Equal(t, "tone", cfg.Engine)
	assert.Equal(t, "low", cfg.Voice, "flags beat the file")
	assert.Equal(t, -0.25, cfg.Pan)
	assert.Equal(t, 8, cfg.QueueDepth, "env beats the file")
	assert.Equal(t, "low", cfg.EngineConfig().Voice)
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ttsplay.toml"), []byte(`history_size = 7`), 0o644))

	cfg, err := Load(flags(t))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.HistorySize)
}

func TestLoadAzureCredentials(t *testing.T) {
	isolate(t)
	t.Setenv("AZURE_SPEECH_KEY", "secret")
	t.Setenv("AZURE_SPEECH_REGION", "westeurope")

	cfg, err := Load(flags(t, "--requests-per-second", "5"))
	require.NoError(t, err)

	assert.True(t, cfg.Azure.Complete())
	assert.Equal(t, synth.AzureName, cfg.EngineName())
	ec := cfg.EngineConfig()
	assert.Equal(t, "secret", ec.AzureKey)
	assert.Equal(t, "westeurope", ec.AzureRegion)
	assert.Equal(t, 5.0, ec.RequestsPerSecond)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"volume", []string{"--volume", "1.5"}},
		{"pan", []string{"--pan", "-2"}},
		{"queue depth", []string{"--queue-depth", "-1"}},
		{"rate", []string{"--requests-per-second", "-3"}},
		{"log level", []string{"--log-level", "chatty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(flags(t, tt.args...))
			assert.Error(t, err)
		})
	}
}
