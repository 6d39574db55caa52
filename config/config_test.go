package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicebridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8090", cfg.Server.Addr())
	assert.Equal(t, "gemini-2.0-flash-exp", cfg.Gemini.Model)
	assert.Equal(t, "Puck", cfg.Gemini.Voice)
	assert.InDelta(t, 0.5, cfg.VAD.StopSecs, 1e-9)
	assert.Equal(t, 32, cfg.Bridge.SendQueueBound)
	assert.NoError(t, cfg.VAD.Params().Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9000
gemini:
  model: gemini-2.5-flash-live
  voice: Aoede
  system_instruction: "Be brief."
vad:
  confidence: 0.6
  start_secs: 0.2
  stop_secs: 0.8
  min_volume: 0.02
  sample_rate: 16000
bridge:
  send_queue_bound: 16
  send_grace_ms: 50
  tool_timeout_secs: 5
metrics:
  enabled: false
  addr: ":9200"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "gemini-2.5-flash-live", cfg.Gemini.Model)
	assert.Equal(t, "Aoede", cfg.Gemini.Voice)
	assert.Equal(t, "Be brief.", cfg.Gemini.SystemInstruction)
	assert.InDelta(t, 0.8, cfg.VAD.StopSecs, 1e-9)
	assert.Equal(t, 16, cfg.Bridge.SendQueueBound)
	assert.Equal(t, int64(50), cfg.Bridge.SendGrace().Milliseconds())
	assert.Equal(t, float64(5), cfg.Bridge.ToolTimeout().Seconds())
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROJECT_ID", "acme-prod")
	t.Setenv("LOCATION", "us-central1")
	t.Setenv("MODEL", "gemini-live-override")
	t.Setenv("GEMINI_API_KEY", "test-secret")
	t.Setenv("VOICEBRIDGE_PORT", "9001")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "acme-prod", cfg.Gemini.Project)
	assert.Equal(t, "us-central1", cfg.Gemini.Location)
	assert.Equal(t, "gemini-live-override", cfg.Gemini.Model)
	assert.Equal(t, "test-secret", cfg.Gemini.APIKey)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/voicebridge.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: -1\n"},
		{"empty model", "gemini:\n  model: \"\"\n"},
		{"bad vad confidence", "vad:\n  confidence: 2.0\n"},
		{"bad queue bound", "bridge:\n  send_queue_bound: 0\n"},
		{"project without location", "gemini:\n  project: demo-project\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}
