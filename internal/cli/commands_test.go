package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFlow/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// offlineConfigFile writes a config that needs neither a model backend nor market data.
func offlineConfigFile(t *testing.T, extra map[string]any) string {
	t.Helper()
	doc := map[string]any{
		"llm_provider":     "offline",
		"yahoo_indices":    []string{},
		"longport_indices": []string{},
		"cache_enabled":    false,
		"fetch_retries":    0,
	}
	for k, v := range extra {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestHeatCommandScore(t *testing.T) {
	out, err := execute(t, "heat", "--score", "72", "--json")
	require.NoError(t, err)

	var h models.HeatAssessment
	require.NoError(t, json.Unmarshal([]byte(out), &h))
	assert.Equal(t, 72.0, h.Score)
	assert.Equal(t, models.HeatHot, h.Level)
	assert.Equal(t, 2, h.RiskAdjustment.DebateRounds)
}

func TestHeatCommandRendersPanel(t *testing.T) {
	out, err := execute(t, "heat", "--score", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Market Heat")
	assert.Contains(t, out, string(models.HeatIceCold))
}

func TestConfigShowMasksSecrets(t *testing.T) {
	path := offlineConfigFile(t, map[string]any{"deepseek_api_key": "sk-secret"})

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, secretMask)
	assert.Contains(t, out, `"llm_provider": "offline"`)
}

func TestConfigValidate(t *testing.T) {
	path := offlineConfigFile(t, nil)

	out, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestAnalyzeThenStatus(t *testing.T) {
	path := offlineConfigFile(t, nil)

	out, err := execute(t, "analyze", "AAPL", "--config", path, "--date", "2024-05-10",
		"--job-id", "cli-test", "--interval", "10ms", "--log-level", "disabled")
	require.NoError(t, err)
	assert.Contains(t, out, "cli-test")
	assert.Contains(t, out, string(models.JobCompleted))

	out, err = execute(t, "status", "cli-test", "--config", path, "--log-level", "disabled")
	require.NoError(t, err)
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "2024-05-10")

	out, err = execute(t, "status", "--config", path, "--log-level", "disabled")
	require.NoError(t, err)
	assert.Contains(t, out, "Archived jobs")
	assert.Contains(t, out, "cli-test")
}

func TestAnalyzeJSON(t *testing.T) {
	path := offlineConfigFile(t, nil)

	out, err := execute(t, "analyze", "msft", "--config", path, "--json", "--log-level", "disabled")
	require.NoError(t, err)

	var res struct {
		Status   models.JobStatus `json:"status"`
		Progress struct {
			Percent float64 `json:"percent"`
		} `json:"progress"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, models.JobCompleted, res.Status)
	assert.Equal(t, 1.0, res.Progress.Percent)
}

func TestStatusUnknownJob(t *testing.T) {
	path := offlineConfigFile(t, nil)
	_, err := execute(t, "analyze", "AAPL", "--config", path, "--log-level", "disabled")
	require.NoError(t, err)

	_, err = execute(t, "status", "nope", "--config", path, "--log-level", "disabled")
	assert.ErrorContains(t, err, "not found")
}

func TestBatchCommand(t *testing.T) {
	path := offlineConfigFile(t, nil)

	out, err := execute(t, "batch", "AAPL", "MSFT", "TSLA", "-c", "2", "--config", path, "--log-level", "disabled")
	require.NoError(t, err)
	assert.Contains(t, out, "3 completed, 0 failed, 0 cancelled")
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parseDate("2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, 10, d.Day())

	_, err = parseDate("10/05/2024")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "cortexflow dev\n", out)
}
