package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dyike/CortexFlow/config"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/dyike/CortexFlow/internal/progress"
)

func TestProgressBar(t *testing.T) {
	for _, tc := range []struct {
		percent float64
		filled  int
	}{
		{0, 0},
		{0.5, 5},
		{1, 10},
		{1.7, 10},
		{-0.2, 0},
	} {
		bar := progressBar(tc.percent, 10)
		assert.Equal(t, tc.filled, strings.Count(bar, "█"), "percent %v", tc.percent)
		assert.Equal(t, 10-tc.filled, strings.Count(bar, "░"), "percent %v", tc.percent)
	}
}

func TestProgressLineHidesETAWhenTerminal(t *testing.T) {
	v := progress.View{
		Status:                    models.JobRunning,
		Percent:                   0.4,
		CurrentStageName:          "Bull Researcher",
		Message:                   "debating",
		EstimatedRemainingSeconds: 90,
	}
	assert.Contains(t, progressLine(v), "1m30s left")

	v.Status = models.JobCompleted
	assert.NotContains(t, progressLine(v), "left")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "42s", formatDuration(41600*time.Millisecond))
	assert.Equal(t, "2m05s", formatDuration(125*time.Second))
	assert.Equal(t, "1h01m", formatDuration(time.Hour+90*time.Second))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcd…", truncateString("abcdefgh", 5))
	assert.Equal(t, "市场过…", truncateString("市场过热回调", 4))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "BUY", firstLine("BUY\nbecause"))
	assert.Equal(t, "HOLD", firstLine("HOLD"))
}

func TestMaskSecrets(t *testing.T) {
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	cfg.DeepSeekAPIKey = "sk-1"
	cfg.LongportAccessToken = "tok"

	masked := maskSecrets(cfg)
	assert.Equal(t, secretMask, masked.DeepSeekAPIKey)
	assert.Equal(t, secretMask, masked.LongportAccessToken)
	assert.Empty(t, masked.MarketStatsAPIKey)
	assert.Equal(t, "sk-1", cfg.DeepSeekAPIKey)
}

func TestSummarize(t *testing.T) {
	completed, failed, cancelled := summarize([]BatchResult{
		{Status: models.JobCompleted},
		{Status: models.JobCompleted},
		{Status: models.JobFailed},
		{Status: models.JobCancelled},
		{Status: models.JobRunning},
	})
	assert.Equal(t, 2, completed)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, cancelled)
}

func TestValidateTicker(t *testing.T) {
	assert.NoError(t, validateTicker("aapl"))
	assert.NoError(t, validateTicker("0700.HK"))
	assert.NoError(t, validateTicker("^GSPC"))
	assert.Error(t, validateTicker(""))
	assert.Error(t, validateTicker("WAY-TOO-LONG-TICKER"))
	assert.Error(t, validateTicker("AA PL"))
}
