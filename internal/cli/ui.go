package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/dyike/CortexFlow/internal/progress"
	"github.com/dyike/CortexFlow/internal/service"
	"github.com/dyike/CortexFlow/internal/storage/sqlite"
)

const barWidth = 30

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	barFilledStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	barEmptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#374151"))

	// Status styles
	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	inProgressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

var heatStyles = map[models.HeatLevel]lipgloss.Style{
	models.HeatIceCold: lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA")).Bold(true),
	models.HeatCold:    lipgloss.NewStyle().Foreground(lipgloss.Color("#93C5FD")),
	models.HeatNormal:  lipgloss.NewStyle().Foreground(lipgloss.Color("#D1D5DB")),
	models.HeatHot:     lipgloss.NewStyle().Foreground(lipgloss.Color("#F97316")),
	models.HeatBoiling: lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
}

func statusStyle(s models.JobStatus) lipgloss.Style {
	switch s {
	case models.JobRunning:
		return inProgressStyle
	case models.JobCompleted:
		return completedStyle
	case models.JobFailed, models.JobCancelled:
		return errorStyle
	}
	return pendingStyle
}

// progressBar renders percent in [0,1] as a fixed-width bar.
func progressBar(percent float64, width int) string {
	if width <= 0 {
		width = barWidth
	}
	percent = math.Max(0, math.Min(1, percent))
	filled := int(math.Round(percent * float64(width)))
	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

// progressLine is one line of live job progress.
func progressLine(v progress.View) string {
	line := fmt.Sprintf("%s %3.0f%% %s", progressBar(v.Percent, barWidth), v.Percent*100,
		statusStyle(v.Status).Render(v.CurrentStageName))
	if v.Message != "" {
		line += labelStyle.Render(" · " + truncateString(v.Message, 60))
	}
	if !v.Status.Terminal() && v.EstimatedRemainingSeconds > 0 {
		line += labelStyle.Render(" · ~" + formatDuration(seconds(v.EstimatedRemainingSeconds)) + " left")
	}
	return line
}

func renderHeat(h models.HeatAssessment) string {
	style, ok := heatStyles[h.Level]
	if !ok {
		style = lipgloss.NewStyle()
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Market Heat") + "\n")
	fmt.Fprintf(&b, "%s %s (%s)\n", labelStyle.Render("Score:"), style.Render(fmt.Sprintf("%.1f/100", h.Score)), style.Render(string(h.Level)))
	if h.SourceQuality != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Source:"), h.SourceQuality)
	}
	fmt.Fprintf(&b, "%s x%.2f  %s x%.2f  %s %d\n",
		labelStyle.Render("Position:"), h.RiskAdjustment.PositionMultiplier,
		labelStyle.Render("Stop-loss:"), h.RiskAdjustment.StopLossTightness,
		labelStyle.Render("Risk rounds:"), h.RiskAdjustment.DebateRounds)
	if h.Narrative != "" {
		b.WriteString("\n" + h.Narrative)
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderResult(res service.Result, v progress.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Job:"), res.JobID)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Status:"), statusStyle(res.Status).Render(string(res.Status)))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Elapsed:"), formatDuration(seconds(v.ElapsedSeconds)))
	if res.Heat != nil {
		fmt.Fprintf(&b, "%s %.1f (%s)\n", labelStyle.Render("Heat:"), res.Heat.Score, res.Heat.Level)
	}
	if res.Err != nil {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Error:"), errorStyle.Render(res.Err.Error()))
	}
	if res.Decision != "" {
		b.WriteString("\n" + titleStyle.Render("Decision") + "\n" + res.Decision)
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// recordLine summarizes a mirrored record for status listings.
func recordLine(rec *models.JobProgress) string {
	return fmt.Sprintf("%-36s %s %3.0f%% %-24s %s", rec.JobID,
		progressBar(rec.WeightedPercent, 20), rec.WeightedPercent*100,
		rec.CurrentStageName, statusStyle(rec.Status).Render(string(rec.Status)))
}

func renderRecord(rec *models.JobProgress, now time.Time) string {
	end := now
	if rec.Status.Terminal() && !rec.FinishedAt.IsZero() {
		end = rec.FinishedAt
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Job:"), rec.JobID)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Status:"), statusStyle(rec.Status).Render(string(rec.Status)))
	fmt.Fprintf(&b, "%s %s %.0f%%\n", labelStyle.Render("Progress:"), progressBar(rec.WeightedPercent, barWidth), rec.WeightedPercent*100)
	fmt.Fprintf(&b, "%s %d/%d %s\n", labelStyle.Render("Stage:"), rec.CurrentStageIndex+1, rec.TotalStages, rec.CurrentStageName)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Message:"), rec.Message)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Elapsed:"), formatDuration(end.Sub(rec.StartedAt)))
	if rec.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Error:"), errorStyle.Render(rec.Error))
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func archivedLine(j sqlite.JobWithMeta) string {
	return fmt.Sprintf("%-36s %-8s %-10s %-10s heat %5.1f %-8s %s", j.ID, j.Symbol, j.TradeDate,
		statusStyle(models.JobStatus(j.Status)).Render(j.Status), j.HeatScore, j.HeatLevel,
		truncateString(firstLine(j.Decision), 40))
}

func renderArchived(j *sqlite.JobWithMeta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s %s)\n", labelStyle.Render("Job:"), j.ID, j.Symbol, j.TradeDate)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Status:"), statusStyle(models.JobStatus(j.Status)).Render(j.Status))
	fmt.Fprintf(&b, "%s %.1f (%s, %s)\n", labelStyle.Render("Heat:"), j.HeatScore, j.HeatLevel, j.SourceQuality)
	if !j.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Took:"), formatDuration(j.FinishedAt.Sub(j.StartedAt)))
	}
	if j.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Error:"), errorStyle.Render(j.Error))
	}
	if j.Decision != "" {
		b.WriteString("\n" + titleStyle.Render("Decision") + "\n" + j.Decision)
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncateString(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
