package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_ArchiveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

	job := JobRecord{
		ID:            "job-1",
		Symbol:        "NVDA",
		TradeDate:     "2024-05-10",
		Status:        "completed",
		Percent:       1,
		HeatScore:     66.5,
		HeatLevel:     "hot",
		SourceQuality: "live",
		Decision:      "BUY",
		StartedAt:     started,
		FinishedAt:    started.Add(3 * time.Minute),
		StageResults:  map[string]string{"Trader": "buy half", "Portfolio Manager": "approve"},
	}
	require.NoError(t, s.ArchiveJob(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "NVDA", got.Symbol)
	assert.Equal(t, "completed", got.Status)
	assert.InDelta(t, 66.5, got.HeatScore, 1e-9)
	assert.Equal(t, "hot", got.HeatLevel)
	assert.True(t, started.Equal(got.StartedAt))
	assert.True(t, job.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, job.StageResults, got.StageResults)

	results, err := s.ListStageResults(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Portfolio Manager", results[0].Stage)
}

func TestStore_ArchiveIsUpsert(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.ArchiveJob(ctx, JobRecord{ID: "job", Status: "running", StageResults: map[string]string{"a": "1", "b": "2"}}))
	require.NoError(t, s.ArchiveJob(ctx, JobRecord{ID: "job", Status: "failed", Error: "boom", StageResults: map[string]string{"a": "3"}}))

	got, err := s.GetJob(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, map[string]string{"a": "3"}, got.StageResults)
	assert.True(t, got.StartedAt.IsZero())
}

func TestStore_ListJobsPagesNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.ArchiveJob(ctx, JobRecord{ID: id, Status: "completed"}))
	}

	page, err := s.ListJobs(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	rest, err := s.ListJobs(ctx, page[1].RowID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "a", rest[0].ID)
}

func TestStore_MissingAndInvalid(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	got, err := s.GetJob(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, s.ArchiveJob(ctx, JobRecord{Status: "completed"}))
	assert.Error(t, s.ArchiveJob(ctx, JobRecord{ID: "x"}))
	_, err = s.GetJob(ctx, " ")
	assert.Error(t, err)

	_, err = Open("")
	assert.Error(t, err)
}
