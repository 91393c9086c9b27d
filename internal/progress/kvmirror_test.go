package progress

import (
	"context"
	"testing"
	"time"

	"github.com/dyike/CortexFlow/internal/testutil"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKVMirror(t *testing.T) (*KVMirror, jetstream.JetStream) {
	t.Helper()
	_, nc := testutil.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	m, err := NewKVMirror(context.Background(), js, "progress-test", time.Hour)
	require.NoError(t, err)
	return m, js
}

func TestKVMirror_RoundTrip(t *testing.T) {
	mirror, js := newKVMirror(t)
	ctx := context.Background()

	owner := NewTracker(WithMirror(mirror))
	require.NoError(t, owner.Initialize("job/with spaces", nil, Options{AnalystCount: 1}))
	require.NoError(t, owner.Report("job/with spaces", "News Analyst started", nil))
	require.NoError(t, owner.RecordStageResult("job/with spaces", "News", "quiet tape"))

	rec, err := mirror.Get(ctx, "job/with spaces")
	require.NoError(t, err)
	assert.Equal(t, "job/with spaces", rec.JobID)
	assert.InDelta(t, 0.40, rec.WeightedPercent, 1e-9)
	assert.Equal(t, "News & Fundamentals", rec.CurrentStageName)
	assert.Equal(t, "quiet tape", rec.StageResults["News"])
	assert.Len(t, rec.StageNames, 7)
	assert.Equal(t, 105*time.Second, rec.EstimatedDuration)

	// a second process opening the same bucket sees the record
	again, err := NewKVMirror(ctx, js, "progress-test", time.Hour)
	require.NoError(t, err)
	reader := NewTracker(WithMirror(again))
	v, err := reader.Snapshot("job/with spaces")
	require.NoError(t, err)
	assert.InDelta(t, 0.40, v.Percent, 1e-9)

	all, err := again.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = mirror.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestKVMirror_SimilarIDsStayApart(t *testing.T) {
	mirror, _ := newKVMirror(t)
	ctx := context.Background()

	tracker := NewTracker(WithMirror(mirror))
	require.NoError(t, tracker.Initialize("a.b", nil, Options{AnalystCount: 1}))
	require.NoError(t, tracker.Initialize("a_b", nil, Options{AnalystCount: 1}))
	require.NoError(t, tracker.Report("a.b", "News Analyst started", nil))

	dotted, err := mirror.Get(ctx, "a.b")
	require.NoError(t, err)
	assert.Equal(t, "a.b", dotted.JobID)
	assert.InDelta(t, 0.40, dotted.WeightedPercent, 1e-9)

	plain, err := mirror.Get(ctx, "a_b")
	require.NoError(t, err)
	assert.Equal(t, "a_b", plain.JobID)
	assert.Zero(t, plain.WeightedPercent)

	_, err = mirror.Get(ctx, "a/b")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestKVKey(t *testing.T) {
	assert.Equal(t, "job.abc-123_X", kvKey("abc-123_X"))
	assert.Equal(t, "job64.YS9iIGM", kvKey("a/b c"))

	ids := []string{"a_b", "a.b", "a/b", "a b", "a=b", "YV9i", "job64.YV9i"}
	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		key := kvKey(id)
		if prev, ok := seen[key]; ok {
			t.Fatalf("job ids %q and %q share key %q", prev, id, key)
		}
		seen[key] = id
	}
}
