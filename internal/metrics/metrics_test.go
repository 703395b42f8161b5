package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/vouch"
)

func TestRunCollects(t *testing.T) {
	t.Parallel()

	ds := &vouch.Durations{}
	ds.Add(vouch.StageDigest, 1500*time.Millisecond)
	ds.Add(vouch.StageTotal, 2*time.Second)

	run, err := NewRun(ds)
	require.NoError(t, err)

	run.Observe([]*vouch.Dependency{
		{Status: vouch.Status{State: vouch.StateOK, Record: &vouch.VerificationRecord{Verification: vouch.VerificationVerified}}},
		{Status: vouch.Status{State: vouch.StateOK, Record: &vouch.VerificationRecord{Verification: vouch.VerificationNone}}},
		{Status: vouch.Status{State: vouch.StateSkipped, Skip: vouch.SkipVerified}},
		{Status: vouch.Status{State: vouch.StateFailed}},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(run.outcomes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(run.outcomes.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(run.verdicts.WithLabelValues("verified")))

	want := `
# HELP vouch_stage_seconds_total Time spent per verification stage
# TYPE vouch_stage_seconds_total counter
vouch_stage_seconds_total{stage="digest"} 1.5
vouch_stage_seconds_total{stage="issues"} 0
vouch_stage_seconds_total{stage="latest_trusted"} 0
vouch_stage_seconds_total{stage="size_metric"} 0
vouch_stage_seconds_total{stage="total"} 2
`
	require.NoError(t, testutil.GatherAndCompare(run.Gatherer(), strings.NewReader(want), "vouch_stage_seconds_total"))
}

func TestRunWriteFile(t *testing.T) {
	t.Parallel()

	run, err := NewRun(&vouch.Durations{})
	require.NoError(t, err)
	run.Observe([]*vouch.Dependency{{Status: vouch.Status{State: vouch.StateFailed}}})

	path := filepath.Join(t.TempDir(), "vouch.prom")
	require.NoError(t, run.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `vouch_dependencies_total{state="failed"} 1`)
	assert.Contains(t, string(data), "vouch_stage_seconds_total")
}

func TestNewRunRequiresDurations(t *testing.T) {
	t.Parallel()

	_, err := NewRun(nil)
	assert.Error(t, err)
}
