package vouch

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stage identifies a timed part of the verification pipeline.
type Stage uint8

const (
	StageDigest Stage = iota
	StageSizeMetric
	StageLatestTrusted
	StageIssues
	StageTotal
	numStages
)

// Stages lists every stage in reporting order.
var Stages = []Stage{StageDigest, StageSizeMetric, StageLatestTrusted, StageIssues, StageTotal}

func (s Stage) String() string {
	switch s {
	case StageDigest:
		return "digest"
	case StageSizeMetric:
		return "size_metric"
	case StageLatestTrusted:
		return "latest_trusted"
	case StageIssues:
		return "issues"
	case StageTotal:
		return "total"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Durations accumulates elapsed time per stage across every dependency of
// a run. It is safe for concurrent use. The zero value is ready to use.
type Durations struct {
	stages [numStages]atomic.Int64
}

// Add adds d to stage s.
func (ds *Durations) Add(s Stage, d time.Duration) {
	if s >= numStages || d <= 0 {
		return
	}
	ds.stages[s].Add(int64(d))
}

// Get returns the accumulated time of stage s.
func (ds *Durations) Get(s Stage) time.Duration {
	if s >= numStages {
		return 0
	}
	return time.Duration(ds.stages[s].Load())
}

// Snapshot returns a point-in-time copy.
func (ds *Durations) Snapshot() DurationsSnapshot {
	return DurationsSnapshot{
		Digest:        ds.Get(StageDigest),
		SizeMetric:    ds.Get(StageSizeMetric),
		LatestTrusted: ds.Get(StageLatestTrusted),
		Issues:        ds.Get(StageIssues),
		Total:         ds.Get(StageTotal),
	}
}

// DurationsSnapshot is a read-only copy of Durations.
type DurationsSnapshot struct {
	Digest        time.Duration
	SizeMetric    time.Duration
	LatestTrusted time.Duration
	Issues        time.Duration
	Total         time.Duration
}

// Get returns the snapshot value for stage s.
func (s DurationsSnapshot) Get(stage Stage) time.Duration {
	switch stage {
	case StageDigest:
		return s.Digest
	case StageSizeMetric:
		return s.SizeMetric
	case StageLatestTrusted:
		return s.LatestTrusted
	case StageIssues:
		return s.Issues
	case StageTotal:
		return s.Total
	default:
		return 0
	}
}

func (s DurationsSnapshot) String() string {
	return fmt.Sprintf("digest=%s size_metric=%s latest_trusted=%s issues=%s total=%s",
		s.Digest, s.SizeMetric, s.LatestTrusted, s.Issues, s.Total)
}

// stageTimer measures one stage and adds it to a Durations on stop.
type stageTimer struct {
	ds    *Durations
	stage Stage
	start time.Time
}

func (ds *Durations) start(s Stage) stageTimer {
	return stageTimer{ds: ds, stage: s, start: time.Now()}
}

// stop records the elapsed time. Stages that complete faster than the
// clock resolution are recorded as one nanosecond so that every executed
// stage is visible in the totals.
func (t stageTimer) stop() {
	d := time.Since(t.start)
	if d <= 0 {
		d = time.Nanosecond
	}
	t.ds.Add(t.stage, d)
}
