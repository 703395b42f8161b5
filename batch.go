package vouch

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchSummary counts the outcomes of a batch.
type BatchSummary struct {
	OK      int
	Skipped int
	Failed  int
}

// VerifyAll verifies deps with up to workers concurrent verifications.
// workers <= 0 uses GOMAXPROCS.
//
// Each dependency's outcome is stored in its Status; results stay in the
// order of deps regardless of completion order. A failed dependency does
// not stop the others. VerifyAll only returns early, with ctx's error,
// when ctx is canceled before every dependency has been started.
func VerifyAll(ctx context.Context, v *Verifier, deps []*Dependency, workers int) (BatchSummary, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, dep := range deps {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			v.Verify(ctx, dep)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	var sum BatchSummary
	for _, dep := range deps {
		switch dep.Status.State {
		case StateOK:
			sum.OK++
		case StateSkipped:
			sum.Skipped++
		case StateFailed:
			sum.Failed++
		}
	}
	v.log().Info("batch verified",
		"ok", sum.OK, "skipped", sum.Skipped, "failed", sum.Failed,
		"durations", v.durations.Snapshot().String(),
	)
	return sum, ctx.Err()
}
