// Package vouch computes trust verdicts for third-party dependencies.
//
// A verdict combines a content digest of the dependency's source tree with
// reviews collected in a web of trust. Reviews are signed statements about
// a digest; a dependency is verified when enough reviewers reachable from
// the root identity vouch for the exact digest of the tree on disk.
//
// # Verifying dependencies
//
// Build a [Verifier] once per run and call [Verifier.Verify] for every
// resolved dependency, or hand the whole list to [VerifyAll]:
//
//	v, err := vouch.NewVerifier(db, db, registry,
//	    vouch.WithRootIdentity(me),
//	    vouch.WithSkipVerified(true),
//	)
//	if err != nil {
//	    return err
//	}
//	summary, err := vouch.VerifyAll(ctx, v, deps, 8)
//
// Each [Dependency] carries its own [Status]. Registry lookups and the
// size metric are best effort and surface as absent [Optional] fields;
// other failures mark only that dependency as failed.
//
// # Capturing digests for review
//
// Before a new review is signed, [Capturer.Capture] moves the reviewed
// tree into quarantine, fetches the same package again, and only returns a
// digest when both copies agree:
//
//	c, err := vouch.NewCapturer(fetcher)
//	if err != nil {
//	    return err
//	}
//	capture, err := c.Capture(ctx, vouch.FetchRequest{Name: "serde", Version: "1.0.188"})
//
// # Digests
//
// [DigestDir] hashes a tree in a fixed, platform independent order,
// skipping the exact relative paths in an [IgnoreList]. The same tree
// yields the same digest on every machine.
//
// # Errors
//
// Errors wrap one of [ErrIO], [ErrDigest], [ErrPolicy] or
// [ErrCollaborator]; use [KindOf] or errors.Is to classify them.
package vouch
