package proofdb

import (
	"maps"
	"slices"
	"strings"

	"github.com/meigma/vouch"
)

type trustVisit struct {
	id vouch.Identity
	vouch.TrustedID
}

// TrustSet computes the identities trusted from root.
//
// Trust flows along trust proofs: each edge adds the distance params
// assign to its level, and an identity's effective level is the lowest
// level along its path. Identities beyond params.MaxDistance are left out.
// When several paths reach an identity the one with the higher effective
// level wins, then the shorter one.
//
// Distrust is applied by members in trust order: higher level first, then
// shorter distance, then identity. A distrusted identity is removed, is not
// used to reach others, and its own distrust proofs are ignored. The set
// is recomputed until the distrusted identities settle; if they alternate,
// every identity distrusted in the cycle is removed. root is always a
// member, at high trust and distance zero.
func (db *DB) TrustSet(root vouch.Identity, params vouch.DistanceParams) (*vouch.TrustSet, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	banned := map[vouch.Identity]struct{}{}
	var history []map[vouch.Identity]struct{}
	for {
		best := db.walkTrust(root, params, banned)
		next := db.distrusted(root, best)
		if maps.Equal(next, banned) {
			return db.buildTrustSet(root, best, banned), nil
		}
		history = append(history, banned)
		if i := slices.IndexFunc(history, func(h map[vouch.Identity]struct{}) bool { return maps.Equal(h, next) }); i >= 0 {
			union := map[vouch.Identity]struct{}{}
			for _, h := range history[i:] {
				maps.Copy(union, h)
			}
			return db.buildTrustSet(root, db.walkTrust(root, params, union), union), nil
		}
		banned = next
	}
}

func (db *DB) buildTrustSet(root vouch.Identity, best map[vouch.Identity]vouch.TrustedID, banned map[vouch.Identity]struct{}) *vouch.TrustSet {
	ts := vouch.NewTrustSet()
	for id, t := range best {
		ts.Set(id, t.Level, t.Distance)
	}
	db.log().Debug("trust set computed", "root", root, "members", ts.Len(), "distrusted", len(banned))
	return ts
}

// distrusted returns the identities distrusted by members of best,
// visiting members in trust order and skipping members already
// distrusted by a more trusted one.
func (db *DB) distrusted(root vouch.Identity, best map[vouch.Identity]vouch.TrustedID) map[vouch.Identity]struct{} {
	members := slices.Collect(maps.Keys(best))
	slices.SortFunc(members, func(a, b vouch.Identity) int {
		ta, tb := best[a], best[b]
		switch {
		case better(ta, tb):
			return -1
		case better(tb, ta):
			return 1
		default:
			return strings.Compare(string(a), string(b))
		}
	})

	out := map[vouch.Identity]struct{}{}
	for _, id := range members {
		if _, ok := out[id]; ok {
			continue
		}
		for target, edge := range db.trust[id] {
			if edge.level == vouch.TrustDistrust && target != root {
				out[target] = struct{}{}
			}
		}
	}
	return out
}

// walkTrust explores trust edges from root, skipping banned identities.
func (db *DB) walkTrust(root vouch.Identity, params vouch.DistanceParams, banned map[vouch.Identity]struct{}) map[vouch.Identity]vouch.TrustedID {
	best := map[vouch.Identity]vouch.TrustedID{
		root: {Level: vouch.TrustHigh, Distance: 0},
	}
	queue := []trustVisit{{id: root, TrustedID: best[root]}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if best[cur.id] != cur.TrustedID {
			// A better path was found after this one was queued.
			continue
		}

		targets := make([]vouch.Identity, 0, len(db.trust[cur.id]))
		for id := range db.trust[cur.id] {
			targets = append(targets, id)
		}
		slices.Sort(targets)

		for _, target := range targets {
			if _, ok := banned[target]; ok || target == root {
				continue
			}
			edge := db.trust[cur.id][target]
			cost, ok := params.EdgeCost(edge.level)
			if !ok {
				continue
			}
			dist := cur.Distance + cost
			if dist > params.MaxDistance {
				continue
			}
			next := vouch.TrustedID{Level: min(cur.Level, edge.level), Distance: dist}
			prev, seen := best[target]
			if seen && !better(next, prev) {
				continue
			}
			best[target] = next
			queue = append(queue, trustVisit{id: target, TrustedID: next})
		}
	}
	return best
}

func better(a, b vouch.TrustedID) bool {
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	return a.Distance < b.Distance
}
