package coordination

import "time"

// DefaultCommitDelta is δ in commitTs = max(prepareTs, lastCommittedTs+δ,
// clock.now()) (spec §4.10 "Save", step 3).
const DefaultCommitDelta = int64(1) // 1ms

// CommitTimestamp computes the monotonic commit timestamp for a save:
// never before prepareTs, never before lastCommittedTs+delta, and at
// least the clock's current reading.
func CommitTimestamp(prepareTs, lastCommittedTs int64, clock Clock, delta int64) int64 {
	ts := prepareTs

	if candidate := lastCommittedTs + delta; candidate > ts {
		ts = candidate
	}

	if now := clock.Now(); now > ts {
		ts = now
	}

	return ts
}

// HeadReadable reports whether a HEAD with the given commitTs is
// readable at readTs: readTs ≥ commitTs (spec §4.10 "Open" / §4.11
// bounded-staleness).
func HeadReadable(headCommitTs, readTs int64) bool {
	return readTs >= headCommitTs
}

// CommitWait spins with small sleeps until clock.Now() > commitTs +
// epsilonMs, guaranteeing external consistency relative to subsequent
// reads by this clock (spec §4.10 "Save", step 6). epsilonMs ≤ 0 disables
// the wait entirely — required when clock is a FixedClock, since it would
// otherwise spin forever.
func CommitWait(clock Clock, commitTs int64, epsilonMs int64, sleep func(time.Duration)) {
	if epsilonMs <= 0 {
		return
	}

	deadline := commitTs + epsilonMs

	for clock.Now() <= deadline {
		sleep(time.Millisecond)
	}
}
