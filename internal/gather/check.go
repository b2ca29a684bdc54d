package gather

import (
	"time"

	"github.com/shardfall/shardfall/pkg/core"
)

// Outcome tags a CheckResult.
type Outcome int

const (
	CheckClaimed Outcome = iota
	CheckRejected
)

func (o Outcome) String() string {
	if o == CheckRejected {
		return "rejected"
	}
	return "claimed"
}

// CheckResult is the answer of the claim check. A rejected result names the
// player holding the node, or has Depleted set when it is empty.
type CheckResult struct {
	Outcome        Outcome
	RejectedBy     string
	RejectedByName string
	Depleted       bool

	// Record is what the store held, nil when it held nothing or was unreachable.
	Record *core.ResourceRecord
	// FailedOpen is set when the store could not be read and the claim went ahead.
	FailedOpen bool
}

// Claimed reports whether the claim may proceed.
func (r CheckResult) Claimed() bool {
	return r.Outcome == CheckClaimed
}

// Evaluate decides a claim by selfID against the stored record rec at now. A
// foreign claim older than the gather duration plus grace counts as abandoned,
// as does a depletion whose refill has already run out.
func Evaluate(rec *core.ResourceRecord, selfID string, now time.Time, grace time.Duration) CheckResult {
	res := CheckResult{Outcome: CheckClaimed, Record: rec}
	if rec == nil {
		return res
	}
	age := now.Sub(time.UnixMilli(rec.LastUpdated))

	switch {
	case rec.IsGathered:
		if age < rec.Rarity.RefillDuration() {
			res.Outcome = CheckRejected
			res.Depleted = true
		}
	case rec.IsBeingGathered:
		claimant := rec.Claimant()
		if claimant == selfID || ClaimExpired(rec, now, grace) {
			break
		}
		res.Outcome = CheckRejected
		res.RejectedBy = claimant
		res.RejectedByName = rec.ClaimantName()
	}
	return res
}

// ClaimExpired reports whether a claim record is too old to still be held.
func ClaimExpired(rec *core.ResourceRecord, now time.Time, grace time.Duration) bool {
	return now.Sub(time.UnixMilli(rec.LastUpdated)) > rec.Rarity.GatherDuration()+grace
}
