package tally

import "math"

// Default thresholds used across the bot.
const (
	DefaultQuorumFraction = 0.40
	DefaultPassFraction   = 0.80
)

// Verdict is the outcome of evaluating a finished vote.
type Verdict struct {
	Yes               int
	No                int
	QuorumMet         bool
	PassThresholdMet  bool
	Passed            bool
	RequiredQuorum    int
	RequiredPassVotes int
}

// Evaluate decides pass/fail for a tally. Both thresholds round up, so
// a fractional vote never satisfies a requirement: quorum needs
// ceil(eligible * quorumFraction) total ballots, passing needs
// ceil(total * passFraction) yes ballots, and both must hold.
func Evaluate(yes, no, eligible int, quorumFraction, passFraction float64) Verdict {
	total := yes + no
	requiredQuorum := ceilFraction(eligible, quorumFraction)
	requiredPass := ceilFraction(total, passFraction)

	v := Verdict{
		Yes:               yes,
		No:                no,
		QuorumMet:         total >= requiredQuorum,
		PassThresholdMet:  yes >= requiredPass,
		RequiredQuorum:    requiredQuorum,
		RequiredPassVotes: requiredPass,
	}
	v.Passed = v.QuorumMet && v.PassThresholdMet
	return v
}

// ceilFraction computes ceil(n * frac) with a tolerance for float
// noise (25 * 0.4 must be 10, not 11).
func ceilFraction(n int, frac float64) int {
	return int(math.Ceil(float64(n)*frac - 1e-9))
}
