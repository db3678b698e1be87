package tally

import "testing"

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		yes, no  int
		eligible int
		quorum   float64
		pass     float64
		want     Verdict
	}{
		{
			name: "quorum_boundary_passes",
			yes:  8, no: 2, eligible: 25, quorum: 0.4, pass: 0.8,
			want: Verdict{
				Yes: 8, No: 2,
				QuorumMet: true, PassThresholdMet: true, Passed: true,
				RequiredQuorum: 10, RequiredPassVotes: 8,
			},
		},
		{
			name: "high_approval_but_no_quorum",
			yes:  8, no: 1, eligible: 25, quorum: 0.4, pass: 0.8,
			want: Verdict{
				Yes: 8, No: 1,
				QuorumMet: false, PassThresholdMet: true, Passed: false,
				RequiredQuorum: 10, RequiredPassVotes: 8,
			},
		},
		{
			name: "clear_pass",
			yes:  12, no: 3, eligible: 25, quorum: 0.4, pass: 0.8,
			want: Verdict{
				Yes: 12, No: 3,
				QuorumMet: true, PassThresholdMet: true, Passed: true,
				RequiredQuorum: 10, RequiredPassVotes: 12,
			},
		},
		{
			name: "quorum_met_approval_short",
			yes:  8, no: 7, eligible: 25, quorum: 0.4, pass: 0.8,
			want: Verdict{
				Yes: 8, No: 7,
				QuorumMet: true, PassThresholdMet: false, Passed: false,
				RequiredQuorum: 10, RequiredPassVotes: 12,
			},
		},
		{
			name: "no_votes_at_all",
			yes:  0, no: 0, eligible: 25, quorum: 0.4, pass: 0.8,
			want: Verdict{
				QuorumMet: false, PassThresholdMet: true, Passed: false,
				RequiredQuorum: 10, RequiredPassVotes: 0,
			},
		},
		{
			name: "fractional_thresholds_round_up",
			yes:  5, no: 2, eligible: 17, quorum: 0.4, pass: 0.8,
			// quorum ceil(6.8)=7, pass ceil(5.6)=6
			want: Verdict{
				Yes: 5, No: 2,
				QuorumMet: true, PassThresholdMet: false, Passed: false,
				RequiredQuorum: 7, RequiredPassVotes: 6,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.yes, tt.no, tt.eligible, tt.quorum, tt.pass)
			if got != tt.want {
				t.Fatalf("Evaluate(%d,%d,%d,%v,%v)\ngot : %+v\nwant: %+v",
					tt.yes, tt.no, tt.eligible, tt.quorum, tt.pass, got, tt.want)
			}
		})
	}
}

func TestCeilFractionExactProducts(t *testing.T) {
	// 25*0.4 and 10*0.8 are exact in decimal; float noise must not
	// bump them to 11 or 9.
	if got := ceilFraction(25, 0.4); got != 10 {
		t.Fatalf("ceilFraction(25, 0.4) = %d, want 10", got)
	}
	if got := ceilFraction(10, 0.8); got != 8 {
		t.Fatalf("ceilFraction(10, 0.8) = %d, want 8", got)
	}
	if got := ceilFraction(0, 0.8); got != 0 {
		t.Fatalf("ceilFraction(0, 0.8) = %d, want 0", got)
	}
}
