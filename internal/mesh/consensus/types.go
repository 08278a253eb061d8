// Package consensus implements quorum-based approval of repository commits
// (§4.5): peers vote a compliance score on a proposed commit, the session
// is approved iff both the average score and the approval percentage clear
// their thresholds, and rejected commits land in mesh quarantine. A
// strategic override bypasses quorum entirely and is always logged in git
// history under the [PHOENIX-OVERRIDE] marker.
package consensus

import "time"

// Vote is one peer's judgment on a proposed commit.
type Vote struct {
	VoterNodeID string
	Score       float64
	Approved    bool
	Timestamp   time.Time
}

// Policy snapshots the thresholds a session was evaluated under, so a
// later config change never retroactively changes a past result.
type Policy struct {
	MinAverageScore      float64
	MinApprovalPercent   float64
	VoteTimeout          time.Duration
}

// DefaultPolicy matches §4.5's stated defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinAverageScore:    70,
		MinApprovalPercent: 50,
		VoteTimeout:        30 * time.Second,
	}
}

// Session is one commit's consensus round. Evaluated at most once.
type Session struct {
	CommitHash    string
	RequesterNode string
	Votes         []Vote
	StartedAt     time.Time
	Policy        Policy
	Evaluated     bool
	Result        *Result
}

// Result is the outcome of evaluating a Session.
type Result struct {
	CommitHash        string
	Approved          bool
	AverageScore      float64
	ApprovalPct       float64
	VoteCount         int
	StrategicOverride bool
	// QuarantineReason is set by Service.Evaluate on a rejected Result, and
	// on the synthetic Result Service.Status builds from a quarantine record
	// for a commit with no active session.
	QuarantineReason string
}

// Evaluate computes average score and approval percentage and decides
// approval. Per §8: approved ⇔ (average ≥ threshold_avg) ∧ (approval_pct ≥ threshold_pct).
func (s *Session) Evaluate() Result {
	var sum float64
	var approvedCount int
	for _, v := range s.Votes {
		sum += v.Score
		if v.Approved {
			approvedCount++
		}
	}
	n := len(s.Votes)
	avg := 0.0
	pct := 0.0
	if n > 0 {
		avg = sum / float64(n)
		pct = 100 * float64(approvedCount) / float64(n)
	}
	res := Result{
		CommitHash:   s.CommitHash,
		AverageScore: avg,
		ApprovalPct:  pct,
		VoteCount:    n,
		Approved:     avg >= s.Policy.MinAverageScore && pct >= s.Policy.MinApprovalPercent,
	}
	s.Evaluated = true
	s.Result = &res
	return res
}
