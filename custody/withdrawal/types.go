package withdrawal

import (
	"poolmachine/poolmachine"
)

// MaxReasonLength bounds the free-text reason on a refund request.
const MaxReasonLength = 560

// Request is the one-per-goal refund proposal. Identity fields are set at
// creation and never change; only the tallies, deadline bookkeeping and the
// executed flag mutate. The map entry is never deleted, so a goal gets exactly
// one request for the lifetime of the machine.
type Request struct {
	GoalID         int64
	Requester      poolmachine.Account
	Reason         string
	VotesFor       int64
	VotesAgainst   int64
	TotalVoters    int64
	VotingDeadline int64
	Executed       bool
	RefundAmount   int64
}

// GoalState is the derived lifecycle of a goal as seen by this engine. It is
// computed from the oracle mirror and the request ledger, never stored.
type GoalState int64

const (
	StateActive GoalState = iota
	StateFailed
	StateRequestOpen
	StateVotingClosed
	StateExecuted
	StatePayoutClaimable
	StateClaimed
)

func (s GoalState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateRequestOpen:
		return "request_open"
	case StateVotingClosed:
		return "voting_closed"
	case StateExecuted:
		return "executed"
	case StatePayoutClaimable:
		return "payout_claimable"
	case StateClaimed:
		return "claimed"
	}
	return "unknown"
}
