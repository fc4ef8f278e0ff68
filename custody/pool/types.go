package pool

import (
	"poolmachine/poolmachine"
)

// Pool is the escrow record for one goal. One Pool per goalId, created once by
// the administrator, never deleted: deactivation is a terminal soft-flag.
type Pool struct {
	GoalID       int64
	TotalBalance int64
	TargetAmount int64
	Deadline     int64
	IsLocked     bool
	Asset        poolmachine.Asset
	Active       bool
	Creator      poolmachine.Account
}

// Contribution is a contributor's running deposit total for one goal.
// SharePercentage reflects pool-wide progress against the target at the
// contributor's last update, not their individual share of the pool.
type Contribution struct {
	Amount           int64
	LastUpdateHeight int64
	SharePercentage  int64
}

type Progress struct {
	Balance  int64 `json:"balance"`
	Target   int64 `json:"target"`
	Progress int64 `json:"progress"`
	Locked   bool  `json:"locked"`
}

// ContributionStats summarises the contribution ledger of one goal for
// observers. Amounts are reported as floats because that is what the stats
// library deals in.
type ContributionStats struct {
	Contributors int64   `json:"contributors"`
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	Largest      float64 `json:"largest"`
}
