package pool

import (
	"github.com/montanaflynn/stats"

	"poolmachine/poolmachine"
)

// GetContributionStats summarises the contribution ledger of one goal for
// observers: how many contributors, and the mean, median and largest
// contribution so far.
func (l *Ledger) GetContributionStats(goalID int64) (ContributionStats, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if _, exists := l.pools[goalID]; !exists {
		return ContributionStats{}, poolmachine.E(poolmachine.CodeNotFound, "pool.GetContributionStats", "no pool for goal")
	}
	var amounts []float64
	for _, c := range l.contributions[goalID] {
		if c.Amount > 0 {
			amounts = append(amounts, float64(c.Amount))
		}
	}
	out := ContributionStats{Contributors: int64(len(amounts))}
	if len(amounts) == 0 {
		return out, nil
	}
	mean, err := stats.Mean(amounts)
	if err != nil {
		return out, poolmachine.E(poolmachine.CodeInvalidInput, "pool.GetContributionStats", err.Error())
	}
	median, err := stats.Median(amounts)
	if err != nil {
		return out, poolmachine.E(poolmachine.CodeInvalidInput, "pool.GetContributionStats", err.Error())
	}
	largest, err := stats.Max(amounts)
	if err != nil {
		return out, poolmachine.E(poolmachine.CodeInvalidInput, "pool.GetContributionStats", err.Error())
	}
	out.Mean = mean
	out.Median = median
	out.Largest = largest
	return out, nil
}
