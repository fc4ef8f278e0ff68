// Package pool is the custody ledger: per-goal escrow records and the
// per-contributor contribution ledger. Funds only move through the transfer
// capability; every mutation validates its preconditions in a fixed order and
// touches no state until all of them hold.
package pool

import (
	"fmt"
	"os"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/sasha-s/go-deadlock"

	"poolmachine/custody/params"
	"poolmachine/database"
	"poolmachine/poolmachine"
	"poolmachine/transfer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Ledger struct {
	mutex         *deadlock.Mutex
	pools         map[int64]Pool
	contributions map[int64]map[poolmachine.Account]Contribution
	params        *params.Params
	movers        *transfer.Router
	emit          poolmachine.Emitter
	height        func() int64
	persisting    bool
	sequence      int64
}

func NewLedger(p *params.Params, movers *transfer.Router, emit poolmachine.Emitter, height func() int64) *Ledger {
	return &Ledger{
		mutex:         &deadlock.Mutex{},
		pools:         make(map[int64]Pool),
		contributions: make(map[int64]map[poolmachine.Account]Contribution),
		params:        p,
		movers:        movers,
		emit:          emit,
		height:        height,
	}
}

// Start restores the ledger from disk and persists a final snapshot on
// terminate. It blocks until the ledger is ready to use.
func (l *Ledger) Start(terminate chan struct{}, wg *sync.WaitGroup) {
	ready := make(chan struct{})
	go l.start(terminate, wg, ready)
	<-ready
	poolmachine.LogCLI("Pool Ledger has started", 4)
}

func (l *Ledger) start(terminate chan struct{}, wg *sync.WaitGroup, ready chan struct{}) {
	wg.Add(1)
	if c, ok := database.Open("pool", "current"); ok {
		l.restoreFromDisk(c)
	}
	l.mutex.Lock()
	l.persisting = true
	l.mutex.Unlock()
	close(ready)
	<-terminate
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.takeSnapshot()
	wg.Done()
	poolmachine.LogCLI("Pool Ledger has shut down", 4)
}

type ledgerState struct {
	Pools         map[int64]Pool
	Contributions map[int64]map[poolmachine.Account]Contribution
}

func (l *Ledger) restoreFromDisk(f *os.File) {
	l.mutex.Lock()
	var state ledgerState
	err := json.NewDecoder(f).Decode(&state)
	if err != nil {
		if err.Error() != "EOF" {
			poolmachine.LogCLI(err.Error(), 0)
		}
	}
	if state.Pools != nil {
		l.pools = state.Pools
	}
	if state.Contributions != nil {
		l.contributions = state.Contributions
	}
	l.mutex.Unlock()
	err = f.Close()
	if err != nil {
		poolmachine.LogCLI(err.Error(), 0)
	}
}

// InitializePool creates the escrow record for a goal. Administrator only.
func (l *Ledger) InitializePool(caller poolmachine.Account, goalID, targetAmount, deadline int64, asset poolmachine.Asset) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if !l.params.IsAdmin(caller) {
		return poolmachine.E(poolmachine.CodeAuthorization, "pool.InitializePool", "caller is not the administrator")
	}
	if targetAmount <= 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "pool.InitializePool", "target amount must be positive")
	}
	if deadline <= l.currentHeight() {
		return poolmachine.E(poolmachine.CodeInvalidInput, "pool.InitializePool", "deadline must be strictly in the future")
	}
	if _, exists := l.pools[goalID]; exists {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.InitializePool", "pool already exists for goal")
	}
	if int64(len(l.pools))+1 > l.params.PoolCap() {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.InitializePool", "pool cap would be exceeded")
	}
	if _, err := l.movers.For(asset); err != nil {
		return err
	}
	l.pools[goalID] = Pool{
		GoalID:       goalID,
		TotalBalance: 0,
		TargetAmount: targetAmount,
		Deadline:     deadline,
		IsLocked:     false,
		Asset:        asset,
		Active:       true,
		Creator:      caller,
	}
	l.sequence++
	l.takeSnapshot()
	l.emitChange("pool_initialized", caller, goalID, map[string]string{
		"target":   fmt.Sprint(targetAmount),
		"deadline": fmt.Sprint(deadline),
		"asset":    asset.String(),
	})
	poolmachine.LogActor("pool.InitializePool", l.pools[goalID])
	return nil
}

// Deposit moves amount from the caller into custody and records the
// contribution. Open to any caller while the pool is active, unlocked and
// before (or at) the deadline.
func (l *Ledger) Deposit(caller poolmachine.Account, goalID, amount int64, asset poolmachine.Asset) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	p, exists := l.pools[goalID]
	if !exists {
		return poolmachine.E(poolmachine.CodeNotFound, "pool.Deposit", "no pool for goal")
	}
	if !p.Active {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.Deposit", "pool is not active")
	}
	if amount <= 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "pool.Deposit", "amount must be positive")
	}
	if p.IsLocked {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.Deposit", "pool is locked")
	}
	if l.currentHeight() > p.Deadline {
		return poolmachine.E(poolmachine.CodeTemporal, "pool.Deposit", "deadline has passed")
	}
	if !asset.Equal(p.Asset) {
		return poolmachine.E(poolmachine.CodeInvalidInput, "pool.Deposit", "asset does not match pool")
	}
	// the transfer happens before any map mutation so that a failed transfer
	// leaves the ledger byte-identical to before the call
	if err := l.movers.MoveIn(caller, amount, asset); err != nil {
		return err
	}
	p.TotalBalance += amount
	l.pools[goalID] = p
	c := l.contributions[goalID][caller]
	c.Amount += amount
	c.LastUpdateHeight = l.currentHeight()
	c.SharePercentage = poolmachine.ProgressPercent(p.TotalBalance, p.TargetAmount)
	l.upsertContribution(goalID, caller, c)
	l.sequence++
	l.takeSnapshot()
	l.emitChange("pool_deposit", caller, goalID, map[string]string{
		"amount":  fmt.Sprint(amount),
		"balance": fmt.Sprint(p.TotalBalance),
	})
	return nil
}

// Withdraw moves amount from custody back to the caller. A contributor can
// only take out what they put in, never another's deposits.
func (l *Ledger) Withdraw(caller poolmachine.Account, goalID, amount int64, asset poolmachine.Asset) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	p, exists := l.pools[goalID]
	if !exists {
		return poolmachine.E(poolmachine.CodeNotFound, "pool.Withdraw", "no pool for goal")
	}
	if !p.Active {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.Withdraw", "pool is not active")
	}
	if amount <= 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "pool.Withdraw", "amount must be positive")
	}
	if p.TotalBalance < amount {
		return poolmachine.E(poolmachine.CodeInsufficientFunds, "pool.Withdraw", "pool balance too low")
	}
	c := l.contributions[goalID][caller]
	if c.Amount < amount {
		return poolmachine.E(poolmachine.CodeInsufficientFunds, "pool.Withdraw", "caller's contribution too low")
	}
	if p.IsLocked {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.Withdraw", "pool is locked")
	}
	if !asset.Equal(p.Asset) {
		return poolmachine.E(poolmachine.CodeInvalidInput, "pool.Withdraw", "asset does not match pool")
	}
	if err := l.movers.MoveOut(caller, amount, asset); err != nil {
		return err
	}
	p.TotalBalance -= amount
	l.pools[goalID] = p
	c.Amount -= amount
	c.LastUpdateHeight = l.currentHeight()
	c.SharePercentage = poolmachine.ProgressPercent(p.TotalBalance, p.TargetAmount)
	l.upsertContribution(goalID, caller, c)
	l.sequence++
	l.takeSnapshot()
	l.emitChange("pool_withdrawal", caller, goalID, map[string]string{
		"amount":  fmt.Sprint(amount),
		"balance": fmt.Sprint(p.TotalBalance),
	})
	return nil
}

// Lock is the temporary custody hold used while a goal is being finalized.
// While locked, deposits and withdrawals are both blocked.
func (l *Ledger) Lock(caller poolmachine.Account, goalID int64) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if !l.params.IsAdmin(caller) {
		return poolmachine.E(poolmachine.CodeAuthorization, "pool.Lock", "caller is not the administrator")
	}
	p, exists := l.pools[goalID]
	if !exists {
		return poolmachine.E(poolmachine.CodeNotFound, "pool.Lock", "no pool for goal")
	}
	if !p.Active {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.Lock", "pool is not active")
	}
	if p.IsLocked {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.Lock", "pool already locked")
	}
	p.IsLocked = true
	l.pools[goalID] = p
	l.sequence++
	l.takeSnapshot()
	l.emitChange("pool_locked", caller, goalID, nil)
	return nil
}

func (l *Ledger) Unlock(caller poolmachine.Account, goalID int64) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if !l.params.IsAdmin(caller) {
		return poolmachine.E(poolmachine.CodeAuthorization, "pool.Unlock", "caller is not the administrator")
	}
	p, exists := l.pools[goalID]
	if !exists {
		return poolmachine.E(poolmachine.CodeNotFound, "pool.Unlock", "no pool for goal")
	}
	if !p.IsLocked {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.Unlock", "pool is not locked")
	}
	p.IsLocked = false
	l.pools[goalID] = p
	l.sequence++
	l.takeSnapshot()
	l.emitChange("pool_unlocked", caller, goalID, nil)
	return nil
}

// Deactivate is one-way: once inactive, deposit, withdraw and lock all fail
// forever. The record itself is never deleted.
func (l *Ledger) Deactivate(caller poolmachine.Account, goalID int64) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if !l.params.IsAdmin(caller) {
		return poolmachine.E(poolmachine.CodeAuthorization, "pool.Deactivate", "caller is not the administrator")
	}
	p, exists := l.pools[goalID]
	if !exists {
		return poolmachine.E(poolmachine.CodeNotFound, "pool.Deactivate", "no pool for goal")
	}
	if !p.Active {
		return poolmachine.E(poolmachine.CodeStateConflict, "pool.Deactivate", "pool already deactivated")
	}
	p.Active = false
	l.pools[goalID] = p
	l.sequence++
	l.takeSnapshot()
	l.emitChange("pool_deactivated", caller, goalID, nil)
	return nil
}

// GetProgress reports pool-wide progress toward the target.
func (l *Ledger) GetProgress(goalID int64) (Progress, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	p, exists := l.pools[goalID]
	if !exists {
		return Progress{}, poolmachine.E(poolmachine.CodeNotFound, "pool.GetProgress", "no pool for goal")
	}
	return Progress{
		Balance:  p.TotalBalance,
		Target:   p.TargetAmount,
		Progress: poolmachine.ProgressPercent(p.TotalBalance, p.TargetAmount),
		Locked:   p.IsLocked,
	}, nil
}

func (l *Ledger) PoolFor(goalID int64) (Pool, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	p, ok := l.pools[goalID]
	return p, ok
}

// AllPools returns a copy of every pool keyed by goal.
func (l *Ledger) AllPools() map[int64]Pool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	out := make(map[int64]Pool, len(l.pools))
	for id, p := range l.pools {
		out[id] = p
	}
	return out
}

func (l *Ledger) ContributionFor(goalID int64, contributor poolmachine.Account) (Contribution, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	c, ok := l.contributions[goalID][contributor]
	return c, ok
}

// AssetFor reports the asset a goal's pool settles in. The second return is
// false when no pool exists for the goal.
func (l *Ledger) AssetFor(goalID int64) (poolmachine.Asset, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	p, ok := l.pools[goalID]
	if !ok {
		return poolmachine.Asset{}, false
	}
	return p.Asset, true
}

// NewBlock validates the conservation invariant: for every goal the pool
// balance equals the sum of its contributions.
func (l *Ledger) NewBlock() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.validateInvariants()
}

func (l *Ledger) validateInvariants() bool {
	for goalID, p := range l.pools {
		var total int64
		for _, c := range l.contributions[goalID] {
			total += c.Amount
		}
		if total != p.TotalBalance {
			poolmachine.LogCLI(fmt.Sprintf("conservation broken for goal %d: pool %d, contributions %d", goalID, p.TotalBalance, total), 1)
			return false
		}
		if p.TotalBalance < 0 {
			poolmachine.LogCLI(fmt.Sprintf("negative balance for goal %d", goalID), 1)
			return false
		}
	}
	return true
}

func (l *Ledger) upsertContribution(goalID int64, contributor poolmachine.Account, c Contribution) {
	if l.contributions[goalID] == nil {
		l.contributions[goalID] = make(map[poolmachine.Account]Contribution)
	}
	l.contributions[goalID][contributor] = c
}

func (l *Ledger) currentHeight() int64 {
	if l.height == nil {
		return 0
	}
	return l.height()
}

// takeSnapshot persists the full ledger state, indexed by deterministic state
// hash plus a "current" file. Callers must hold the mutex.
func (l *Ledger) takeSnapshot() poolmachine.HashSeq {
	hs := l.hashSeq()
	if !l.persisting {
		return hs
	}
	b, err := json.MarshalIndent(ledgerState{Pools: l.pools, Contributions: l.contributions}, "", " ")
	if err != nil {
		poolmachine.LogCLI(err.Error(), 0)
	}
	database.Write("pool", hs.Hash, b)
	database.Write("pool", "current", b)
	return hs
}

func (l *Ledger) hashSeq() (hs poolmachine.HashSeq) {
	hs.Component = "pool"
	hs.Sequence = l.sequence
	var goals []int64
	for goal := range l.pools {
		goals = append(goals, goal)
	}
	sort.Slice(goals, func(i, j int) bool { return goals[i] > goals[j] })
	for _, goal := range goals {
		p := l.pools[goal]
		for _, d := range []interface{}{goal, p.TotalBalance, p.TargetAmount, p.Deadline, p.IsLocked, p.Asset.String(), p.Active, string(p.Creator)} {
			if err := hs.AppendData(d); err != nil {
				poolmachine.LogCLI(err.Error(), 0)
			}
		}
		var contributors []poolmachine.Account
		for contributor := range l.contributions[goal] {
			contributors = append(contributors, contributor)
		}
		sort.Slice(contributors, func(i, j int) bool { return contributors[i] > contributors[j] })
		for _, contributor := range contributors {
			c := l.contributions[goal][contributor]
			for _, d := range []interface{}{string(contributor), c.Amount, c.LastUpdateHeight, c.SharePercentage} {
				if err := hs.AppendData(d); err != nil {
					poolmachine.LogCLI(err.Error(), 0)
				}
			}
		}
	}
	hs.S256()
	if l.height != nil {
		hs.CreatedAt = l.height()
	}
	return
}

func (l *Ledger) emitChange(name string, actor poolmachine.Account, goalID int64, attrs map[string]string) {
	if l.emit == nil {
		return
	}
	l.emit.Emit(poolmachine.StateChange{
		Name:       name,
		GoalID:     goalID,
		Actor:      actor,
		Height:     l.currentHeight(),
		Attributes: attrs,
	})
}
