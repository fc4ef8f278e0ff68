// Package withdrawal is the authorization engine governing how funds leave
// custody: voted, time-locked refund requests for failed goals, and
// share-based payout claims for achieved ones. Both paths are gated by the
// oracle mirror and settle through the transfer capability.
package withdrawal

import (
	"fmt"
	"os"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/sasha-s/go-deadlock"

	"poolmachine/custody/oracle"
	"poolmachine/custody/params"
	"poolmachine/custody/pool"
	"poolmachine/database"
	"poolmachine/poolmachine"
	"poolmachine/transfer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Engine struct {
	mutex      *deadlock.Mutex
	requests   map[int64]Request
	votes      map[int64]map[poolmachine.Account]bool
	shares     map[int64]map[poolmachine.Account]int64
	claimed    map[int64]map[poolmachine.Account]bool
	params     *params.Params
	mirror     *oracle.Mirror
	pools      *pool.Ledger
	movers     *transfer.Router
	emit       poolmachine.Emitter
	height     func() int64
	persisting bool
	sequence   int64
}

func NewEngine(p *params.Params, mirror *oracle.Mirror, pools *pool.Ledger, movers *transfer.Router, emit poolmachine.Emitter, height func() int64) *Engine {
	return &Engine{
		mutex:    &deadlock.Mutex{},
		requests: make(map[int64]Request),
		votes:    make(map[int64]map[poolmachine.Account]bool),
		shares:   make(map[int64]map[poolmachine.Account]int64),
		claimed:  make(map[int64]map[poolmachine.Account]bool),
		params:   p,
		mirror:   mirror,
		pools:    pools,
		movers:   movers,
		emit:     emit,
		height:   height,
	}
}

// Start restores the engine from disk and persists a final snapshot on
// terminate. It blocks until the engine is ready to use.
func (e *Engine) Start(terminate chan struct{}, wg *sync.WaitGroup) {
	ready := make(chan struct{})
	go e.start(terminate, wg, ready)
	<-ready
	poolmachine.LogCLI("Withdrawal Engine has started", 4)
}

func (e *Engine) start(terminate chan struct{}, wg *sync.WaitGroup, ready chan struct{}) {
	wg.Add(1)
	if c, ok := database.Open("withdrawal", "current"); ok {
		e.restoreFromDisk(c)
	}
	e.mutex.Lock()
	e.persisting = true
	e.mutex.Unlock()
	close(ready)
	<-terminate
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.takeSnapshot()
	wg.Done()
	poolmachine.LogCLI("Withdrawal Engine has shut down", 4)
}

type engineState struct {
	Requests map[int64]Request
	Votes    map[int64]map[poolmachine.Account]bool
	Shares   map[int64]map[poolmachine.Account]int64
	Claimed  map[int64]map[poolmachine.Account]bool
}

func (e *Engine) restoreFromDisk(f *os.File) {
	e.mutex.Lock()
	var state engineState
	err := json.NewDecoder(f).Decode(&state)
	if err != nil {
		if err.Error() != "EOF" {
			poolmachine.LogCLI(err.Error(), 0)
		}
	}
	if state.Requests != nil {
		e.requests = state.Requests
	}
	if state.Votes != nil {
		e.votes = state.Votes
	}
	if state.Shares != nil {
		e.shares = state.Shares
	}
	if state.Claimed != nil {
		e.claimed = state.Claimed
	}
	e.mutex.Unlock()
	err = f.Close()
	if err != nil {
		poolmachine.LogCLI(err.Error(), 0)
	}
}

// InitiateRefund opens the one refund request a failed goal gets. First writer
// wins for the lifetime of the map entry: a second attempt fails while the
// request exists, even after execution.
func (e *Engine) InitiateRefund(caller poolmachine.Account, goalID int64, reason string, refundAmount int64) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	status, ok := e.mirror.Status(goalID)
	if !ok {
		return poolmachine.E(poolmachine.CodeNotFound, "withdrawal.InitiateRefund", "no status for goal")
	}
	if status.Achieved {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.InitiateRefund", "goal was achieved")
	}
	if status.Refunded {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.InitiateRefund", "goal already refunded")
	}
	if e.currentHeight() < status.Deadline {
		return poolmachine.E(poolmachine.CodeTemporal, "withdrawal.InitiateRefund", "goal deadline has not passed")
	}
	if _, exists := e.requests[goalID]; exists {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.InitiateRefund", "request already exists for goal")
	}
	if refundAmount > status.CurrentBalance {
		return poolmachine.E(poolmachine.CodeInsufficientFunds, "withdrawal.InitiateRefund", "refund exceeds goal balance")
	}
	if len(reason) > MaxReasonLength {
		return poolmachine.E(poolmachine.CodeInvalidInput, "withdrawal.InitiateRefund", "reason too long")
	}
	e.requests[goalID] = Request{
		GoalID:         goalID,
		Requester:      caller,
		Reason:         reason,
		VotingDeadline: e.currentHeight() + e.params.TimeLockDuration(),
		Executed:       false,
		RefundAmount:   refundAmount,
	}
	e.sequence++
	e.takeSnapshot()
	e.emitChange("refund_initiated", caller, goalID, map[string]string{
		"amount":          fmt.Sprint(refundAmount),
		"voting_deadline": fmt.Sprint(e.requests[goalID].VotingDeadline),
	})
	poolmachine.LogActor("withdrawal.InitiateRefund", e.requests[goalID])
	return nil
}

// Vote records one for/against ballot per identity per goal. No weighting by
// contribution size.
func (e *Engine) Vote(caller poolmachine.Account, goalID int64, voteFor bool) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	req, exists := e.requests[goalID]
	if !exists {
		return poolmachine.E(poolmachine.CodeNotFound, "withdrawal.Vote", "no request for goal")
	}
	if e.currentHeight() >= req.VotingDeadline {
		return poolmachine.E(poolmachine.CodeTemporal, "withdrawal.Vote", "voting window closed")
	}
	if req.Executed {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.Vote", "request already executed")
	}
	if _, voted := e.votes[goalID][caller]; voted {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.Vote", "caller already voted")
	}
	if req.TotalVoters >= e.params.MaxVoters() {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.Vote", "voter cap reached")
	}
	if e.votes[goalID] == nil {
		e.votes[goalID] = make(map[poolmachine.Account]bool)
	}
	e.votes[goalID][caller] = voteFor
	if voteFor {
		req.VotesFor++
	} else {
		req.VotesAgainst++
	}
	req.TotalVoters++
	e.requests[goalID] = req
	e.sequence++
	e.takeSnapshot()
	e.emitChange("withdrawal_vote", caller, goalID, map[string]string{
		"for":          fmt.Sprint(voteFor),
		"votes_for":    fmt.Sprint(req.VotesFor),
		"total_voters": fmt.Sprint(req.TotalVoters),
	})
	return nil
}

// Execute realizes the refund once the time-lock has expired and the vote
// clears the threshold: votesFor x 100 > threshold x totalVoters. This is the
// sole point where the proposal becomes binding.
func (e *Engine) Execute(caller poolmachine.Account, goalID int64) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	req, exists := e.requests[goalID]
	if !exists {
		return poolmachine.E(poolmachine.CodeNotFound, "withdrawal.Execute", "no request for goal")
	}
	if e.currentHeight() < req.VotingDeadline {
		return poolmachine.E(poolmachine.CodeTemporal, "withdrawal.Execute", "time lock has not expired")
	}
	if req.Executed {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.Execute", "request already executed")
	}
	threshold := e.params.VotingThreshold()
	if req.VotesFor*100 <= threshold*req.TotalVoters {
		return poolmachine.E(poolmachine.CodeInsufficientVotes, "withdrawal.Execute", "vote did not clear threshold")
	}
	// the transfer happens before any map mutation so that a failed transfer
	// leaves the engine byte-identical to before the call
	if req.RefundAmount > 0 {
		if err := e.movers.MoveOut(req.Requester, req.RefundAmount, e.assetFor(goalID)); err != nil {
			return err
		}
	}
	req.Executed = true
	e.requests[goalID] = req
	if err := e.mirror.MarkRefunded(goalID); err != nil {
		poolmachine.LogCLI(err.Error(), 1)
	}
	e.sequence++
	e.takeSnapshot()
	e.emitChange("withdrawal_executed", caller, goalID, map[string]string{
		"amount":    fmt.Sprint(req.RefundAmount),
		"requester": req.Requester,
	})
	poolmachine.LogActor("withdrawal.Execute", req)
	return nil
}

// ClaimPayout pays an achieved goal's participant their administrator-assigned
// share of the oracle-reported balance. The goal-level payoutClaimed flag is
// set by the first successful claim and blocks every later claimant; that
// mirrors the source system exactly and is flagged in DESIGN.md.
func (e *Engine) ClaimPayout(caller poolmachine.Account, goalID int64) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	status, ok := e.mirror.Status(goalID)
	if !ok {
		return poolmachine.E(poolmachine.CodeNotFound, "withdrawal.ClaimPayout", "no status for goal")
	}
	if !status.Achieved {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.ClaimPayout", "goal was not achieved")
	}
	if status.PayoutClaimed {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.ClaimPayout", "payout already claimed for goal")
	}
	share := e.shares[goalID][caller]
	if share <= 0 {
		return poolmachine.E(poolmachine.CodeAuthorization, "withdrawal.ClaimPayout", "caller has no participant share")
	}
	if e.claimed[goalID][caller] {
		return poolmachine.E(poolmachine.CodeStateConflict, "withdrawal.ClaimPayout", "caller already claimed")
	}
	payout := share * status.CurrentBalance / 100
	if payout <= 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "withdrawal.ClaimPayout", "payout rounds to zero")
	}
	if err := e.movers.MoveOut(caller, payout, e.assetFor(goalID)); err != nil {
		return err
	}
	if e.claimed[goalID] == nil {
		e.claimed[goalID] = make(map[poolmachine.Account]bool)
	}
	e.claimed[goalID][caller] = true
	if err := e.mirror.MarkPayoutClaimed(goalID); err != nil {
		poolmachine.LogCLI(err.Error(), 1)
	}
	e.sequence++
	e.takeSnapshot()
	e.emitChange("payout_claimed", caller, goalID, map[string]string{
		"share":  fmt.Sprint(share),
		"amount": fmt.Sprint(payout),
	})
	return nil
}

// SetParticipantShare assigns the authoritative payout entitlement used at
// claim time. It is independent of the contribution ledger, overwrites rather
// than accumulates, and only the administrator may call it.
func (e *Engine) SetParticipantShare(caller, participant poolmachine.Account, goalID, share int64) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if !e.params.IsAdmin(caller) {
		return poolmachine.E(poolmachine.CodeAuthorization, "withdrawal.SetParticipantShare", "caller is not the administrator")
	}
	if share <= 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "withdrawal.SetParticipantShare", "share must be positive")
	}
	if e.shares[goalID] == nil {
		e.shares[goalID] = make(map[poolmachine.Account]int64)
	}
	e.shares[goalID][participant] = share
	e.sequence++
	e.takeSnapshot()
	e.emitChange("participant_share_set", caller, goalID, map[string]string{
		"participant": participant,
		"share":       fmt.Sprint(share),
	})
	return nil
}

func (e *Engine) RequestFor(goalID int64) (Request, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	r, ok := e.requests[goalID]
	return r, ok
}

func (e *Engine) ShareFor(goalID int64, participant poolmachine.Account) int64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.shares[goalID][participant]
}

func (e *Engine) HasClaimed(goalID int64, claimant poolmachine.Account) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.claimed[goalID][claimant]
}

func (e *Engine) HasVoted(goalID int64, voter poolmachine.Account) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	_, ok := e.votes[goalID][voter]
	return ok
}

// GoalState derives the lifecycle position of a goal from the oracle mirror
// and the request ledger.
func (e *Engine) GoalState(goalID int64) GoalState {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	status, ok := e.mirror.Status(goalID)
	if !ok {
		return StateActive
	}
	if status.Achieved {
		if status.PayoutClaimed {
			return StateClaimed
		}
		return StatePayoutClaimable
	}
	if req, exists := e.requests[goalID]; exists {
		if req.Executed {
			return StateExecuted
		}
		if e.currentHeight() >= req.VotingDeadline {
			return StateVotingClosed
		}
		return StateRequestOpen
	}
	if status.Refunded {
		return StateExecuted
	}
	if e.currentHeight() < status.Deadline {
		return StateActive
	}
	return StateFailed
}

// assetFor resolves which asset a goal settles in: the pool's declared asset
// when a pool exists, the native asset otherwise (the oracle can report on
// goals that never had a pool here).
func (e *Engine) assetFor(goalID int64) poolmachine.Asset {
	if e.pools != nil {
		if asset, ok := e.pools.AssetFor(goalID); ok {
			return asset
		}
	}
	return poolmachine.NativeAsset()
}

func (e *Engine) currentHeight() int64 {
	if e.height == nil {
		return 0
	}
	return e.height()
}

// takeSnapshot persists the full engine state, indexed by deterministic state
// hash plus a "current" file. Callers must hold the mutex.
func (e *Engine) takeSnapshot() poolmachine.HashSeq {
	hs := e.hashSeq()
	if !e.persisting {
		return hs
	}
	b, err := json.MarshalIndent(engineState{Requests: e.requests, Votes: e.votes, Shares: e.shares, Claimed: e.claimed}, "", " ")
	if err != nil {
		poolmachine.LogCLI(err.Error(), 0)
	}
	database.Write("withdrawal", hs.Hash, b)
	database.Write("withdrawal", "current", b)
	return hs
}

func (e *Engine) hashSeq() (hs poolmachine.HashSeq) {
	hs.Component = "withdrawal"
	hs.Sequence = e.sequence
	var goals []int64
	for goal := range e.requests {
		goals = append(goals, goal)
	}
	sort.Slice(goals, func(i, j int) bool { return goals[i] > goals[j] })
	for _, goal := range goals {
		r := e.requests[goal]
		for _, d := range []interface{}{goal, r.Requester, r.Reason, r.VotesFor, r.VotesAgainst, r.TotalVoters, r.VotingDeadline, r.Executed, r.RefundAmount} {
			if err := hs.AppendData(d); err != nil {
				poolmachine.LogCLI(err.Error(), 0)
			}
		}
		var voters []poolmachine.Account
		for voter := range e.votes[goal] {
			voters = append(voters, voter)
		}
		sort.Slice(voters, func(i, j int) bool { return voters[i] > voters[j] })
		for _, voter := range voters {
			if err := hs.AppendData(voter); err != nil {
				poolmachine.LogCLI(err.Error(), 0)
			}
			if err := hs.AppendData(e.votes[goal][voter]); err != nil {
				poolmachine.LogCLI(err.Error(), 0)
			}
		}
	}
	hs.S256()
	if e.height != nil {
		hs.CreatedAt = e.height()
	}
	return
}

func (e *Engine) emitChange(name string, actor poolmachine.Account, goalID int64, attrs map[string]string) {
	if e.emit == nil {
		return
	}
	e.emit.Emit(poolmachine.StateChange{
		Name:       name,
		GoalID:     goalID,
		Actor:      actor,
		Height:     e.currentHeight(),
		Attributes: attrs,
	})
}
