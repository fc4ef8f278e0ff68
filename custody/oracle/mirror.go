// Package oracle mirrors goal resolution as reported by the single designated
// oracle identity. The withdrawal engine reads this mirror to gate refunds and
// payouts; it never decides achievement itself.
package oracle

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
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type GoalStatus struct {
	TargetAmount   int64
	CurrentBalance int64
	Deadline       int64
	Achieved       bool
	Refunded       bool
	PayoutClaimed  bool
}

type Mirror struct {
	mutex      *deadlock.Mutex
	data       map[int64]GoalStatus
	params     *params.Params
	emit       poolmachine.Emitter
	height     func() int64
	persisting bool
	sequence   int64
}

func NewMirror(p *params.Params, emit poolmachine.Emitter, height func() int64) *Mirror {
	return &Mirror{
		mutex:  &deadlock.Mutex{},
		data:   make(map[int64]GoalStatus),
		params: p,
		emit:   emit,
		height: height,
	}
}

// Start restores the mirror from disk and persists a final snapshot on
// terminate. It blocks until the mirror is ready to use.
func (m *Mirror) Start(terminate chan struct{}, wg *sync.WaitGroup) {
	ready := make(chan struct{})
	go m.start(terminate, wg, ready)
	<-ready
	poolmachine.LogCLI("Oracle Mirror has started", 4)
}

func (m *Mirror) start(terminate chan struct{}, wg *sync.WaitGroup, ready chan struct{}) {
	wg.Add(1)
	if c, ok := database.Open("oracle", "current"); ok {
		m.restoreFromDisk(c)
	}
	m.mutex.Lock()
	m.persisting = true
	m.mutex.Unlock()
	close(ready)
	<-terminate
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.takeSnapshot()
	wg.Done()
	poolmachine.LogCLI("Oracle Mirror has shut down", 4)
}

func (m *Mirror) restoreFromDisk(f *os.File) {
	m.mutex.Lock()
	err := json.NewDecoder(f).Decode(&m.data)
	if err != nil {
		if err.Error() != "EOF" {
			poolmachine.LogCLI(err.Error(), 0)
		}
	}
	m.mutex.Unlock()
	err = f.Close()
	if err != nil {
		poolmachine.LogCLI(err.Error(), 0)
	}
}

// UpdateGoalStatus overwrites the full record for the goal. Only the configured
// oracle identity may call it. The refunded and payoutClaimed flags reset to
// false on every call: a later oracle update re-opens a goal that was already
// refunded or paid out. That mirrors the source system exactly; see DESIGN.md
// before changing it.
func (m *Mirror) UpdateGoalStatus(caller poolmachine.Account, goalID, target, current, deadline int64, achieved bool) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.params.IsOracle(caller) {
		return poolmachine.E(poolmachine.CodeAuthorization, "oracle.UpdateGoalStatus", "caller is not the oracle")
	}
	m.data[goalID] = GoalStatus{
		TargetAmount:   target,
		CurrentBalance: current,
		Deadline:       deadline,
		Achieved:       achieved,
		Refunded:       false,
		PayoutClaimed:  false,
	}
	m.sequence++
	m.takeSnapshot()
	m.emitChange("goal_status_updated", caller, goalID, map[string]string{
		"target":   fmt.Sprint(target),
		"current":  fmt.Sprint(current),
		"deadline": fmt.Sprint(deadline),
		"achieved": fmt.Sprint(achieved),
	})
	poolmachine.LogActor("oracle.UpdateGoalStatus", m.data[goalID])
	return nil
}

func (m *Mirror) Status(goalID int64) (GoalStatus, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.data[goalID]
	return s, ok
}

// MarkRefunded flips the refunded flag after a withdrawal request executes.
// Guarded so that an achieved or already-refunded goal can never be marked.
func (m *Mirror) MarkRefunded(goalID int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.data[goalID]
	if !ok {
		return poolmachine.E(poolmachine.CodeNotFound, "oracle.MarkRefunded", "no status for goal")
	}
	if s.Achieved {
		return poolmachine.E(poolmachine.CodeStateConflict, "oracle.MarkRefunded", "goal was achieved")
	}
	if s.Refunded {
		return poolmachine.E(poolmachine.CodeStateConflict, "oracle.MarkRefunded", "goal already refunded")
	}
	s.Refunded = true
	m.data[goalID] = s
	m.sequence++
	m.takeSnapshot()
	return nil
}

// MarkPayoutClaimed flips the goal-level claimed flag after the first
// successful payout claim.
func (m *Mirror) MarkPayoutClaimed(goalID int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.data[goalID]
	if !ok {
		return poolmachine.E(poolmachine.CodeNotFound, "oracle.MarkPayoutClaimed", "no status for goal")
	}
	if !s.Achieved {
		return poolmachine.E(poolmachine.CodeStateConflict, "oracle.MarkPayoutClaimed", "goal was not achieved")
	}
	if s.PayoutClaimed {
		return poolmachine.E(poolmachine.CodeStateConflict, "oracle.MarkPayoutClaimed", "payout already claimed")
	}
	s.PayoutClaimed = true
	m.data[goalID] = s
	m.sequence++
	m.takeSnapshot()
	return nil
}

// takeSnapshot persists the full mirror state, indexed by deterministic state
// hash plus a "current" file. Callers must hold the mutex.
func (m *Mirror) takeSnapshot() poolmachine.HashSeq {
	hs := m.hashSeq()
	if !m.persisting {
		return hs
	}
	b, err := json.MarshalIndent(m.data, "", " ")
	if err != nil {
		poolmachine.LogCLI(err.Error(), 0)
	}
	database.Write("oracle", hs.Hash, b)
	database.Write("oracle", "current", b)
	return hs
}

func (m *Mirror) hashSeq() (hs poolmachine.HashSeq) {
	hs.Component = "oracle"
	hs.Sequence = m.sequence
	var goals []int64
	for goal := range m.data {
		goals = append(goals, goal)
	}
	sort.Slice(goals, func(i, j int) bool { return goals[i] > goals[j] })
	for _, goal := range goals {
		s := m.data[goal]
		for _, d := range []interface{}{goal, s.TargetAmount, s.CurrentBalance, s.Deadline, s.Achieved, s.Refunded, s.PayoutClaimed} {
			if err := hs.AppendData(d); err != nil {
				poolmachine.LogCLI(err.Error(), 0)
			}
		}
	}
	hs.S256()
	if m.height != nil {
		hs.CreatedAt = m.height()
	}
	return
}

func (m *Mirror) emitChange(name string, actor poolmachine.Account, goalID int64, attrs map[string]string) {
	if m.emit == nil {
		return
	}
	var h int64
	if m.height != nil {
		h = m.height()
	}
	m.emit.Emit(poolmachine.StateChange{
		Name:       name,
		GoalID:     goalID,
		Actor:      actor,
		Height:     h,
		Attributes: attrs,
	})
}
