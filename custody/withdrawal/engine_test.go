package withdrawal

import (
	"strings"
	"testing"

	"github.com/spf13/viper"

	"poolmachine/custody/oracle"
	"poolmachine/custody/params"
	"poolmachine/custody/pool"
	"poolmachine/poolmachine"
	"poolmachine/transfer"
)

func assertCode(t *testing.T, err error, want poolmachine.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", want)
	}
	code, ok := poolmachine.CodeOf(err)
	if !ok {
		t.Fatalf("expected coded error, got %v", err)
	}
	if code != want {
		t.Fatalf("expected code %d, got %d (%v)", want, code, err)
	}
}

type memEmitter struct {
	changes []poolmachine.StateChange
}

func (m *memEmitter) Emit(sc poolmachine.StateChange) {
	m.changes = append(m.changes, sc)
}

type fixture struct {
	height  int64
	bank    *transfer.Bank
	movers  *transfer.Router
	mirror  *oracle.Mirror
	pools   *pool.Ledger
	engine  *Engine
	emitter *memEmitter
}

func newFixture(seed func(conf *viper.Viper)) *fixture {
	f := &fixture{height: 1, emitter: &memEmitter{}}
	conf := viper.New()
	conf.Set("admin", "admin")
	conf.Set("oracle", "oracle")
	if seed != nil {
		seed(conf)
	}
	p := params.New(conf, nil, nil)
	height := func() int64 { return f.height }
	f.bank = transfer.NewBank()
	f.movers = transfer.NewRouter(f.bank)
	f.mirror = oracle.NewMirror(p, nil, height)
	f.pools = pool.NewLedger(p, f.movers, nil, height)
	f.engine = NewEngine(p, f.mirror, f.pools, f.movers, f.emitter, height)
	return f
}

// fund puts amount into custody on behalf of account so refund and payout
// transfers have something to settle from.
func (f *fixture) fund(account poolmachine.Account, amount int64) {
	native := poolmachine.NativeAsset()
	f.bank.Mint(account, amount, native)
	if err := f.movers.MoveIn(account, amount, native); err != nil {
		panic(err)
	}
}

// Scenario: a goal fails its deadline, a contributor requests a refund, the
// vote clears the threshold after the time lock, and execution pays out once.
func TestRefundLifecycle(t *testing.T) {
	f := newFixture(func(conf *viper.Viper) {
		conf.Set("votingThreshold", 50)
		conf.Set("timeLockDuration", 100)
	})
	f.fund("y", 500)
	f.height = 10
	f.mirror.UpdateGoalStatus("oracle", 1, 1000, 500, 5, false)

	if err := f.engine.InitiateRefund("y", 1, "goal failed", 500); err != nil {
		t.Fatalf("InitiateRefund failed: %v", err)
	}
	req, ok := f.engine.RequestFor(1)
	if !ok {
		t.Fatal("expected a request for goal 1")
	}
	if req.VotingDeadline != 110 {
		t.Fatalf("expected voting deadline 110, got %d", req.VotingDeadline)
	}
	if f.engine.GoalState(1) != StateRequestOpen {
		t.Fatalf("expected RequestOpen, got %v", f.engine.GoalState(1))
	}

	f.height = 50
	if err := f.engine.Vote("v1", 1, true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if err := f.engine.Vote("v2", 1, true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}

	f.height = 109
	assertCode(t, f.engine.Execute("y", 1), poolmachine.CodeTemporal)

	f.height = 110
	if f.engine.GoalState(1) != StateVotingClosed {
		t.Fatalf("expected VotingClosed, got %v", f.engine.GoalState(1))
	}
	if err := f.engine.Execute("y", 1); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := f.bank.BalanceOf("y", poolmachine.NativeAsset()); got != 500 {
		t.Fatalf("expected y refunded 500, got %d", got)
	}
	status, _ := f.mirror.Status(1)
	if !status.Refunded {
		t.Fatal("expected mirror marked refunded")
	}
	if f.engine.GoalState(1) != StateExecuted {
		t.Fatalf("expected Executed, got %v", f.engine.GoalState(1))
	}

	// single execution: a repeat call must not issue a second transfer
	assertCode(t, f.engine.Execute("y", 1), poolmachine.CodeStateConflict)
	if got := f.bank.BalanceOf("y", poolmachine.NativeAsset()); got != 500 {
		t.Fatalf("repeat execute moved funds: %d", got)
	}
	assertCode(t, f.engine.InitiateRefund("y", 1, "again", 1), poolmachine.CodeStateConflict)
}

func TestInitiateRefundGuards(t *testing.T) {
	f := newFixture(nil)
	assertCode(t, f.engine.InitiateRefund("y", 1, "", 100), poolmachine.CodeNotFound)

	f.height = 10
	f.mirror.UpdateGoalStatus("oracle", 1, 1000, 1000, 5, true)
	assertCode(t, f.engine.InitiateRefund("y", 1, "", 100), poolmachine.CodeStateConflict)

	f.mirror.UpdateGoalStatus("oracle", 2, 1000, 500, 50, false)
	assertCode(t, f.engine.InitiateRefund("y", 2, "", 100), poolmachine.CodeTemporal)

	f.height = 50
	assertCode(t, f.engine.InitiateRefund("y", 2, "", 501), poolmachine.CodeInsufficientFunds)
	assertCode(t, f.engine.InitiateRefund("y", 2, strings.Repeat("a", MaxReasonLength+1), 100), poolmachine.CodeInvalidInput)
	if err := f.engine.InitiateRefund("y", 2, strings.Repeat("a", MaxReasonLength), 100); err != nil {
		t.Fatalf("InitiateRefund failed: %v", err)
	}
	assertCode(t, f.engine.InitiateRefund("z", 2, "", 100), poolmachine.CodeStateConflict)
}

// One ballot per identity per goal, and tallies stay unchanged on rejection.
func TestSingleVote(t *testing.T) {
	f := newFixture(func(conf *viper.Viper) {
		conf.Set("timeLockDuration", 100)
	})
	f.height = 10
	f.mirror.UpdateGoalStatus("oracle", 1, 1000, 500, 5, false)
	f.engine.InitiateRefund("y", 1, "", 0)

	assertCode(t, f.engine.Vote("v1", 2, true), poolmachine.CodeNotFound)
	if err := f.engine.Vote("v1", 1, true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	assertCode(t, f.engine.Vote("v1", 1, true), poolmachine.CodeStateConflict)
	assertCode(t, f.engine.Vote("v1", 1, false), poolmachine.CodeStateConflict)
	req, _ := f.engine.RequestFor(1)
	if req.VotesFor != 1 || req.VotesAgainst != 0 || req.TotalVoters != 1 {
		t.Fatalf("rejected votes mutated the tally: %+v", req)
	}
	if !f.engine.HasVoted(1, "v1") || f.engine.HasVoted(1, "v2") {
		t.Fatal("unexpected HasVoted")
	}

	f.height = 110
	assertCode(t, f.engine.Vote("v2", 1, true), poolmachine.CodeTemporal)
}

func TestVoterCap(t *testing.T) {
	f := newFixture(func(conf *viper.Viper) {
		conf.Set("maxVoters", 2)
		conf.Set("timeLockDuration", 100)
	})
	f.height = 10
	f.mirror.UpdateGoalStatus("oracle", 1, 1000, 500, 5, false)
	f.engine.InitiateRefund("y", 1, "", 0)

	if err := f.engine.Vote("v1", 1, true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if err := f.engine.Vote("v2", 1, false); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	assertCode(t, f.engine.Vote("v3", 1, true), poolmachine.CodeStateConflict)
}

// threshold=50, totalVoters=2: one yes is exactly at the threshold and is
// rejected; two yes clears it.
func TestThresholdBoundary(t *testing.T) {
	f := newFixture(func(conf *viper.Viper) {
		conf.Set("votingThreshold", 50)
		conf.Set("timeLockDuration", 10)
	})
	f.fund("y", 500)
	f.height = 10
	f.mirror.UpdateGoalStatus("oracle", 1, 1000, 500, 5, false)
	f.engine.InitiateRefund("y", 1, "", 500)
	f.engine.Vote("v1", 1, true)
	f.engine.Vote("v2", 1, false)

	f.height = 20
	assertCode(t, f.engine.Execute("y", 1), poolmachine.CodeInsufficientVotes)

	f.mirror.UpdateGoalStatus("oracle", 2, 1000, 0, 5, false)
	f.engine.InitiateRefund("y", 2, "", 0)
	f.engine.Vote("v1", 2, true)
	f.engine.Vote("v2", 2, true)
	f.height = 30
	if err := f.engine.Execute("y", 2); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
}

// Scenario: achieved goal pays an assigned share, and the goal-level claimed
// flag blocks every later claimant including other entitled participants. That
// is the literal source behavior, see DESIGN.md.
func TestPayoutClaimBlocksLaterClaimants(t *testing.T) {
	f := newFixture(nil)
	f.fund("funder", 1200)
	f.height = 10
	f.mirror.UpdateGoalStatus("oracle", 2, 1200, 1200, 5, true)

	assertCode(t, f.engine.SetParticipantShare("mallory", "z", 2, 25), poolmachine.CodeAuthorization)
	assertCode(t, f.engine.SetParticipantShare("admin", "z", 2, 0), poolmachine.CodeInvalidInput)
	if err := f.engine.SetParticipantShare("admin", "z", 2, 25); err != nil {
		t.Fatalf("SetParticipantShare failed: %v", err)
	}
	if err := f.engine.SetParticipantShare("admin", "w", 2, 25); err != nil {
		t.Fatalf("SetParticipantShare failed: %v", err)
	}

	assertCode(t, f.engine.ClaimPayout("stranger", 2), poolmachine.CodeAuthorization)

	if err := f.engine.ClaimPayout("z", 2); err != nil {
		t.Fatalf("ClaimPayout failed: %v", err)
	}
	if got := f.bank.BalanceOf("z", poolmachine.NativeAsset()); got != 300 {
		t.Fatalf("expected z paid 300, got %d", got)
	}
	if !f.engine.HasClaimed(2, "z") {
		t.Fatal("expected z marked claimed")
	}

	assertCode(t, f.engine.ClaimPayout("z", 2), poolmachine.CodeStateConflict)
	// w holds a nonzero share but the goal-level flag is already set
	assertCode(t, f.engine.ClaimPayout("w", 2), poolmachine.CodeStateConflict)
	if got := f.bank.BalanceOf("w", poolmachine.NativeAsset()); got != 0 {
		t.Fatalf("blocked claim moved funds: %d", got)
	}
	if f.engine.GoalState(2) != StateClaimed {
		t.Fatalf("expected Claimed, got %v", f.engine.GoalState(2))
	}
}

func TestClaimPayoutGuards(t *testing.T) {
	f := newFixture(nil)
	assertCode(t, f.engine.ClaimPayout("z", 1), poolmachine.CodeNotFound)

	f.mirror.UpdateGoalStatus("oracle", 1, 1000, 500, 5, false)
	assertCode(t, f.engine.ClaimPayout("z", 1), poolmachine.CodeStateConflict)

	// share 1 of a balance of 50 floors to zero
	f.mirror.UpdateGoalStatus("oracle", 3, 1000, 50, 5, true)
	f.engine.SetParticipantShare("admin", "z", 3, 1)
	assertCode(t, f.engine.ClaimPayout("z", 3), poolmachine.CodeInvalidInput)
}

// Refunds settle in the pool's declared asset when a pool exists for the goal.
func TestRefundSettlesInPoolAsset(t *testing.T) {
	f := newFixture(func(conf *viper.Viper) {
		conf.Set("timeLockDuration", 10)
		conf.Set("votingThreshold", 50)
	})
	gold := poolmachine.FungibleAsset("gold")
	f.bank.Mint("y", 500, gold)
	if err := f.pools.InitializePool("admin", 1, 1000, 5, gold); err != nil {
		t.Fatalf("InitializePool failed: %v", err)
	}
	if err := f.pools.Deposit("y", 1, 500, gold); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	f.height = 10
	f.mirror.UpdateGoalStatus("oracle", 1, 1000, 500, 5, false)
	f.engine.InitiateRefund("y", 1, "", 500)
	f.engine.Vote("v1", 1, true)
	f.height = 20
	if err := f.engine.Execute("y", 1); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := f.bank.BalanceOf("y", gold); got != 500 {
		t.Fatalf("expected y refunded 500 gold, got %d", got)
	}
}

func TestGoalStateDerivation(t *testing.T) {
	f := newFixture(func(conf *viper.Viper) {
		conf.Set("timeLockDuration", 100)
	})
	if f.engine.GoalState(9) != StateActive {
		t.Fatalf("no status should derive Active, got %v", f.engine.GoalState(9))
	}

	f.height = 1
	f.mirror.UpdateGoalStatus("oracle", 9, 1000, 0, 50, false)
	if f.engine.GoalState(9) != StateActive {
		t.Fatalf("before deadline should derive Active, got %v", f.engine.GoalState(9))
	}
	f.height = 50
	if f.engine.GoalState(9) != StateFailed {
		t.Fatalf("past deadline should derive Failed, got %v", f.engine.GoalState(9))
	}

	f.mirror.UpdateGoalStatus("oracle", 9, 1000, 1000, 50, true)
	if f.engine.GoalState(9) != StatePayoutClaimable {
		t.Fatalf("achieved should derive PayoutClaimable, got %v", f.engine.GoalState(9))
	}
}

func TestEmittedEvents(t *testing.T) {
	f := newFixture(func(conf *viper.Viper) {
		conf.Set("timeLockDuration", 10)
		conf.Set("votingThreshold", 50)
	})
	f.height = 10
	f.mirror.UpdateGoalStatus("oracle", 1, 1000, 0, 5, false)
	f.engine.InitiateRefund("y", 1, "", 0)
	f.engine.Vote("v1", 1, true)
	f.height = 20
	f.engine.Execute("y", 1)

	var names []string
	for _, sc := range f.emitter.changes {
		names = append(names, sc.Name)
	}
	want := []string{"refund_initiated", "withdrawal_vote", "withdrawal_executed"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}
