package oracle

import (
	"testing"

	"github.com/spf13/viper"

	"poolmachine/custody/params"
	"poolmachine/poolmachine"
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

func newTestMirror() *Mirror {
	conf := viper.New()
	conf.Set("admin", "admin")
	conf.Set("oracle", "oracle")
	p := params.New(conf, nil, nil)
	return NewMirror(p, nil, nil)
}

func TestOnlyOracleUpdates(t *testing.T) {
	m := newTestMirror()
	assertCode(t, m.UpdateGoalStatus("admin", 1, 1000, 0, 100, false), poolmachine.CodeAuthorization)
	assertCode(t, m.UpdateGoalStatus("", 1, 1000, 0, 100, false), poolmachine.CodeAuthorization)
	if err := m.UpdateGoalStatus("oracle", 1, 1000, 400, 100, false); err != nil {
		t.Fatalf("oracle update failed: %v", err)
	}
	s, ok := m.Status(1)
	if !ok {
		t.Fatal("expected status for goal 1")
	}
	if s.TargetAmount != 1000 || s.CurrentBalance != 400 || s.Deadline != 100 || s.Achieved {
		t.Fatalf("unexpected status: %+v", s)
	}
}

func TestMarkRefundedGuards(t *testing.T) {
	m := newTestMirror()
	assertCode(t, m.MarkRefunded(1), poolmachine.CodeNotFound)

	m.UpdateGoalStatus("oracle", 1, 1000, 400, 100, true)
	assertCode(t, m.MarkRefunded(1), poolmachine.CodeStateConflict)

	m.UpdateGoalStatus("oracle", 2, 1000, 400, 100, false)
	if err := m.MarkRefunded(2); err != nil {
		t.Fatalf("MarkRefunded failed: %v", err)
	}
	assertCode(t, m.MarkRefunded(2), poolmachine.CodeStateConflict)
}

func TestMarkPayoutClaimedGuards(t *testing.T) {
	m := newTestMirror()
	assertCode(t, m.MarkPayoutClaimed(1), poolmachine.CodeNotFound)

	m.UpdateGoalStatus("oracle", 1, 1000, 1000, 100, false)
	assertCode(t, m.MarkPayoutClaimed(1), poolmachine.CodeStateConflict)

	m.UpdateGoalStatus("oracle", 1, 1000, 1000, 100, true)
	if err := m.MarkPayoutClaimed(1); err != nil {
		t.Fatalf("MarkPayoutClaimed failed: %v", err)
	}
	assertCode(t, m.MarkPayoutClaimed(1), poolmachine.CodeStateConflict)
}

// An oracle re-update resets the refunded and payoutClaimed flags, reopening a
// settled goal for another cycle. Literal source behavior, see DESIGN.md.
func TestUpdateResetsSettlementFlags(t *testing.T) {
	m := newTestMirror()
	m.UpdateGoalStatus("oracle", 1, 1000, 400, 100, false)
	if err := m.MarkRefunded(1); err != nil {
		t.Fatalf("MarkRefunded failed: %v", err)
	}
	if err := m.UpdateGoalStatus("oracle", 1, 1000, 400, 100, false); err != nil {
		t.Fatalf("re-update failed: %v", err)
	}
	s, _ := m.Status(1)
	if s.Refunded {
		t.Fatal("re-update must reset the refunded flag")
	}
	if err := m.MarkRefunded(1); err != nil {
		t.Fatalf("goal should be refundable again after re-update: %v", err)
	}
}
