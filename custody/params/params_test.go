package params

import (
	"testing"

	"github.com/spf13/viper"

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

func seededConf() *viper.Viper {
	conf := viper.New()
	conf.Set("admin", "admin")
	conf.Set("oracle", "oracle")
	return conf
}

func TestDefaults(t *testing.T) {
	p := New(nil, nil, nil)
	if p.VotingThreshold() != 51 {
		t.Fatalf("expected threshold 51, got %d", p.VotingThreshold())
	}
	if p.TimeLockDuration() != 100 {
		t.Fatalf("expected time lock 100, got %d", p.TimeLockDuration())
	}
	if p.MaxVoters() != 100 {
		t.Fatalf("expected max voters 100, got %d", p.MaxVoters())
	}
	if p.PoolCap() != 100 {
		t.Fatalf("expected pool cap 100, got %d", p.PoolCap())
	}
	if p.DepositFee() != 0 {
		t.Fatalf("expected deposit fee 0, got %d", p.DepositFee())
	}
}

func TestConfigSeeds(t *testing.T) {
	conf := seededConf()
	conf.Set("votingThreshold", 75)
	conf.Set("timeLockDuration", 10)
	p := New(conf, nil, nil)
	if p.Admin() != "admin" {
		t.Fatalf("expected seeded admin, got %q", p.Admin())
	}
	if p.Oracle() != "oracle" {
		t.Fatalf("expected seeded oracle, got %q", p.Oracle())
	}
	if p.VotingThreshold() != 75 {
		t.Fatalf("expected threshold 75, got %d", p.VotingThreshold())
	}
	if p.TimeLockDuration() != 10 {
		t.Fatalf("expected time lock 10, got %d", p.TimeLockDuration())
	}
}

func TestOutOfRangeSeedsFallBackToDefaults(t *testing.T) {
	conf := seededConf()
	conf.Set("votingThreshold", 101)
	conf.Set("timeLockDuration", -1)
	conf.Set("depositFee", 5000)
	p := New(conf, nil, nil)
	if p.VotingThreshold() != 51 {
		t.Fatalf("expected default threshold, got %d", p.VotingThreshold())
	}
	if p.TimeLockDuration() != 100 {
		t.Fatalf("expected default time lock, got %d", p.TimeLockDuration())
	}
	if p.DepositFee() != 0 {
		t.Fatalf("expected default deposit fee, got %d", p.DepositFee())
	}
}

func TestOnlyAdminMutates(t *testing.T) {
	p := New(seededConf(), nil, nil)
	assertCode(t, p.SetVotingThreshold("mallory", 60), poolmachine.CodeAuthorization)
	assertCode(t, p.SetOracle("mallory", "mallory"), poolmachine.CodeAuthorization)
	assertCode(t, p.SetAdmin("mallory", "mallory"), poolmachine.CodeAuthorization)
	if err := p.SetVotingThreshold("admin", 60); err != nil {
		t.Fatalf("admin update failed: %v", err)
	}
	if p.VotingThreshold() != 60 {
		t.Fatalf("expected threshold 60, got %d", p.VotingThreshold())
	}
}

func TestUnsetAdminMatchesNobody(t *testing.T) {
	p := New(nil, nil, nil)
	if p.IsAdmin("") {
		t.Fatal("empty caller must not match an unset administrator")
	}
	assertCode(t, p.SetAdmin("", "mallory"), poolmachine.CodeAuthorization)
}

func TestSetterRanges(t *testing.T) {
	p := New(seededConf(), nil, nil)
	assertCode(t, p.SetVotingThreshold("admin", 0), poolmachine.CodeInvalidInput)
	assertCode(t, p.SetVotingThreshold("admin", 101), poolmachine.CodeInvalidInput)
	assertCode(t, p.SetTimeLockDuration("admin", 0), poolmachine.CodeInvalidInput)
	assertCode(t, p.SetMaxVoters("admin", -1), poolmachine.CodeInvalidInput)
	assertCode(t, p.SetDepositFee("admin", 1001), poolmachine.CodeInvalidInput)
	assertCode(t, p.SetPoolCap("admin", -1), poolmachine.CodeInvalidInput)
	assertCode(t, p.SetAdmin("admin", ""), poolmachine.CodeInvalidInput)
	assertCode(t, p.SetOracle("admin", ""), poolmachine.CodeInvalidInput)
}

func TestAdminHandover(t *testing.T) {
	p := New(seededConf(), nil, nil)
	if err := p.SetAdmin("admin", "successor"); err != nil {
		t.Fatalf("handover failed: %v", err)
	}
	assertCode(t, p.SetVotingThreshold("admin", 60), poolmachine.CodeAuthorization)
	if err := p.SetVotingThreshold("successor", 60); err != nil {
		t.Fatalf("successor update failed: %v", err)
	}
}
