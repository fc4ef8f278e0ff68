// Package params is the control plane: singleton configuration every other
// custody component reads and only the administrator mutates. It is an
// explicitly owned object passed into the engines rather than ambient state, so
// tests can substitute their own.
package params

import (
	"fmt"

	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/viper"

	"poolmachine/poolmachine"
)

type Params struct {
	mutex            *deadlock.Mutex
	admin            poolmachine.Account
	oracle           poolmachine.Account
	votingThreshold  int64
	timeLockDuration int64
	maxVoters        int64
	poolCap          int64
	depositFee       int64
	emit             poolmachine.Emitter
	height           func() int64
}

// New seeds the control plane from the config. Once the machine is running the
// administrator governs these values, not the config file.
func New(conf *viper.Viper, emit poolmachine.Emitter, height func() int64) *Params {
	p := &Params{
		mutex:            &deadlock.Mutex{},
		votingThreshold:  51,
		timeLockDuration: 100,
		maxVoters:        100,
		poolCap:          100,
		emit:             emit,
		height:           height,
	}
	if conf != nil {
		p.admin = conf.GetString("admin")
		p.oracle = conf.GetString("oracle")
		if v := conf.GetInt64("votingThreshold"); v >= 1 && v <= 100 {
			p.votingThreshold = v
		}
		if v := conf.GetInt64("timeLockDuration"); v > 0 {
			p.timeLockDuration = v
		}
		if v := conf.GetInt64("maxVoters"); v > 0 {
			p.maxVoters = v
		}
		if v := conf.GetInt64("poolCap"); v > 0 {
			p.poolCap = v
		}
		if v := conf.GetInt64("depositFee"); v >= 0 && v <= 1000 {
			p.depositFee = v
		}
	}
	return p
}

func (p *Params) Admin() poolmachine.Account {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.admin
}

func (p *Params) Oracle() poolmachine.Account {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.oracle
}

// IsAdmin reports whether caller holds the administrator role. An unset role
// matches nobody.
func (p *Params) IsAdmin(caller poolmachine.Account) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.admin) > 0 && caller == p.admin
}

// IsOracle reports whether caller holds the oracle role. An unset role matches
// nobody.
func (p *Params) IsOracle(caller poolmachine.Account) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.oracle) > 0 && caller == p.oracle
}

func (p *Params) VotingThreshold() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.votingThreshold
}

func (p *Params) TimeLockDuration() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.timeLockDuration
}

func (p *Params) MaxVoters() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.maxVoters
}

func (p *Params) PoolCap() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.poolCap
}

func (p *Params) DepositFee() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.depositFee
}

func (p *Params) SetAdmin(caller, account poolmachine.Account) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.admin) == 0 || caller != p.admin {
		return poolmachine.E(poolmachine.CodeAuthorization, "params.SetAdmin", "caller is not the administrator")
	}
	if len(account) == 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "params.SetAdmin", "empty account")
	}
	p.admin = account
	p.emitChange("param_admin_set", caller, account)
	return nil
}

func (p *Params) SetOracle(caller, account poolmachine.Account) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.admin) == 0 || caller != p.admin {
		return poolmachine.E(poolmachine.CodeAuthorization, "params.SetOracle", "caller is not the administrator")
	}
	if len(account) == 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "params.SetOracle", "empty account")
	}
	p.oracle = account
	p.emitChange("param_oracle_set", caller, account)
	return nil
}

func (p *Params) SetVotingThreshold(caller poolmachine.Account, threshold int64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.admin) == 0 || caller != p.admin {
		return poolmachine.E(poolmachine.CodeAuthorization, "params.SetVotingThreshold", "caller is not the administrator")
	}
	if threshold < 1 || threshold > 100 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "params.SetVotingThreshold", "threshold must be 1-100")
	}
	p.votingThreshold = threshold
	p.emitChange("param_voting_threshold_set", caller, fmt.Sprint(threshold))
	return nil
}

func (p *Params) SetTimeLockDuration(caller poolmachine.Account, blocks int64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.admin) == 0 || caller != p.admin {
		return poolmachine.E(poolmachine.CodeAuthorization, "params.SetTimeLockDuration", "caller is not the administrator")
	}
	if blocks <= 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "params.SetTimeLockDuration", "duration must be positive")
	}
	p.timeLockDuration = blocks
	p.emitChange("param_time_lock_set", caller, fmt.Sprint(blocks))
	return nil
}

func (p *Params) SetMaxVoters(caller poolmachine.Account, max int64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.admin) == 0 || caller != p.admin {
		return poolmachine.E(poolmachine.CodeAuthorization, "params.SetMaxVoters", "caller is not the administrator")
	}
	if max <= 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "params.SetMaxVoters", "max voters must be positive")
	}
	p.maxVoters = max
	p.emitChange("param_max_voters_set", caller, fmt.Sprint(max))
	return nil
}

func (p *Params) SetDepositFee(caller poolmachine.Account, fee int64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.admin) == 0 || caller != p.admin {
		return poolmachine.E(poolmachine.CodeAuthorization, "params.SetDepositFee", "caller is not the administrator")
	}
	if fee < 0 || fee > 1000 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "params.SetDepositFee", "fee must be 0-1000")
	}
	p.depositFee = fee
	p.emitChange("param_deposit_fee_set", caller, fmt.Sprint(fee))
	return nil
}

func (p *Params) SetPoolCap(caller poolmachine.Account, cap int64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.admin) == 0 || caller != p.admin {
		return poolmachine.E(poolmachine.CodeAuthorization, "params.SetPoolCap", "caller is not the administrator")
	}
	if cap < 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "params.SetPoolCap", "cap must not be negative")
	}
	p.poolCap = cap
	p.emitChange("param_pool_cap_set", caller, fmt.Sprint(cap))
	return nil
}

func (p *Params) emitChange(name string, actor poolmachine.Account, value string) {
	if p.emit == nil {
		return
	}
	var h int64
	if p.height != nil {
		h = p.height()
	}
	p.emit.Emit(poolmachine.StateChange{
		Name:       name,
		Actor:      actor,
		Height:     h,
		Attributes: map[string]string{"value": value},
	})
}
