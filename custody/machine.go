// Package custody assembles the control plane, pool ledger, oracle mirror and
// withdrawal engine into one machine driven by externally supplied blocks.
package custody

import (
	"fmt"
	"sync"

	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/viper"

	"poolmachine/custody/oracle"
	"poolmachine/custody/params"
	"poolmachine/custody/pool"
	"poolmachine/custody/withdrawal"
	"poolmachine/poolmachine"
	"poolmachine/transfer"
)

type Machine struct {
	mutex       *deadlock.Mutex
	processing  poolmachine.BlockHeader
	Params      *params.Params
	Pools       *pool.Ledger
	Mirror      *oracle.Mirror
	Withdrawals *withdrawal.Engine
	Bank        *transfer.Bank
}

// NewMachine wires the custody components together. The emitter may be nil
// when no observer surface is wanted (tests mostly).
func NewMachine(conf *viper.Viper, emit poolmachine.Emitter) *Machine {
	m := &Machine{mutex: &deadlock.Mutex{}}
	height := m.Height
	m.Bank = transfer.NewBank()
	movers := transfer.NewRouter(m.Bank)
	m.Params = params.New(conf, emit, height)
	m.Pools = pool.NewLedger(m.Params, movers, emit, height)
	m.Mirror = oracle.NewMirror(m.Params, emit, height)
	m.Withdrawals = withdrawal.NewEngine(m.Params, m.Mirror, m.Pools, movers, emit, height)
	return m
}

// Start restores all component state from disk and arranges final snapshots on
// terminate. It blocks until every component is ready.
func (m *Machine) Start(terminate chan struct{}, wg *sync.WaitGroup) {
	m.Pools.Start(terminate, wg)
	m.Mirror.Start(terminate, wg)
	m.Withdrawals.Start(terminate, wg)
	poolmachine.LogCLI("Custody machine has started", 4)
}

// ProcessBlock advances the machine's clock. Nothing fires on its own: blocks
// only move the height that time-gated operations compare against, and give us
// a place to validate the conservation invariant.
func (m *Machine) ProcessBlock(bh poolmachine.BlockHeader) {
	m.mutex.Lock()
	if bh.Height <= m.processing.Height {
		m.mutex.Unlock()
		poolmachine.LogCLI(fmt.Sprintf("ignoring stale block %d at height %d", bh.Height, m.processing.Height), 2)
		return
	}
	m.processing = bh
	m.mutex.Unlock()
	if !m.Pools.NewBlock() {
		poolmachine.LogCLI("custody ledger failed invariant validation", 0)
	}
}

func (m *Machine) Height() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.processing.Height
}

func (m *Machine) Processing() poolmachine.BlockHeader {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.processing
}
