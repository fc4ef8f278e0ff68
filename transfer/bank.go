package transfer

import (
	"github.com/sasha-s/go-deadlock"

	"poolmachine/poolmachine"
)

type balanceKey struct {
	Asset   string
	Account poolmachine.Account
}

// Bank tracks account balances and the custody balance per asset. It is the
// in-process settlement layer behind both Mover variants.
type Bank struct {
	mutex    *deadlock.Mutex
	balances map[balanceKey]int64
	custody  map[string]int64
}

func NewBank() *Bank {
	return &Bank{
		mutex:    &deadlock.Mutex{},
		balances: make(map[balanceKey]int64),
		custody:  make(map[string]int64),
	}
}

// Mint credits an account out of thin air. Only the process bootstrap and tests
// have any business calling this.
func (b *Bank) Mint(account poolmachine.Account, amount int64, asset poolmachine.Asset) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.balances[balanceKey{Asset: asset.String(), Account: account}] += amount
}

func (b *Bank) BalanceOf(account poolmachine.Account, asset poolmachine.Asset) int64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.balances[balanceKey{Asset: asset.String(), Account: account}]
}

func (b *Bank) CustodyBalance(asset poolmachine.Asset) int64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.custody[asset.String()]
}

func (b *Bank) moveIn(from poolmachine.Account, amount int64, asset poolmachine.Asset) error {
	if amount <= 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "bank.moveIn", "amount must be positive")
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	key := balanceKey{Asset: asset.String(), Account: from}
	if b.balances[key] < amount {
		return poolmachine.E(poolmachine.CodeInsufficientFunds, "bank.moveIn", from+" cannot cover "+asset.String())
	}
	b.balances[key] -= amount
	b.custody[asset.String()] += amount
	return nil
}

func (b *Bank) moveOut(to poolmachine.Account, amount int64, asset poolmachine.Asset) error {
	if amount <= 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "bank.moveOut", "amount must be positive")
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.custody[asset.String()] < amount {
		return poolmachine.E(poolmachine.CodeInsufficientFunds, "bank.moveOut", "custody cannot cover "+asset.String())
	}
	b.custody[asset.String()] -= amount
	b.balances[balanceKey{Asset: asset.String(), Account: to}] += amount
	return nil
}
