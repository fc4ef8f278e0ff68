// Package transfer is the asset-movement capability the custody components
// invoke. The Mover interface isolates the custody mechanism from the
// authorization logic; a Router selects the native or fungible variant from the
// pool's declared asset tag.
package transfer

import (
	"poolmachine/poolmachine"
)

// Mover moves an amount of one asset into or out of custody. Implementations
// must be all-or-nothing: a returned error means no balance changed hands.
type Mover interface {
	MoveIn(from poolmachine.Account, amount int64, asset poolmachine.Asset) error
	MoveOut(to poolmachine.Account, amount int64, asset poolmachine.Asset) error
}

type nativeMover struct {
	bank *Bank
}

func (m *nativeMover) MoveIn(from poolmachine.Account, amount int64, asset poolmachine.Asset) error {
	if asset.Kind != poolmachine.AssetNative {
		return poolmachine.E(poolmachine.CodeInvalidInput, "transfer.MoveIn", "native mover called with "+asset.String())
	}
	return m.bank.moveIn(from, amount, asset)
}

func (m *nativeMover) MoveOut(to poolmachine.Account, amount int64, asset poolmachine.Asset) error {
	if asset.Kind != poolmachine.AssetNative {
		return poolmachine.E(poolmachine.CodeInvalidInput, "transfer.MoveOut", "native mover called with "+asset.String())
	}
	return m.bank.moveOut(to, amount, asset)
}

type fungibleMover struct {
	bank *Bank
}

func (m *fungibleMover) MoveIn(from poolmachine.Account, amount int64, asset poolmachine.Asset) error {
	if asset.Kind != poolmachine.AssetFungible || len(asset.ID) == 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "transfer.MoveIn", "fungible mover needs an asset id")
	}
	return m.bank.moveIn(from, amount, asset)
}

func (m *fungibleMover) MoveOut(to poolmachine.Account, amount int64, asset poolmachine.Asset) error {
	if asset.Kind != poolmachine.AssetFungible || len(asset.ID) == 0 {
		return poolmachine.E(poolmachine.CodeInvalidInput, "transfer.MoveOut", "fungible mover needs an asset id")
	}
	return m.bank.moveOut(to, amount, asset)
}

// Router picks the Mover for a pool's declared asset tag.
type Router struct {
	native   Mover
	fungible Mover
}

func NewRouter(bank *Bank) *Router {
	return &Router{
		native:   &nativeMover{bank: bank},
		fungible: &fungibleMover{bank: bank},
	}
}

func (r *Router) For(asset poolmachine.Asset) (Mover, error) {
	switch asset.Kind {
	case poolmachine.AssetNative:
		return r.native, nil
	case poolmachine.AssetFungible:
		return r.fungible, nil
	}
	return nil, poolmachine.E(poolmachine.CodeInvalidInput, "transfer.For", "unknown asset kind "+asset.Kind)
}

func (r *Router) MoveIn(from poolmachine.Account, amount int64, asset poolmachine.Asset) error {
	m, err := r.For(asset)
	if err != nil {
		return err
	}
	return m.MoveIn(from, amount, asset)
}

func (r *Router) MoveOut(to poolmachine.Account, amount int64, asset poolmachine.Asset) error {
	m, err := r.For(asset)
	if err != nil {
		return err
	}
	return m.MoveOut(to, amount, asset)
}
