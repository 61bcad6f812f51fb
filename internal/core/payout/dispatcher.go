// Package payout validates destinations and submits faucet transfers.
package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/ledger"
)

// Node is the subset of the wallet node the dispatcher needs.
type Node interface {
	ValidateAddress(ctx context.Context, address string) (ledger.AddressInfo, error)
	SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error)
}

// Dispatcher sends the configured amount to a validated address. The amount is
// server-held and never comes from the claimant.
type Dispatcher struct {
	Node   Node
	Amount decimal.Decimal
}

// New builds a dispatcher, rejecting non-positive amounts.
func New(node Node, amount decimal.Decimal) (*Dispatcher, error) {
	if node == nil {
		return nil, errors.New("ledger node is required")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("payout amount must be positive, got %s", amount.String())
	}
	return &Dispatcher{Node: node, Amount: amount}, nil
}

// Dispatch validates address and submits exactly one transfer. It never retries:
// a lost response does not prove the transfer failed.
func (d *Dispatcher) Dispatch(ctx context.Context, address string) (string, error) {
	if d == nil || d.Node == nil {
		return "", &core.DispatchError{Op: "dispatch", NodeMessage: "dispatcher is not configured"}
	}

	info, err := d.Node.ValidateAddress(ctx, address)
	if err != nil {
		return "", &core.DispatchError{Op: "validateaddress", NodeMessage: ledger.Message(err), Err: err}
	}
	if !info.IsValid {
		return "", core.ErrInvalidAddress
	}

	txid, err := d.Node.SendToAddress(ctx, address, d.Amount)
	if err != nil {
		return "", &core.DispatchError{Op: "sendtoaddress", NodeMessage: ledger.Message(err), Err: err}
	}

	return txid, nil
}

// PayoutAmount is the per-claim amount.
func (d *Dispatcher) PayoutAmount() decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return d.Amount
}
