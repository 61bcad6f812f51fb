package payout

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/ledger"
)

type stubNode struct {
	valid       bool
	validateErr error
	sendErr     error
	sends       []decimal.Decimal
}

func (s *stubNode) ValidateAddress(ctx context.Context, address string) (ledger.AddressInfo, error) {
	return ledger.AddressInfo{IsValid: s.valid, Address: address}, s.validateErr
}

func (s *stubNode) SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sends = append(s.sends, amount)
	return "tx-" + address, nil
}

func TestNewRejectsNonPositiveAmount(t *testing.T) {
	_, err := New(&stubNode{}, decimal.Zero)
	require.Error(t, err)

	_, err = New(nil, decimal.NewFromInt(1))
	require.Error(t, err)
}

func TestDispatchSendsConfiguredAmount(t *testing.T) {
	node := &stubNode{valid: true}
	d, err := New(node, decimal.NewFromInt(100))
	require.NoError(t, err)

	txid, err := d.Dispatch(context.Background(), "TAddr")
	require.NoError(t, err)
	assert.Equal(t, "tx-TAddr", txid)
	require.Len(t, node.sends, 1)
	assert.True(t, node.sends[0].Equal(decimal.NewFromInt(100)))
}

func TestDispatchInvalidAddressNeverSends(t *testing.T) {
	node := &stubNode{valid: false}
	d, err := New(node, decimal.NewFromInt(100))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrInvalidAddress)
	assert.Empty(t, node.sends)
}

func TestDispatchNodeFailures(t *testing.T) {
	t.Run("ValidateFails", func(t *testing.T) {
		node := &stubNode{validateErr: errors.New("connection refused")}
		d, _ := New(node, decimal.NewFromInt(1))

		_, err := d.Dispatch(context.Background(), "TAddr")
		var dispatchErr *core.DispatchError
		require.ErrorAs(t, err, &dispatchErr)
		assert.Equal(t, "validateaddress", dispatchErr.Op)
		assert.ErrorIs(t, err, core.ErrDispatchFailed)
		assert.NotErrorIs(t, err, core.ErrInvalidAddress)
	})

	t.Run("SendFails", func(t *testing.T) {
		node := &stubNode{valid: true, sendErr: &ledger.RPCError{Code: -6, Message: "Insufficient funds"}}
		d, _ := New(node, decimal.NewFromInt(1))

		_, err := d.Dispatch(context.Background(), "TAddr")
		var dispatchErr *core.DispatchError
		require.ErrorAs(t, err, &dispatchErr)
		assert.Equal(t, "sendtoaddress", dispatchErr.Op)
		assert.Equal(t, "Insufficient funds", dispatchErr.NodeMessage)

		var rpcErr *ledger.RPCError
		assert.ErrorAs(t, err, &rpcErr)
	})
}
