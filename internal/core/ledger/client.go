// Package ledger is a JSON-RPC 1.0 client for a bitcoind-style wallet node.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultTimeout = 30 * time.Second
	requestID      = "spigot-faucet"

	maxResponseBytes = 4 << 20
)

// Client calls wallet node RPC methods over HTTP with basic auth.
type Client struct {
	Client   *http.Client
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Message extracts the node's own message from err when it carries one.
func Message(err error) string {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     any             `json:"id"`
}

// AddressInfo is the subset of validateaddress output the faucet relies on.
type AddressInfo struct {
	IsValid bool   `json:"isvalid"`
	Address string `json:"address,omitempty"`
}

// Transaction is one wallet history row from listtransactions.
type Transaction struct {
	Address       string          `json:"address"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	TxID          string          `json:"txid"`
	Confirmations int64           `json:"confirmations"`
	Time          int64           `json:"time"`
}

// Call invokes method and decodes the result into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if c == nil || strings.TrimSpace(c.URL) == "" {
		return errors.New("ledger client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if params == nil {
		params = []any{}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: requestID, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.User != "" || c.Password != "" {
		req.SetBasicAuth(c.User, c.Password)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	// bitcoind answers RPC errors with a 500 and a regular envelope.
	var envelope rpcResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: node returned status %d", method, resp.StatusCode)
		}
		return fmt.Errorf("%s: malformed response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: node returned status %d", method, resp.StatusCode)
	}

	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// ValidateAddress asks the node whether address is well formed for its chain.
func (c *Client) ValidateAddress(ctx context.Context, address string) (AddressInfo, error) {
	var info AddressInfo
	err := c.Call(ctx, "validateaddress", []any{address}, &info)
	return info, err
}

// SendToAddress transfers amount to address and returns the transaction id.
func (c *Client) SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	var txid string
	if err := c.Call(ctx, "sendtoaddress", []any{address, json.Number(amount.String())}, &txid); err != nil {
		return "", err
	}
	if txid == "" {
		return "", errors.New("sendtoaddress: node returned empty txid")
	}
	return txid, nil
}

// GetBalance returns the wallet's spendable balance.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := c.Call(ctx, "getbalance", nil, &balance)
	return balance, err
}

// GetReceivedByAddress returns the total ever received by address.
func (c *Client) GetReceivedByAddress(ctx context.Context, address string) (decimal.Decimal, error) {
	var received decimal.Decimal
	err := c.Call(ctx, "getreceivedbyaddress", []any{address}, &received)
	return received, err
}

// ListTransactions returns up to count of the most recent wallet transactions.
func (c *Client) ListTransactions(ctx context.Context, count int) ([]Transaction, error) {
	if count <= 0 {
		count = 10
	}
	var txs []Transaction
	err := c.Call(ctx, "listtransactions", []any{"*", count}, &txs)
	return txs, err
}

// Ping verifies the node is reachable and the credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, "getblockcount", nil, nil)
}

func (c *Client) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: DefaultTimeout}
}
