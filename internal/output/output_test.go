package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/ledger"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleRows() []LimitRow {
	return []LimitRow{
		{Identity: "fp:alpha", Entry: core.LimitEntry{EligibleAt: now.Add(30 * time.Minute)}},
		{Identity: "ip:192.0.2.1", Entry: core.LimitEntry{EligibleAt: now.Add(time.Minute), Pending: true, ReservationID: "r-1"}},
		{Identity: "fp:old", Entry: core.LimitEntry{EligibleAt: now.Add(-time.Minute)}},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)

	require.Equal(t, "json", FormatJSON.Extension())
	require.Equal(t, "md", FormatMarkdown.Extension())
	require.Equal(t, "txt", FormatTable.Extension())
}

func TestLimitsTable(t *testing.T) {
	rendered, err := Limits(FormatTable, sampleRows(), now)
	require.NoError(t, err)
	require.Contains(t, rendered, "fp:alpha")
	require.Contains(t, rendered, "pending")
	require.Contains(t, rendered, "expired")
	require.Contains(t, rendered, "30m0s")
}

func TestLimitsJSON(t *testing.T) {
	rendered, err := Limits(FormatJSON, sampleRows(), now)
	require.NoError(t, err)

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &items))
	require.Len(t, items, 3)
	require.Equal(t, "fp:alpha", items[0]["identity"])
	require.Equal(t, true, items[0]["active"])
	require.Equal(t, "r-1", items[1]["reservation_id"])
	require.Equal(t, false, items[2]["active"])
}

func TestPayoutsMarkdown(t *testing.T) {
	stats := core.Stats{TotalPaidOut: decimal.RequireFromString("200"), Payouts: 2}
	recent := []core.Payout{
		{TxID: "tx-b", Address: "taddr2", Amount: decimal.RequireFromString("100"), At: now},
		{TxID: "tx-a", Address: "taddr1", Amount: decimal.RequireFromString("100"), At: now.Add(-time.Hour)},
	}

	rendered, err := Payouts(FormatMarkdown, stats, recent)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(strings.TrimSpace(rendered), "|"))
	require.Contains(t, rendered, "tx-b")
	require.Contains(t, rendered, "2 payouts")
}

func TestPayoutsJSONKeepsExactTotal(t *testing.T) {
	stats := core.Stats{TotalPaidOut: decimal.RequireFromString("0.30000000"), Payouts: 3}

	rendered, err := Payouts(FormatJSON, stats, nil)
	require.NoError(t, err)
	require.Contains(t, rendered, `"total_paid_out": "0.3"`)
	require.Contains(t, rendered, `"payouts": 3`)
}

func TestTransactionsTable(t *testing.T) {
	txs := []ledger.Transaction{
		{Address: "taddr", Category: "send", Amount: decimal.RequireFromString("-100"), TxID: "tx-1", Confirmations: 3, Time: now.Unix()},
	}

	rendered, err := Transactions(FormatTable, txs)
	require.NoError(t, err)
	require.Contains(t, rendered, "tx-1")
	require.Contains(t, rendered, "send")
	require.Contains(t, rendered, now.Format(time.RFC3339))
}
