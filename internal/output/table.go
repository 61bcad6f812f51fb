package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/ledger"
)

// LimitRow is one limiter entry as shown to operators.
type LimitRow struct {
	Identity string
	Entry    core.LimitEntry
}

// Limits renders limiter entries. now decides which entries are still active.
func Limits(format Format, rows []LimitRow, now time.Time) (string, error) {
	if format == FormatJSON {
		return limitsJSON(rows, now)
	}

	t := newTable()
	t.AppendHeader(table.Row{"Identity", "Eligible At", "State", "Remaining"})
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.Identity,
			row.Entry.EligibleAt.UTC().Format(time.RFC3339),
			limitState(row.Entry, now),
			remaining(row.Entry.EligibleAt, now),
		})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(rows)})
	return render(t, format), nil
}

// Payouts renders the payout totals followed by the most recent payouts.
func Payouts(format Format, stats core.Stats, recent []core.Payout) (string, error) {
	if format == FormatJSON {
		return payoutsJSON(stats, recent)
	}

	t := newTable()
	t.AppendHeader(table.Row{"Paid At", "TxID", "Address", "Amount"})
	for _, p := range recent {
		t.AppendRow(table.Row{
			p.At.UTC().Format(time.RFC3339),
			p.TxID,
			p.Address,
			p.Amount.String(),
		})
	}
	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d payouts", stats.Payouts),
		"Total",
		stats.TotalPaidOut.String(),
	})
	return render(t, format), nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func render(t table.Writer, format Format) string {
	if format == FormatMarkdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func limitState(entry core.LimitEntry, now time.Time) string {
	switch {
	case entry.Expired(now):
		return "expired"
	case entry.Pending:
		return "pending"
	default:
		return "active"
	}
}

func remaining(eligibleAt, now time.Time) string {
	if !now.Before(eligibleAt) {
		return "-"
	}
	return eligibleAt.Sub(now).Truncate(time.Second).String()
}

// Transactions renders wallet history rows from the ledger node.
func Transactions(format Format, txs []ledger.Transaction) (string, error) {
	if format == FormatJSON {
		return JSON(txs)
	}

	t := newTable()
	t.AppendHeader(table.Row{"Time", "Category", "Address", "Amount", "Confirmations", "TxID"})
	for _, tx := range txs {
		when := "-"
		if tx.Time > 0 {
			when = time.Unix(tx.Time, 0).UTC().Format(time.RFC3339)
		}
		t.AppendRow(table.Row{when, tx.Category, tx.Address, tx.Amount.String(), tx.Confirmations, tx.TxID})
	}
	return render(t, format), nil
}
