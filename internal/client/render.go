package client

import (
	"io"
	"time"

	"klinerelay/internal/market"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
)

// ChangePercent 返回 (close-open)/open*100，保留两位小数；open 为 0 时返回 0。
func ChangePercent(c market.Candle) decimal.Decimal {
	open := decimal.NewFromFloat(c.Open)
	if open.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(c.Close).Sub(open).Div(open).Mul(decimal.NewFromInt(100)).Round(2)
}

// RenderTable writes the newest rows candles as a table, oldest first.
func RenderTable(w io.Writer, title string, candles []market.Candle, rows int) {
	if rows > 0 && len(candles) > rows {
		candles = candles[len(candles)-rows:]
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(table.Row{"Time (UTC)", "Open", "High", "Low", "Close", "Volume", "Change %"})
	for _, c := range candles {
		vol := "-"
		if c.Volume != nil {
			vol = decimal.NewFromFloat(*c.Volume).StringFixed(4)
		}
		t.AppendRow(table.Row{
			time.Unix(c.Time, 0).UTC().Format("2006-01-02 15:04"),
			decimal.NewFromFloat(c.Open).String(),
			decimal.NewFromFloat(c.High).String(),
			decimal.NewFromFloat(c.Low).String(),
			decimal.NewFromFloat(c.Close).String(),
			vol,
			ChangePercent(c).StringFixed(2),
		})
	}
	t.Render()
}
