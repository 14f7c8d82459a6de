package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/risk"
)

// WriteTradesToCSV writes completed trades to a CSV file, one row per trade.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{
		"id", "position_id", "bot_id", "symbol", "side",
		"entry_price", "exit_price", "quantity", "leverage",
		"pnl", "entry_time", "exit_time", "close_reason",
	})

	for _, t := range trades {
		writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			strconv.FormatInt(t.PositionID, 10),
			strconv.FormatInt(t.BotID, 10),
			t.Symbol,
			string(t.Side),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Quantity),
			strconv.Itoa(t.Leverage),
			formatFloat(t.PNL),
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			string(t.CloseReason),
		})
	}
	return writer.Error()
}

// WriteMetricsToCSV writes a performance metric summary as key/value rows,
// followed by the equity curve.
func WriteMetricsToCSV(m *risk.Metrics, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"metric", "value"})
	rows := [][2]string{
		{"total_trades", strconv.Itoa(m.TotalTrades)},
		{"winning_trades", strconv.Itoa(m.WinningTrades)},
		{"losing_trades", strconv.Itoa(m.LosingTrades)},
		{"win_rate", formatFloat(m.WinRate)},
		{"total_profit", formatFloat(m.TotalProfit)},
		{"average_win", formatFloat(m.AverageWin)},
		{"average_loss", formatFloat(m.AverageLoss)},
		{"profit_factor", formatFloat(m.ProfitFactor)},
		{"expectancy", formatFloat(m.Expectancy)},
		{"sharpe_ratio", formatFloat(m.SharpeRatio)},
		{"max_drawdown", formatFloat(m.MaxDrawdown)},
		{"final_balance", formatFloat(m.FinalBalance)},
		{"roi", formatFloat(m.ROI)},
		{"max_consecutive_wins", strconv.Itoa(m.MaxConsecutiveWins)},
		{"max_consecutive_losses", strconv.Itoa(m.MaxConsecutiveLosses)},
		{"average_trade_duration", m.AverageTradeDuration.String()},
	}
	for _, row := range rows {
		writer.Write([]string{row[0], row[1]})
	}

	// Blank separator, then the equity curve.
	writer.Write([]string{})
	writer.Write([]string{"exit_time", "balance", "drawdown"})
	for _, p := range m.EquityCurve {
		writer.Write([]string{
			p.Time.Format(time.RFC3339),
			formatFloat(p.Balance),
			formatFloat(p.Drawdown),
		})
	}
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReportFilename builds a timestamped filename for an export.
func ReportFilename(dir, prefix string, now time.Time) string {
	return fmt.Sprintf("%s/%s_%s.csv", dir, prefix, now.Format("20060102_150405"))
}
