// backend/src/metrics/metrics.go
package metrics

import "github.com/username/ledgerfolio/backend/src/models"

// Summary is the aggregate view over a finite set of completed trades.
// Summarize is a pure function: no I/O, no mutation of engine state.
type Summary struct {
	TradeCount     int            `json:"trade_count"`
	WinCount       int            `json:"win_count"`
	LossCount      int            `json:"loss_count"`
	BreakevenCount int            `json:"breakeven_count"`
	WinAmount      float64        `json:"win_amount"`
	LossAmount     float64        `json:"loss_amount"` // negative
	WinRate        float64        `json:"win_rate"`    // 0..1
	AvgWin         float64        `json:"avg_win"`
	AvgLoss        float64        `json:"avg_loss"` // negative
	RiskReward     float64        `json:"risk_reward"`
	TotalPnL       float64        `json:"total_pnl"`
	ReturnBuckets  map[string]int `json:"return_buckets"`
	AvgDaysHeld    float64        `json:"avg_days_held"`
}

// bucketEdges are upper bounds (exclusive) on pnl_percent; the last bucket is
// open-ended.
var bucketEdges = []struct {
	label string
	upper float64
}{
	{"<-20%", -20},
	{"-20%..-10%", -10},
	{"-10%..-5%", -5},
	{"-5%..0%", 0},
	{"0%..5%", 5},
	{"5%..10%", 10},
	{"10%..20%", 20},
}

const topBucket = ">=20%"

// Summarize derives win/loss, P&L and duration statistics from completed
// trades. Breakeven trades (pnl == 0) count against the win rate but sit in
// their own bucket, so they never dilute the average loss.
func Summarize(trades []models.CompletedTrade) Summary {
	s := Summary{ReturnBuckets: make(map[string]int)}

	var daysTotal int
	for _, t := range trades {
		s.TradeCount++
		s.TotalPnL += t.PnLAmount
		daysTotal += t.DaysHeld

		switch {
		case t.PnLAmount > 0:
			s.WinCount++
			s.WinAmount += t.PnLAmount
		case t.PnLAmount < 0:
			s.LossCount++
			s.LossAmount += t.PnLAmount
		default:
			s.BreakevenCount++
		}

		s.ReturnBuckets[bucketFor(t.PnLPercent)]++
	}

	if s.TradeCount > 0 {
		s.WinRate = float64(s.WinCount) / float64(s.TradeCount)
		s.AvgDaysHeld = float64(daysTotal) / float64(s.TradeCount)
	}
	if s.WinCount > 0 {
		s.AvgWin = s.WinAmount / float64(s.WinCount)
	}
	if s.LossCount > 0 {
		s.AvgLoss = s.LossAmount / float64(s.LossCount)
	}
	if s.AvgLoss != 0 {
		s.RiskReward = s.AvgWin / -s.AvgLoss
	}
	return s
}

func bucketFor(pnlPercent float64) string {
	for _, edge := range bucketEdges {
		if pnlPercent < edge.upper {
			return edge.label
		}
	}
	return topBucket
}
